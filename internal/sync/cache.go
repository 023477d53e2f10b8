// Package sync is the read-through cache over the backing store and the
// engine that turns inbound pushes into cache invalidations.
package sync

import (
	"context"
	"fmt"
	"maps"
	stdsync "sync"
	"time"

	"github.com/matheus3301/convsync/internal/backend"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxAge is how long a checkpoint stays fresh without an explicit
// invalidation.
const DefaultMaxAge = 30 * time.Second

// Cache serves conversations, messages and contacts from SQLite and
// refetches from the backing store when a checkpoint is missing or old.
// A failed refetch serves the cached copy.
type Cache struct {
	be     backend.Backend
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	maxAge time.Duration
	now    func() time.Time

	group singleflight.Group

	mu          stdsync.RWMutex
	maintenance map[string]struct{}
}

// NewCache creates a Cache. maxAge <= 0 uses DefaultMaxAge.
func NewCache(be backend.Backend, db *store.DB, b *bus.Bus, logger *zap.Logger, maxAge time.Duration) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		be:          be,
		db:          db,
		bus:         b,
		logger:      logger,
		maxAge:      maxAge,
		now:         time.Now,
		maintenance: map[string]struct{}{},
	}
}

// Conversations returns the conversation list. A refresh also refreshes
// the maintenance-request id set.
func (c *Cache) Conversations(ctx context.Context) ([]chat.ConversationRecord, error) {
	return readThrough(ctx, c, store.KeyConversations,
		func(ctx context.Context) ([]chat.ConversationRecord, error) {
			records, err := c.be.FetchConversations(ctx)
			if err != nil {
				return nil, err
			}
			c.refreshMaintenance(ctx)
			return records, nil
		},
		c.db.ReplaceConversations,
		c.db.ListConversations,
	)
}

// Messages returns the confirmed history of one conversation.
func (c *Cache) Messages(ctx context.Context, conversationID string) ([]chat.ConfirmedMessage, error) {
	return readThrough(ctx, c, store.MessagesKey(conversationID),
		func(ctx context.Context) ([]chat.ConfirmedMessage, error) {
			return c.be.FetchMessages(ctx, conversationID)
		},
		func(msgs []chat.ConfirmedMessage) error { return c.db.ReplaceMessages(conversationID, msgs) },
		func() ([]chat.ConfirmedMessage, error) { return c.db.ListMessages(conversationID) },
	)
}

// Contacts returns the contact directory.
func (c *Cache) Contacts(ctx context.Context) ([]chat.ContactEntry, error) {
	return readThrough(ctx, c, store.KeyContacts,
		c.be.FetchContacts,
		c.db.ReplaceContacts,
		c.db.ListContacts,
	)
}

// CachedConversations returns the local copy of the list without refetching.
func (c *Cache) CachedConversations() ([]chat.ConversationRecord, error) {
	return c.db.ListConversations()
}

// CachedContacts returns the local copy of the directory without refetching.
func (c *Cache) CachedContacts() ([]chat.ContactEntry, error) {
	return c.db.ListContacts()
}

// MaintenanceIDs returns a copy of the last known maintenance-request ids.
func (c *Cache) MaintenanceIDs() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.maintenance)
}

// Invalidate marks a conversation's history and the conversation list stale.
func (c *Cache) Invalidate(conversationID string) {
	if err := c.db.ClearSynced(store.MessagesKey(conversationID)); err != nil {
		c.logger.Error("invalidate messages", zap.String("conversation", conversationID), zap.Error(err))
	}
	if err := c.db.ClearSynced(store.KeyConversations); err != nil {
		c.logger.Error("invalidate conversations", zap.Error(err))
	}
	c.bus.Emit(bus.CacheInvalidated, conversationID, nil)
}

// InvalidateConversations marks only the conversation list stale.
func (c *Cache) InvalidateConversations() {
	if err := c.db.ClearSynced(store.KeyConversations); err != nil {
		c.logger.Error("invalidate conversations", zap.Error(err))
	}
	c.bus.Emit(bus.CacheInvalidated, "", nil)
}

// ZeroUnread clears the cached unread counter of a conversation ahead of
// the backing store.
func (c *Cache) ZeroUnread(conversationID string) error {
	if err := c.db.ZeroUnread(conversationID); err != nil {
		return fmt.Errorf("zero unread: %w", err)
	}
	c.bus.Emit(bus.CacheRefreshed, conversationID, nil)
	return nil
}

// CreateConversation starts a conversation with participantID and marks the
// list stale so the next read includes it.
func (c *Cache) CreateConversation(ctx context.Context, participantID string) (chat.ConversationRecord, error) {
	rec, err := c.be.CreateConversation(ctx, participantID)
	if err != nil {
		return chat.ConversationRecord{}, fmt.Errorf("create conversation: %w", err)
	}
	c.InvalidateConversations()
	return rec, nil
}

func (c *Cache) fresh(key string) bool {
	at, ok, err := c.db.SyncedAt(key)
	if err != nil {
		c.logger.Error("read checkpoint", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok && c.now().Sub(at) < c.maxAge
}

func (c *Cache) refreshMaintenance(ctx context.Context) {
	ids, err := c.be.MaintenanceRequestIDs(ctx)
	if err != nil {
		c.logger.Warn("maintenance ids fetch failed, keeping previous set", zap.Error(err))
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	c.mu.Lock()
	c.maintenance = set
	c.mu.Unlock()
}

// readThrough serves key from the local copy when fresh; otherwise one
// caller per key fetches, stores and checkpoints while the rest wait for
// its result.
func readThrough[T any](
	ctx context.Context,
	c *Cache,
	key string,
	fetch func(context.Context) ([]T, error),
	save func([]T) error,
	load func() ([]T, error),
) ([]T, error) {
	if c.fresh(key) {
		return load()
	}

	_, err, _ := c.group.Do(key, func() (any, error) {
		items, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := save(items); err != nil {
			return nil, fmt.Errorf("store %s: %w", key, err)
		}
		if err := c.db.MarkSynced(key, c.now()); err != nil {
			c.logger.Error("write checkpoint", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	})
	if err != nil {
		c.logger.Warn("refresh failed, serving cached copy", zap.String("key", key), zap.Error(err))
	} else {
		c.bus.Emit(bus.CacheRefreshed, "", key)
	}
	return load()
}
