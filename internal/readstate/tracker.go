// Package readstate clears unread counters when a conversation is opened.
package readstate

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/convsync/internal/bus"
	"go.uber.org/zap"
)

// Store is the part of the backing store the tracker writes to.
type Store interface {
	MarkAsRead(ctx context.Context, conversationID string) error
}

// LocalCache receives the optimistic zeroing and the final invalidation.
type LocalCache interface {
	ZeroUnread(conversationID string) error
	InvalidateConversations()
}

// Options tunes the backing-store retry.
type Options struct {
	// MaxElapsed bounds how long a single markAsRead is retried.
	MaxElapsed time.Duration
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// Tracker marks conversations read. The local counter drops to zero
// immediately; the backing store is updated in the background.
type Tracker struct {
	store  Store
	cache  LocalCache
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu       stdsync.Mutex
	inflight map[string]bool
	wg       stdsync.WaitGroup
}

// NewTracker creates a Tracker.
func NewTracker(s Store, c LocalCache, b *bus.Bus, logger *zap.Logger, opts Options) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = time.Minute
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	return &Tracker{
		store:    s,
		cache:    c,
		bus:      b,
		logger:   logger,
		opts:     opts,
		inflight: make(map[string]bool),
	}
}

// MarkRead zeroes the conversation's unread counter locally and schedules
// the backing-store update. Calling it again while an update is in flight,
// or on an already-read conversation, changes nothing.
func (t *Tracker) MarkRead(conversationID string) {
	if conversationID == "" {
		return
	}
	if err := t.cache.ZeroUnread(conversationID); err != nil {
		t.logger.Error("zero unread locally", zap.String("conversation", conversationID), zap.Error(err))
	}

	t.mu.Lock()
	if t.inflight[conversationID] {
		t.mu.Unlock()
		return
	}
	t.inflight[conversationID] = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.inflight, conversationID)
			t.mu.Unlock()
		}()
		t.push(conversationID)
	}()
}

// Wait blocks until all scheduled updates have finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) push(conversationID string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.InitialInterval
	b.MaxElapsedTime = t.opts.MaxElapsed

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.MaxElapsed+10*time.Second)
	defer cancel()

	op := func() error {
		return t.store.MarkAsRead(ctx, conversationID)
	}
	notify := func(err error, next time.Duration) {
		t.logger.Warn("mark read failed, retrying",
			zap.String("conversation", conversationID),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		t.logger.Warn("mark read gave up; counter will resync on next refresh",
			zap.String("conversation", conversationID), zap.Error(err))
		t.cache.InvalidateConversations()
		return
	}
	t.cache.InvalidateConversations()
	t.bus.Emit(bus.ConversationRead, conversationID, nil)
}
