// Package core wires the sync components behind the contract a rendering
// surface consumes: summaries, the active thread, pending count,
// connectivity and the send, read and select operations.
package core

import (
	"context"
	"errors"
	"strings"
	stdsync "sync"
	"time"

	"github.com/matheus3301/convsync/internal/auth"
	"github.com/matheus3301/convsync/internal/backend"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/chatlist"
	"github.com/matheus3301/convsync/internal/config"
	"github.com/matheus3301/convsync/internal/outbox"
	"github.com/matheus3301/convsync/internal/readstate"
	"github.com/matheus3301/convsync/internal/realtime"
	"github.com/matheus3301/convsync/internal/status"
	"github.com/matheus3301/convsync/internal/store"
	intsync "github.com/matheus3301/convsync/internal/sync"
	"github.com/matheus3301/convsync/internal/viewmodel"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrNoConversation   = errors.New("no conversation given")
	ErrNotAuthenticated = errors.New("no credential available")
)

// Deps are the collaborators a Core is built from.
type Deps struct {
	Backend     backend.Backend
	Dialer      realtime.Dialer
	DB          *store.DB
	Bus         *bus.Bus
	Logger      *zap.Logger
	Credentials auth.Source
	Config      *config.Config
	// Now overrides the clock used for humanized timestamps.
	Now func() time.Time
}

// View is a consistent snapshot of everything the surface renders.
type View struct {
	Summaries    []chat.ChatSummary     `json:"summaries"`
	ActiveID     string                 `json:"activeId"`
	Messages     []chat.DisplayMessage  `json:"messages"`
	PendingCount int                    `json:"pendingCount"`
	Connected    bool                   `json:"connected"`
	State        status.State           `json:"state"`
	LocalUserID  string                 `json:"localUserId"`
	Failed       []outbox.FailedMessage `json:"failed,omitempty"`
}

// Core owns one instance of every sync component.
type Core struct {
	bus     *bus.Bus
	logger  *zap.Logger
	cfg     *config.Config
	now     func() time.Time
	layouts chatlist.Layouts
	loc     *time.Location

	manager *realtime.Manager
	queue   *outbox.Queue
	cache   *intsync.Cache
	engine  *intsync.Engine
	thread  *viewmodel.Thread
	tracker *readstate.Tracker
	watcher *auth.Watcher

	mu        stdsync.RWMutex
	cred      auth.Credential
	credSeen  bool
	lastUser  string
	active    string
	summaries []chat.ChatSummary

	// dialMu orders channel updates so the last one applied always
	// reflects the latest credential and selection together.
	dialMu stdsync.Mutex

	dirtyMu   stdsync.Mutex
	listDirty bool
	msgDirty  bool
	kick      chan struct{}

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New assembles a Core. Nothing runs until Start.
func New(d Deps) *Core {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := d.Bus
	if b == nil {
		b = bus.New()
	}
	cfg := d.Config
	if cfg == nil {
		def := config.Defaults()
		cfg = &def
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	c := &Core{
		bus:    b,
		logger: logger,
		cfg:    cfg,
		now:    now,
		layouts: chatlist.Layouts{
			Time: cfg.Display.TimeLayout,
			Date: cfg.Display.DateLayout,
		},
		loc:  cfg.Location(),
		kick: make(chan struct{}, 1),
	}

	c.manager = realtime.NewManager(d.Dialer, realtime.Options{
		ConnectTimeout: cfg.Realtime.ConnectTimeout.Duration,
		SendTimeout:    cfg.Realtime.SendTimeout.Duration,
		BackoffFloor:   cfg.Realtime.BackoffFloor.Duration,
		BackoffMax:     cfg.Realtime.BackoffMax.Duration,
	}, b, logger.Named("realtime"))
	c.queue = outbox.New(c.manager, d.DB, b, logger.Named("outbox"), outbox.Options{
		MaxAttempts:   cfg.Outbox.MaxAttempts,
		FlushInterval: cfg.Outbox.FlushInterval.Duration,
		FlushRate:     cfg.Outbox.FlushRate,
	})
	c.cache = intsync.NewCache(d.Backend, d.DB, b, logger.Named("cache"), 0)
	c.engine = intsync.NewEngine(c.cache, b, logger.Named("sync"), c.LocalUserID)
	c.thread = viewmodel.NewThread(c.queue)
	c.tracker = readstate.NewTracker(d.Backend, c.cache, b, logger.Named("readstate"), readstate.Options{})
	c.watcher = auth.NewWatcher(d.Credentials, cfg.Realtime.TokenPollInterval.Duration, logger.Named("auth"))
	return c
}

// Bus returns the event bus the components publish on.
func (c *Core) Bus() *bus.Bus {
	return c.bus
}

// Start restores the queue, resolves the first credential and starts the
// background loops. It returns once the initial state is applied; the
// first list fetch runs in the background.
func (c *Core) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.queue.Start(ctx); err != nil {
		c.cancel()
		return err
	}
	c.engine.Start(ctx)

	events, unsub := c.bus.Subscribe("", 256)
	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		defer unsub()
		c.consume(ctx, events)
	}()
	go func() {
		defer c.wg.Done()
		c.refreshLoop(ctx)
	}()

	cred, _ := c.watcher.Poll(ctx)
	c.applyCredential(cred)
	go func() {
		defer c.wg.Done()
		c.watcher.Run(ctx, c.applyCredential)
	}()
	return nil
}

// Stop closes the channel and waits for every loop to exit. Pending
// messages stay persisted for the next start.
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.engine.Stop()
	c.queue.Stop()
	c.manager.Close()
	c.tracker.Wait()
}

// LocalUserID returns the user the current credential identifies.
func (c *Core) LocalUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred.UserID
}

// ActiveID returns the selected conversation.
func (c *Core) ActiveID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Summaries returns the last built conversation list.
func (c *Core) Summaries() []chat.ChatSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chat.ChatSummary(nil), c.summaries...)
}

// ActiveMessages returns the merged display sequence of the selected conversation.
func (c *Core) ActiveMessages() []chat.DisplayMessage {
	return c.thread.Messages()
}

// PendingCount is the number of undelivered messages across all conversations.
func (c *Core) PendingCount() int {
	return c.queue.PendingCount()
}

// Connected reports the liveness of the real-time channel.
func (c *Core) Connected() bool {
	return c.manager.Connected()
}

// State returns the channel lifecycle state.
func (c *Core) State() status.State {
	return c.manager.State()
}

// Failed lists messages that exhausted their delivery attempts.
func (c *Core) Failed() []outbox.FailedMessage {
	return c.queue.Failed()
}

// Snapshot returns the full view in one call.
func (c *Core) Snapshot() View {
	c.mu.RLock()
	v := View{
		Summaries:   append([]chat.ChatSummary(nil), c.summaries...),
		ActiveID:    c.active,
		LocalUserID: c.cred.UserID,
	}
	c.mu.RUnlock()
	v.Messages = c.thread.Messages()
	v.PendingCount = c.queue.PendingCount()
	v.Connected = c.manager.Connected()
	v.State = c.manager.State()
	v.Failed = c.queue.Failed()
	return v
}

// SelectConversation makes id the active conversation: the channel is
// moved to it, its thread is loaded and it is marked read. Selecting ""
// clears the selection.
func (c *Core) SelectConversation(id string) {
	c.mu.Lock()
	changed := c.active != id
	c.active = id
	c.mu.Unlock()

	if changed {
		c.thread.Select(id)
		c.syncChannel()
	}
	if id != "" {
		c.tracker.MarkRead(id)
	}
	c.rebuildSummaries()
	c.requestRefresh(true, id != "")
	c.bus.Emit(bus.ViewChanged, id, nil)
}

// TrySend delivers content now when possible and queues it otherwise.
// The result reports immediate delivery; false means the message is
// pending and will be sent when the channel is back.
func (c *Core) TrySend(conversationID, content string) (bool, error) {
	if conversationID == "" {
		return false, ErrNoConversation
	}
	if strings.TrimSpace(content) == "" {
		return false, ErrEmptyMessage
	}
	delivered := c.queue.TrySend(conversationID, content)
	if delivered {
		c.cache.Invalidate(conversationID)
	}
	if conversationID == c.ActiveID() {
		c.thread.Recompute()
	}
	return delivered, nil
}

// MarkRead clears the unread counter of a conversation.
func (c *Core) MarkRead(conversationID string) {
	c.tracker.MarkRead(conversationID)
}

// CreateConversation starts a conversation with participantID.
func (c *Core) CreateConversation(ctx context.Context, participantID string) (chat.ConversationRecord, error) {
	if participantID == "" {
		return chat.ConversationRecord{}, errors.New("participant id is required")
	}
	c.mu.RLock()
	authed := c.cred.Present()
	c.mu.RUnlock()
	if !authed {
		return chat.ConversationRecord{}, ErrNotAuthenticated
	}
	return c.cache.CreateConversation(ctx, participantID)
}

// Reconnect cuts the reconnection wait short and nudges the queue.
func (c *Core) Reconnect() {
	c.manager.Reconnect()
	c.queue.Kick()
}

// RetryFailed re-queues a failed message.
func (c *Core) RetryFailed(clientID string) error {
	return c.queue.Retry(clientID)
}

// Refresh forces a refetch of the list and the active thread.
func (c *Core) Refresh() {
	c.cache.InvalidateConversations()
	if id := c.ActiveID(); id != "" {
		c.cache.Invalidate(id)
	}
}

func (c *Core) applyCredential(cred auth.Credential) {
	c.mu.Lock()
	same := c.credSeen && c.cred == cred
	c.cred = cred
	c.credSeen = true
	active := c.active
	prevUser := c.lastUser
	if cred.UserID != "" {
		c.lastUser = cred.UserID
	}
	c.mu.Unlock()
	if same {
		return
	}

	// Messages composed by one account must never go out under another.
	if prevUser != "" && cred.UserID != "" && cred.UserID != prevUser {
		c.logger.Warn("signed-in user changed, dropping pending messages",
			zap.String("from", prevUser),
			zap.String("to", cred.UserID),
			zap.Int("pending", c.queue.PendingCount()),
		)
		c.queue.Clear()
		c.thread.Recompute()
	}

	if cred.Present() {
		c.logger.Info("credential available", zap.String("user", cred.UserID))
	} else {
		c.logger.Warn("no credential; real-time channel disabled")
	}
	c.thread.SetLocalUser(cred.UserID)
	c.syncChannel()
	c.requestRefresh(true, active != "")
}

// syncChannel points the real-time channel at the current credential and
// active conversation. Both are read under dialMu, so concurrent callers
// cannot apply an older pair after a newer one.
func (c *Core) syncChannel() {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.RLock()
	p := realtime.DialParams{
		Token:          c.cred.Token,
		ConversationID: c.active,
		UserID:         c.cred.UserID,
	}
	c.mu.RUnlock()
	c.manager.Update(p)
}

func (c *Core) consume(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			c.handle(evt)
		}
	}
}

func (c *Core) handle(evt bus.Event) {
	active := c.ActiveID()
	switch evt.Kind {
	case bus.OutboxQueued, bus.OutboxFailed:
		if evt.ConversationID == active {
			c.thread.Recompute()
		}
		c.bus.Emit(bus.ViewChanged, evt.ConversationID, nil)
	case bus.OutboxDelivered:
		// The entry is already gone from the queue, so the refetch that
		// follows cannot show it twice.
		if evt.ConversationID == active {
			c.thread.Recompute()
		}
		c.cache.Invalidate(evt.ConversationID)
	case bus.CacheInvalidated:
		c.requestRefresh(true, evt.ConversationID != "" && evt.ConversationID == active)
	case bus.CacheRefreshed:
		// Keyed refreshes come from our own fetches; a conversation-scoped
		// one is a local write such as zeroing the unread counter.
		if evt.ConversationID != "" {
			c.requestRefresh(true, false)
		}
	case bus.ConnStateChanged:
		c.rebuildSummaries()
		c.bus.Emit(bus.ViewChanged, active, nil)
	case bus.ConnConnected:
		if evt.ConversationID != "" {
			c.cache.Invalidate(evt.ConversationID)
		}
	}
}

// requestRefresh marks work for the refresh loop. Requests coalesce.
func (c *Core) requestRefresh(list, messages bool) {
	c.dirtyMu.Lock()
	c.listDirty = c.listDirty || list
	c.msgDirty = c.msgDirty || messages
	c.dirtyMu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Core) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}

		c.dirtyMu.Lock()
		list, msgs := c.listDirty, c.msgDirty
		c.listDirty, c.msgDirty = false, false
		c.dirtyMu.Unlock()

		if msgs {
			c.refreshMessages(ctx)
		}
		if list {
			c.refreshList(ctx)
		}
	}
}

func (c *Core) refreshMessages(ctx context.Context) {
	conv := c.thread.ConversationID()
	if conv == "" {
		return
	}
	msgs, err := c.cache.Messages(ctx, conv)
	if err != nil {
		c.logger.Error("load messages", zap.String("conversation", conv), zap.Error(err))
		return
	}
	if c.thread.SetConfirmed(conv, msgs) {
		c.bus.Emit(bus.ViewChanged, conv, nil)
	}
}

func (c *Core) refreshList(ctx context.Context) {
	if _, err := c.cache.Conversations(ctx); err != nil {
		c.logger.Error("load conversations", zap.Error(err))
		return
	}
	if _, err := c.cache.Contacts(ctx); err != nil {
		c.logger.Error("load contacts", zap.Error(err))
	}
	c.rebuildSummaries()
	c.bus.Emit(bus.ViewChanged, c.ActiveID(), nil)
}

// rebuildSummaries projects the cached records without fetching.
func (c *Core) rebuildSummaries() {
	records, err := c.cache.CachedConversations()
	if err != nil {
		c.logger.Error("read cached conversations", zap.Error(err))
		return
	}
	contacts, err := c.cache.CachedContacts()
	if err != nil {
		c.logger.Error("read cached contacts", zap.Error(err))
	}

	c.mu.RLock()
	opts := chatlist.Options{
		LocalUserID:    c.cred.UserID,
		MaintenanceIDs: c.cache.MaintenanceIDs(),
		ActiveID:       c.active,
		Now:            c.now(),
		Location:       c.loc,
		Layouts:        c.layouts,
	}
	c.mu.RUnlock()

	summaries := chatlist.Build(records, contacts, c.manager.Connected(), opts)
	c.mu.Lock()
	c.summaries = summaries
	c.mu.Unlock()
}
