// Package outbox buffers messages that could not be delivered over the
// real-time channel and replays them when connectivity returns.
package outbox

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientIDPrefix marks identifiers generated locally for pending messages.
const ClientIDPrefix = "local-"

const errNotDelivered = "channel rejected the message"

// ErrNotFound is returned by Retry for an unknown or non-failed entry.
var ErrNotFound = errors.New("no failed message with that id")

// Transport is the raw send primitive the queue wraps.
type Transport interface {
	Connected() bool
	Send(conversationID, content string) bool
}

// Options tunes retry behaviour.
type Options struct {
	// MaxAttempts moves an entry to the failed state after that many
	// rejected flush attempts. Zero retries forever.
	MaxAttempts int
	// FlushInterval re-runs the sweep while connected and non-empty.
	FlushInterval time.Duration
	// FlushRate caps deliveries per second during a sweep. Zero is unlimited.
	FlushRate float64
}

// FailedMessage is a pending message that exhausted its attempts.
type FailedMessage struct {
	chat.PendingMessage
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type entry struct {
	msg      chat.PendingMessage
	attempts int
	failed   bool
	inflight bool
	lastErr  string
}

// Queue is the single owner of pending messages. All mutation goes through
// its lock.
type Queue struct {
	tr      Transport
	db      *store.DB
	bus     *bus.Bus
	log     *zap.Logger
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	entries  []*entry
	flushing bool
	again    bool

	// sendMu is held across a sweep's presence check and its send, and
	// by Clear, so nothing dropped by Clear goes out after Clear returns.
	sendMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue. db may be nil for a memory-only queue.
func New(tr Transport, db *store.DB, b *bus.Bus, log *zap.Logger, opts Options) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	limit := rate.Inf
	if opts.FlushRate > 0 {
		limit = rate.Limit(opts.FlushRate)
	}
	return &Queue{
		tr:      tr,
		db:      db,
		bus:     b,
		log:     log,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// TrySend delivers immediately when the channel is up and the conversation
// has nothing queued ahead of this message. Otherwise the message is
// queued and TrySend returns false. A message queued only because older
// ones are ahead of it starts a flush when the channel is up.
func (q *Queue) TrySend(conversationID, content string) bool {
	q.mu.Lock()
	behind := q.hasPendingLocked(conversationID)
	q.mu.Unlock()

	if !behind && q.tr.Connected() && q.tr.Send(conversationID, content) {
		return true
	}
	q.enqueue(conversationID, content)
	if behind && q.tr.Connected() {
		q.Kick()
	}
	return false
}

// PendingCount returns the number of undelivered, non-failed messages
// across all conversations.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if !e.failed {
			n++
		}
	}
	return n
}

// PendingFor yields the pending messages of one conversation in enqueue
// order. Each range takes a fresh snapshot, so the sequence can be
// iterated again after the queue changes.
func (q *Queue) PendingFor(conversationID string) iter.Seq[chat.PendingMessage] {
	return func(yield func(chat.PendingMessage) bool) {
		q.mu.Lock()
		var snap []chat.PendingMessage
		for _, e := range q.entries {
			if !e.failed && e.msg.ConversationID == conversationID {
				snap = append(snap, e.msg)
			}
		}
		q.mu.Unlock()

		for _, m := range snap {
			if !yield(m) {
				return
			}
		}
	}
}

// Failed returns messages in the terminal failed state.
func (q *Queue) Failed() []FailedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []FailedMessage
	for _, e := range q.entries {
		if e.failed {
			out = append(out, FailedMessage{PendingMessage: e.msg, Attempts: e.attempts, Error: e.lastErr})
		}
	}
	return out
}

// Retry moves a failed message back to pending with a fresh attempt budget.
func (q *Queue) Retry(clientID string) error {
	q.mu.Lock()
	var found *entry
	for _, e := range q.entries {
		if e.failed && e.msg.ClientID == clientID {
			found = e
			break
		}
	}
	if found == nil {
		q.mu.Unlock()
		return ErrNotFound
	}
	found.failed = false
	found.attempts = 0
	found.lastErr = ""
	msg := found.msg
	q.mu.Unlock()

	if q.db != nil {
		if err := q.db.RequeueOutbox(clientID); err != nil {
			q.log.Error("requeue outbox", zap.String("client_id", clientID), zap.Error(err))
		}
	}
	q.bus.Emit(bus.OutboxQueued, msg.ConversationID, msg)
	q.Kick()
	return nil
}

// Clear drops every queued and failed message. A sweep in progress
// finishes its current send and skips the rest of its batch.
func (q *Queue) Clear() {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
	if q.db != nil {
		if err := q.db.ClearOutbox(); err != nil {
			q.log.Error("clear outbox", zap.Error(err))
		}
	}
}

// Start restores persisted entries and begins flushing on every
// reconnect and every flush interval.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.restore(); err != nil {
		return err
	}
	ctx, q.cancel = context.WithCancel(ctx)
	events, unsub := q.bus.Subscribe("conn.", 16)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer unsub()
		q.loop(ctx, events)
	}()
	return nil
}

// Stop ends the background loop and waits for an in-progress sweep.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Kick starts a background flush and returns immediately.
func (q *Queue) Kick() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.Flush(context.Background())
	}()
}

// Flush sweeps pending entries in enqueue order. A conversation's sweep
// stops at its first rejected entry so later entries never overtake it.
// Concurrent calls coalesce into one sweep plus at most one rerun.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.flushing {
		q.again = true
		q.mu.Unlock()
		return
	}
	q.flushing = true
	q.mu.Unlock()

	for {
		q.sweep(ctx)

		q.mu.Lock()
		if !q.again {
			q.flushing = false
			q.mu.Unlock()
			return
		}
		q.again = false
		q.mu.Unlock()
	}
}

func (q *Queue) loop(ctx context.Context, events <-chan bus.Event) {
	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			if evt.Kind == bus.ConnConnected {
				q.Flush(ctx)
			}
		case <-ticker.C:
			if q.tr.Connected() && q.PendingCount() > 0 {
				q.Flush(ctx)
			}
		}
	}
}

func (q *Queue) sweep(ctx context.Context) {
	q.mu.Lock()
	var batch []*entry
	for _, e := range q.entries {
		if !e.failed && !e.inflight {
			e.inflight = true
			batch = append(batch, e)
		}
	}
	q.mu.Unlock()

	blocked := make(map[string]bool)
	for _, e := range batch {
		conv := e.msg.ConversationID
		if blocked[conv] || ctx.Err() != nil || !q.tr.Connected() {
			q.release(e)
			continue
		}
		if err := q.limiter.Wait(ctx); err != nil {
			q.release(e)
			continue
		}
		q.sendMu.Lock()
		if !q.queued(e) {
			q.sendMu.Unlock()
			continue
		}
		if q.tr.Send(conv, e.msg.Content) {
			q.delivered(e)
		} else {
			blocked[conv] = true
			q.rejected(e)
		}
		q.sendMu.Unlock()
	}
}

// queued reports whether e is still owned by the queue.
func (q *Queue) queued(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Contains(q.entries, e)
}

func (q *Queue) release(e *entry) {
	q.mu.Lock()
	e.inflight = false
	q.mu.Unlock()
}

// delivered removes e before announcing delivery, so a refresh triggered
// by the announcement never sees both the pending and the confirmed copy.
func (q *Queue) delivered(e *entry) {
	q.mu.Lock()
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if q.db != nil {
		if err := q.db.DeleteOutbox(e.msg.ClientID); err != nil {
			q.log.Error("delete outbox", zap.String("client_id", e.msg.ClientID), zap.Error(err))
		}
	}
	q.log.Info("pending message delivered",
		zap.String("client_id", e.msg.ClientID),
		zap.String("conversation", e.msg.ConversationID),
	)
	q.bus.Emit(bus.OutboxDelivered, e.msg.ConversationID, e.msg)
}

func (q *Queue) rejected(e *entry) {
	q.mu.Lock()
	e.inflight = false
	e.attempts++
	e.lastErr = errNotDelivered
	terminal := q.opts.MaxAttempts > 0 && e.attempts >= q.opts.MaxAttempts
	if terminal {
		e.failed = true
	}
	attempts := e.attempts
	q.mu.Unlock()

	if q.db != nil {
		if err := q.db.RecordOutboxAttempt(e.msg.ClientID, attempts, errNotDelivered); err != nil {
			q.log.Error("record outbox attempt", zap.Error(err))
		}
		if terminal {
			if err := q.db.MarkOutboxFailed(e.msg.ClientID, errNotDelivered); err != nil {
				q.log.Error("mark outbox failed", zap.Error(err))
			}
		}
	}
	if terminal {
		q.log.Warn("pending message failed",
			zap.String("client_id", e.msg.ClientID),
			zap.Int("attempts", attempts),
		)
		q.bus.Emit(bus.OutboxFailed, e.msg.ConversationID, FailedMessage{
			PendingMessage: e.msg,
			Attempts:       attempts,
			Error:          errNotDelivered,
		})
	}
}

func (q *Queue) enqueue(conversationID, content string) {
	msg := chat.PendingMessage{
		ConversationID: conversationID,
		Content:        content,
		ClientID:       ClientIDPrefix + uuid.NewString(),
		QueuedAt:       q.now(),
	}

	q.mu.Lock()
	q.entries = append(q.entries, &entry{msg: msg})
	q.mu.Unlock()

	if q.db != nil {
		if err := q.db.QueueOutbox(msg.ClientID, msg.ConversationID, msg.Content, msg.QueuedAt); err != nil {
			q.log.Error("persist outbox entry", zap.String("client_id", msg.ClientID), zap.Error(err))
		}
	}
	q.log.Info("message queued", zap.String("client_id", msg.ClientID), zap.String("conversation", conversationID))
	q.bus.Emit(bus.OutboxQueued, conversationID, msg)
}

func (q *Queue) hasPendingLocked(conversationID string) bool {
	for _, e := range q.entries {
		if !e.failed && e.msg.ConversationID == conversationID {
			return true
		}
	}
	return false
}

func (q *Queue) restore() error {
	if q.db == nil {
		return nil
	}
	rows, err := q.db.ListOutbox()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range rows {
		q.entries = append(q.entries, &entry{
			msg: chat.PendingMessage{
				ConversationID: r.ConversationID,
				Content:        r.Content,
				ClientID:       r.ClientID,
				QueuedAt:       r.QueuedAt,
			},
			attempts: r.Attempts,
			failed:   r.Status == store.OutboxFailed,
			lastErr:  r.ErrorMessage,
		})
	}
	if len(rows) > 0 {
		q.log.Info("restored outbox", zap.Int("entries", len(rows)))
	}
	return nil
}
