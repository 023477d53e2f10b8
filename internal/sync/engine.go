package sync

import (
	"context"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"go.uber.org/zap"
)

// Engine reacts to inbound pushes on the bus. Pushes from other users
// invalidate the affected conversation; echoes of the local user's own
// sends are ignored.
type Engine struct {
	cache     *Cache
	bus       *bus.Bus
	logger    *zap.Logger
	localUser func() string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEngine creates a new sync engine. localUser reports the current local
// user id.
func NewEngine(cache *Cache, b *bus.Bus, logger *zap.Logger, localUser func() string) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cache:     cache,
		bus:       b,
		logger:    logger,
		localUser: localUser,
	}
}

// Start subscribes to real-time events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("rt.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	if evt.Kind != bus.RealtimeMessage {
		return
	}
	msg, ok := evt.Payload.(chat.InboundMessage)
	if !ok {
		e.logger.Warn("unexpected realtime payload", zap.String("kind", evt.Kind))
		return
	}
	e.HandleInbound(msg)
}

// HandleInbound applies one inbound message. Reports whether the cache was
// invalidated.
func (e *Engine) HandleInbound(msg chat.InboundMessage) bool {
	if e.localUser != nil && msg.Sender.ID == e.localUser() {
		e.logger.Debug("ignoring echo", zap.String("conversation", msg.ConversationID))
		return false
	}
	e.logger.Info("inbound message",
		zap.String("conversation", msg.ConversationID),
		zap.String("sender", msg.Sender.ID),
	)
	e.cache.Invalidate(msg.ConversationID)
	return true
}
