// Package realtime maintains the single live channel for the active conversation.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/status"
	"go.uber.org/zap"
)

// Options tunes dialing and reconnection.
type Options struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	BackoffFloor   time.Duration
	BackoffMax     time.Duration
}

func (o *Options) fill() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 2 * time.Second
	}
	if o.BackoffFloor <= 0 {
		o.BackoffFloor = time.Second
	}
	if o.BackoffMax < o.BackoffFloor {
		o.BackoffMax = o.BackoffFloor
	}
}

// Manager keeps at most one channel open, scoped to the current
// (credential, conversation, user) triple.
type Manager struct {
	dialer Dialer
	opts   Options
	bus    *bus.Bus
	log    *zap.Logger
	state  *status.Machine

	// updateMu serializes Update and Close so teardown of one session
	// completes before the next one starts.
	updateMu sync.Mutex

	mu       sync.Mutex
	params   DialParams
	started  bool
	gen      uint64
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
	handlers []func(chat.InboundMessage)

	kick chan struct{}
}

// NewManager creates a Manager. Nothing is dialed until Update supplies
// a credential and a conversation.
func NewManager(d Dialer, opts Options, b *bus.Bus, log *zap.Logger) *Manager {
	opts.fill()
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dialer: d,
		opts:   opts,
		bus:    b,
		log:    log,
		state:  status.NewMachine(b),
		kick:   make(chan struct{}, 1),
	}
}

// OnMessage registers a callback for validated inbound messages. Callbacks
// run on the read goroutine and must not call Update or Close.
func (m *Manager) OnMessage(fn func(chat.InboundMessage)) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// State returns the current channel state.
func (m *Manager) State() status.State {
	return m.state.Current()
}

// Connected reports whether a channel is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	open := m.conn != nil
	m.mu.Unlock()
	return open && m.state.Current() == status.Connected
}

// Update applies new inputs. Unchanged inputs are a no-op. Otherwise the
// current channel and any in-flight dial are torn down before a new session
// starts, and a session starts only when both a credential and a
// conversation are present.
func (m *Manager) Update(p DialParams) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	if m.started && p == m.params {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.params = p
	m.mu.Unlock()

	m.teardown()
	if m.state.Current() == status.Closed {
		m.setState(status.Idle)
	}

	switch {
	case p.Token == "" || p.UserID == "":
		m.setState(status.AuthRequired)
		return
	case p.ConversationID == "":
		m.setState(status.Idle)
		return
	}
	m.setState(status.Idle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.log.Info("opening channel", zap.String("conversation", p.ConversationID))
	go m.run(ctx, gen, p, done)
}

// Reconnect cuts the current backoff wait short. The backoff floor measured
// from the previous attempt still applies.
func (m *Manager) Reconnect() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Close tears down the channel and stops reconnecting.
func (m *Manager) Close() {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	m.params = DialParams{}
	m.started = true
	m.mu.Unlock()

	m.teardown()
	m.setState(status.Closed)
}

// Send transmits a message on the open channel. It returns false without
// blocking when no channel is open, and false when the write fails or
// exceeds the send timeout.
func (m *Manager) Send(conversationID, content string) bool {
	m.mu.Lock()
	conn := m.conn
	userID := m.params.UserID
	m.mu.Unlock()
	if conn == nil {
		return false
	}

	frame, err := EncodeMessage(conversationID, userID, content, time.Now())
	if err != nil {
		m.log.Error("encode message", zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.SendTimeout)
	defer cancel()
	if err := conn.Write(ctx, frame); err != nil {
		m.log.Warn("send failed", zap.String("conversation", conversationID), zap.Error(err))
		return false
	}
	return true
}

// teardown cancels the running session and waits for it to exit.
func (m *Manager) teardown() {
	m.mu.Lock()
	m.gen++
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done, m.conn = nil, nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, p DialParams, done chan struct{}) {
	defer close(done)

	b := m.newBackoff()
	for {
		m.setState(status.Connecting)
		attempt := time.Now()

		conn, err := m.dial(ctx, p)
		if err == nil {
			b.Reset()
			if !m.attach(gen, conn) {
				_ = conn.Close()
				return
			}
			m.setState(status.Connected)
			m.bus.Emit(bus.ConnConnected, p.ConversationID, nil)

			err = m.readLoop(ctx, gen, conn)

			m.detach(gen, conn)
			_ = conn.Close()
			m.bus.Emit(bus.ConnDisconnected, p.ConversationID, nil)
		}
		if ctx.Err() != nil {
			return
		}

		delay := max(b.NextBackOff(), m.opts.BackoffFloor)
		m.log.Warn("channel down",
			zap.String("conversation", p.ConversationID),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		m.setState(status.Reconnecting)
		if !m.wait(ctx, delay, attempt) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, p DialParams) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	return m.dialer.Dial(dctx, p)
}

func (m *Manager) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.BackoffFloor
	b.MaxInterval = m.opts.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// wait sleeps for delay or until Reconnect is called, whichever comes
// first, but never returns before the floor has passed since attempt.
// Returns false if ctx is cancelled.
func (m *Manager) wait(ctx context.Context, delay time.Duration, attempt time.Time) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-m.kick:
	}

	remaining := m.opts.BackoffFloor - time.Since(attempt)
	if remaining <= 0 {
		return true
	}
	floor := time.NewTimer(remaining)
	defer floor.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-floor.C:
		return true
	}
}

func (m *Manager) attach(gen uint64, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.conn = conn
	return true
}

func (m *Manager) detach(gen uint64, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen && m.conn == conn {
		m.conn = nil
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) error {
	for {
		frame, err := conn.Read(ctx)
		if errors.Is(err, ErrMalformed) {
			m.log.Warn("dropping frame", zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}

		evt, err := Decode(frame)
		if err != nil {
			m.log.Warn("rejecting frame", zap.Error(err))
			continue
		}
		if evt.Message == nil {
			continue
		}
		m.dispatch(gen, *evt.Message)
	}
}

// dispatch delivers msg unless its session has been superseded.
func (m *Manager) dispatch(gen uint64, msg chat.InboundMessage) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	handlers := append([]func(chat.InboundMessage){}, m.handlers...)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
	m.bus.Emit(bus.RealtimeMessage, msg.ConversationID, msg)
}

func (m *Manager) setState(s status.State) {
	if err := m.state.Transition(s); err != nil {
		m.log.Debug("state transition skipped", zap.Error(err))
	}
}
