package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
)

// State is the lifecycle state of the real-time channel.
type State string

const (
	Idle         State = "IDLE"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {AuthRequired, Connecting, Closed},
	AuthRequired: {Idle, Connecting, Closed},
	Connecting:   {Connected, Reconnecting, AuthRequired, Idle, Closed},
	Connected:    {Reconnecting, AuthRequired, Idle, Closed},
	Reconnecting: {Connecting, AuthRequired, Idle, Closed},
	Closed:       {Idle},
}

// Machine tracks and enforces channel state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.Event{
		Kind:      bus.ConnStateChanged,
		Timestamp: time.Now(),
		Payload: StatusChange{
			From: from,
			To:   to,
		},
	})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
