package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/clinchat/clinchat/internal/bus"
)

// State represents the push-channel connection state. It is owned by the
// connection manager; nothing else mutates it.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions. Disconnected is only
// reachable through an explicit disconnect (or a terminal credential
// failure); Failed only by exhausting the reconnect budget.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Failed, Disconnected},
	Failed:       {Connecting, Disconnected},
}

// Change is the payload for state change events.
type Change struct {
	From State
	To   State
}

// Machine tracks and enforces connection state transitions, publishing each
// change on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid; transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.KindConnStateChanged, Change{From: from, To: to})
	}
	return nil
}
