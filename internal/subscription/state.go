package subscription

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/shopchat/internal/bus"
)

// State is the lifecycle state of a conversation subscription.
type State string

const (
	Idle        State = "IDLE"
	Subscribing State = "SUBSCRIBING"
	Active      State = "ACTIVE"
	Degraded    State = "DEGRADED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:        {Subscribing},
	Subscribing: {Active, Degraded, Idle},
	Active:      {Idle, Degraded},
	Degraded:    {Idle, Subscribing},
}

// Machine tracks and enforces subscription state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
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
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindSubscriptionState, StateChange{From: from, To: to})
	return nil
}

// StateChange is the payload for subscription state events.
type StateChange struct {
	From State
	To   State
}
