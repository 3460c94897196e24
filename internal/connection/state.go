package connection

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// State is the connection lifecycle state. Exactly one state is active at
// any time; it only changes through the enumerated transitions.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition reports a transition request incompatible with the
// current state. The state is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions enumerates every permitted state change.
var transitions = map[State][]State{
	Disconnected:  {Connecting, Reconnecting},
	Connecting:    {Connected, Disconnected},
	Connected:     {Disconnecting, Disconnected},
	Disconnecting: {Disconnected},
	Reconnecting:  {Connecting, Disconnected},
}

// stateMachine is the single source of truth for the lifecycle state.
// Transitions happen only on the manager run loop; Current is safe to read
// from any goroutine.
type stateMachine struct {
	current atomic.Int32
	notify  func(from, to State)
}

func newStateMachine(notify func(from, to State)) *stateMachine {
	return &stateMachine{notify: notify}
}

// Current returns the active state.
func (m *stateMachine) Current() State {
	return State(m.current.Load())
}

// transition moves to the requested state, rejecting anything not in the
// transition table. Every accepted transition invokes the notify callback
// in order.
func (m *stateMachine) transition(to State) error {
	from := m.Current()
	if !allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.current.Store(int32(to))
	if m.notify != nil {
		m.notify(from, to)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
