package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_InitialState(t *testing.T) {
	sm := newStateMachine(nil)
	assert.Equal(t, Disconnected, sm.Current())
}

func TestStateMachine_Transitions(t *testing.T) {
	all := []State{Disconnected, Connecting, Connected, Disconnecting, Reconnecting}

	valid := map[State][]State{
		Disconnected:  {Connecting, Reconnecting},
		Connecting:    {Connected, Disconnected},
		Connected:     {Disconnecting, Disconnected},
		Disconnecting: {Disconnected},
		Reconnecting:  {Connecting, Disconnected},
	}

	for _, from := range all {
		for _, to := range all {
			sm := newStateMachine(nil)
			sm.current.Store(int32(from))

			err := sm.transition(to)
			if contains(valid[from], to) {
				assert.NoError(t, err, "%s -> %s should be valid", from, to)
				assert.Equal(t, to, sm.Current())
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s should be rejected", from, to)
				// Rejection leaves the state untouched.
				assert.Equal(t, from, sm.Current())
			}
		}
	}
}

func contains(states []State, s State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

func TestStateMachine_NotifyOrder(t *testing.T) {
	var seen []State
	sm := newStateMachine(func(from, to State) {
		seen = append(seen, to)
	})

	require.NoError(t, sm.transition(Connecting))
	require.NoError(t, sm.transition(Connected))
	require.NoError(t, sm.transition(Disconnecting))
	require.NoError(t, sm.transition(Disconnected))

	assert.Equal(t, []State{Connecting, Connected, Disconnecting, Disconnected}, seen)
}

func TestStateMachine_RejectedTransitionDoesNotNotify(t *testing.T) {
	notified := 0
	sm := newStateMachine(func(from, to State) { notified++ })

	require.Error(t, sm.transition(Connected)) // Disconnected -> Connected is not enumerated
	assert.Equal(t, 0, notified)
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		Disconnected:  "disconnected",
		Connecting:    "connecting",
		Connected:     "connected",
		Disconnecting: "disconnecting",
		Reconnecting:  "reconnecting",
		State(99):     "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
