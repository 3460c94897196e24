package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/streamsock/internal/wire"
)

func env(channel string, payload string) wire.Envelope {
	return wire.Envelope{Channel: channel, Payload: json.RawMessage(payload)}
}

func TestRegistry_AddReportsFirst(t *testing.T) {
	r := New(nil, nil)

	_, first := r.Add("x", func(wire.Envelope) {})
	assert.True(t, first)

	_, first = r.Add("x", func(wire.Envelope) {})
	assert.False(t, first, "second handler on the same channel is not first")

	_, first = r.Add("y", func(wire.Envelope) {})
	assert.True(t, first)
}

func TestRegistry_DispatchDeliversPayload(t *testing.T) {
	r := New(nil, nil)

	var got []string
	r.Add("x", func(e wire.Envelope) { got = append(got, string(e.Payload)) })

	n := r.Dispatch(env("x", `1`))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{`1`}, got)

	n = r.Dispatch(env("unknown", `2`))
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{`1`}, got)
}

func TestRegistry_DispatchAllHandlersInOrder(t *testing.T) {
	r := New(nil, nil)

	var order []string
	r.Add("x", func(wire.Envelope) { order = append(order, "a") })
	r.Add("x", func(wire.Envelope) { order = append(order, "b") })

	n := r.Dispatch(env("x", `{}`))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRegistry_PanickingHandlerIsolated(t *testing.T) {
	var reported []error
	r := New(nil, func(err error) { reported = append(reported, err) })

	invoked := false
	r.Add("x", func(wire.Envelope) { panic("boom") })
	r.Add("x", func(wire.Envelope) { invoked = true })

	n := r.Dispatch(env("x", `{}`))
	assert.Equal(t, 2, n)
	assert.True(t, invoked, "panic must not abort delivery to later handlers")
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "x")
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := New(nil, nil)
	r.Add("x", func(wire.Envelope) {})

	assert.True(t, r.Remove("x"))
	assert.False(t, r.Remove("x"), "second remove is a no-op")
	assert.Empty(t, r.Channels())
}

func TestRegistry_CancelRemovesOnlyToken(t *testing.T) {
	r := New(nil, nil)

	var got []string
	sub1, _ := r.Add("x", func(wire.Envelope) { got = append(got, "one") })
	r.Add("x", func(wire.Envelope) { got = append(got, "two") })

	emptied := r.Cancel(sub1)
	assert.False(t, emptied)

	r.Dispatch(env("x", `{}`))
	assert.Equal(t, []string{"two"}, got)

	// Cancelling the same token again is a no-op.
	assert.False(t, r.Cancel(sub1))
}

func TestRegistry_CancelLastHandlerEmptiesChannel(t *testing.T) {
	r := New(nil, nil)
	sub, _ := r.Add("x", func(wire.Envelope) {})

	assert.True(t, r.Cancel(sub))
	assert.Empty(t, r.Channels())
}

func TestRegistry_ChannelsSorted(t *testing.T) {
	r := New(nil, nil)
	r.Add("zeta", func(wire.Envelope) {})
	r.Add("alpha", func(wire.Envelope) {})
	r.Add("mid", func(wire.Envelope) {})

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Channels())
}

func TestRegistry_Assertions(t *testing.T) {
	r := New(nil, nil)
	r.Add("b", func(wire.Envelope) {})
	r.Add("a", func(wire.Envelope) {})
	r.Add("a", func(wire.Envelope) {}) // second handler, still one assertion

	frames := r.Assertions()
	require.Len(t, frames, 2)
	assert.Equal(t, wire.Subscribe("a"), frames[0])
	assert.Equal(t, wire.Subscribe("b"), frames[1])
}
