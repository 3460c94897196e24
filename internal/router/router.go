package router

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/rickgao/streamsock/internal/wire"
)

// Handler consumes an inbound envelope for a subscribed channel. Handlers
// run on the manager's event loop and must not block.
type Handler func(env wire.Envelope)

// Subscription identifies one registered handler so it can be removed
// without affecting other handlers on the same channel.
type Subscription struct {
	ID      uuid.UUID
	Channel string
}

type entry struct {
	id uuid.UUID
	fn Handler
}

// Registry is the sole owner of the channel to handlers mapping. It is not
// safe for concurrent use; the connection manager serializes all access on
// its run loop.
type Registry struct {
	logger   *slog.Logger
	handlers map[string][]entry

	// report surfaces handler panics as diagnostics without aborting
	// delivery to the remaining handlers.
	report func(err error)
}

// New creates an empty registry. report may be nil.
func New(logger *slog.Logger, report func(err error)) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		handlers: make(map[string][]entry),
		report:   report,
	}
}

// Add registers a handler under a channel. first reports whether this is
// the channel's first handler, i.e. a subscribe assertion is due.
func (r *Registry) Add(channel string, fn Handler) (sub Subscription, first bool) {
	first = len(r.handlers[channel]) == 0
	id := uuid.New()
	r.handlers[channel] = append(r.handlers[channel], entry{id: id, fn: fn})
	return Subscription{ID: id, Channel: channel}, first
}

// Remove drops every handler for a channel. It reports whether the channel
// had any handlers, i.e. an unsubscribe assertion is due. Removing an
// absent channel is a no-op.
func (r *Registry) Remove(channel string) bool {
	if _, ok := r.handlers[channel]; !ok {
		return false
	}
	delete(r.handlers, channel)
	return true
}

// Cancel drops the single handler identified by sub. It reports whether
// the channel is now empty. Cancelling an unknown token is a no-op.
func (r *Registry) Cancel(sub Subscription) (emptied bool) {
	entries, ok := r.handlers[sub.Channel]
	if !ok {
		return false
	}
	for i, e := range entries {
		if e.id == sub.ID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.handlers, sub.Channel)
		return true
	}
	r.handlers[sub.Channel] = entries
	return false
}

// Channels returns every channel with at least one handler, sorted for
// deterministic reassertion order.
func (r *Registry) Channels() []string {
	out := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Assertions builds the subscribe frames to send on every new connection.
func (r *Registry) Assertions() []wire.Frame {
	channels := r.Channels()
	frames := make([]wire.Frame, 0, len(channels))
	for _, ch := range channels {
		frames = append(frames, wire.Subscribe(ch))
	}
	return frames
}

// Dispatch delivers an envelope to every handler registered for its
// channel, in registration order, and returns the number of handlers
// invoked. A panicking handler is isolated and reported; delivery to the
// remaining handlers continues.
func (r *Registry) Dispatch(env wire.Envelope) int {
	entries := r.handlers[env.Channel]
	for _, e := range entries {
		r.invoke(e, env)
	}
	return len(entries)
}

func (r *Registry) invoke(e entry, env wire.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("handler panic on channel %q: %v", env.Channel, p)
			r.logger.Error("subscription handler panicked",
				"channel", env.Channel,
				"panic", p,
			)
			if r.report != nil {
				r.report(err)
			}
		}
	}()
	e.fn(env)
}
