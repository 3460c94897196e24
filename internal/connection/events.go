package connection

import (
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/streamsock/internal/wire"
)

// EventKind identifies a lifecycle or diagnostic event.
type EventKind int

const (
	// Lifecycle kinds mirror the state the manager just entered.
	EventConnecting EventKind = iota
	EventConnected
	EventDisconnecting
	EventDisconnected
	EventReconnecting

	// EventReconnectExhausted reports that the attempt ceiling was reached
	// and the manager gave up. This is the only path by which it gives up.
	EventReconnectExhausted

	// EventMessage carries an inbound data envelope.
	EventMessage

	// EventError carries a diagnostic: transport faults, liveness timeouts,
	// handler panics, undecodable frames.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnecting:
		return "disconnecting"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnectExhausted:
		return "reconnect_exhausted"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a notification surfaced to the Manager's caller. Lifecycle
// events are delivered in the exact order transitions occur.
type Event struct {
	Kind        EventKind
	State       State          // state at emission time
	Attempt     int            // set for EventReconnecting
	MaxAttempts int            // set for EventReconnecting
	Envelope    *wire.Envelope // set for EventMessage
	Err         error          // set for EventError and EventReconnectExhausted
}

// dispatcher delivers events to the caller without ever blocking the run
// loop. A slow consumer loses events rather than stalling the connection.
type dispatcher struct {
	out     chan Event
	logger  *slog.Logger
	dropped atomic.Int64
}

func newDispatcher(size int, logger *slog.Logger) *dispatcher {
	if size < 1 {
		size = 1
	}
	return &dispatcher{
		out:    make(chan Event, size),
		logger: logger,
	}
}

func (d *dispatcher) emit(ev Event) {
	select {
	case d.out <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event buffer full, dropping event", "kind", ev.Kind.String())
	}
}

func (d *dispatcher) close() {
	close(d.out)
}
