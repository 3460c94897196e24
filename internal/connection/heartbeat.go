package connection

import "time"

// heartbeat owns the probe interval timer and the acknowledgment timeout
// timer. At most one of each is armed at a time, and only while the
// connection is up. All methods run on the manager loop; the timer
// callbacks post back into the loop tagged with the generation that armed
// them, so a timer can never act on a connection it has outlived.
//
// The ack deadline additionally carries a per-arm sequence number. A fired
// timeout can sit queued behind other loop events while the acknowledgment
// that beat it is processed and a fresh deadline is armed; the sequence
// lets the loop discard such a stale deadline instead of declaring a live
// connection dead.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration

	// fire posts a timer event into the manager loop.
	fire func(kind loopEventKind, gen, seq uint64)

	probe *time.Timer
	ack   *time.Timer
	seq   uint64 // sequence of the currently armed ack deadline
}

func newHeartbeat(cfg Config, fire func(kind loopEventKind, gen, seq uint64)) *heartbeat {
	return &heartbeat{
		interval: cfg.HeartbeatInterval,
		timeout:  cfg.HeartbeatTimeout,
		fire:     fire,
	}
}

// armProbe schedules the next liveness probe.
func (h *heartbeat) armProbe(gen uint64) {
	h.stopProbe()
	h.probe = time.AfterFunc(h.interval, func() {
		h.fire(evProbeTick, gen, 0)
	})
}

// armAck starts the acknowledgment deadline after a probe was sent.
func (h *heartbeat) armAck(gen uint64) {
	h.stopAck()
	h.seq++
	seq := h.seq
	h.ack = time.AfterFunc(h.timeout, func() {
		h.fire(evAckTimeout, gen, seq)
	})
}

// ackArmed reports whether the deadline identified by seq is still the one
// awaiting acknowledgment.
func (h *heartbeat) ackArmed(seq uint64) bool {
	return h.ack != nil && h.seq == seq
}

// ackReceived cancels the pending acknowledgment deadline.
func (h *heartbeat) ackReceived() {
	h.stopAck()
}

// ackPending reports whether a probe is awaiting acknowledgment.
func (h *heartbeat) ackPending() bool {
	return h.ack != nil
}

// stop cancels both timers. Called whenever the state leaves Connected.
func (h *heartbeat) stop() {
	h.stopProbe()
	h.stopAck()
}

func (h *heartbeat) stopProbe() {
	if h.probe != nil {
		h.probe.Stop()
		h.probe = nil
	}
}

func (h *heartbeat) stopAck() {
	if h.ack != nil {
		h.ack.Stop()
		h.ack = nil
	}
}
