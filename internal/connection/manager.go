package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/streamsock/internal/router"
	"github.com/rickgao/streamsock/internal/wire"
)

// Manager is the public facade over the connection lifecycle. It keeps one
// duplex connection alive across interruptions, probes liveness, and routes
// inbound data frames to subscribed handlers.
type Manager interface {
	// Connect establishes the connection. Rejected unless the manager is
	// currently disconnected. Blocks until the first open attempt resolves
	// or ctx expires; reconnection continues in the background on failure
	// when enabled.
	Connect(ctx context.Context, addr string) error

	// Send writes raw bytes to the live transport. Fails with
	// ErrNotConnected in every state except Connected; nothing is queued.
	Send(data []byte) error

	// Publish sends a data frame on a channel.
	Publish(channel string, payload []byte) error

	// Subscribe registers a handler for a channel. If connected, the
	// subscribe assertion is sent immediately; otherwise it is asserted on
	// the next successful connection.
	Subscribe(channel string, fn router.Handler) (router.Subscription, error)

	// Unsubscribe removes every handler for a channel. Idempotent.
	Unsubscribe(channel string) error

	// Cancel removes the single handler identified by sub. Idempotent.
	Cancel(sub router.Subscription) error

	// Close disables reconnection, tears down the transport, and cancels
	// every outstanding timer and in-flight attempt. The manager is
	// unusable afterward.
	Close() error

	// State returns the current lifecycle state.
	State() State

	// ReconnectAttempts returns consecutive failed attempts since the last
	// successful connection.
	ReconnectAttempts() int

	// Events returns the lifecycle event stream, delivered in transition
	// order. Closed by Close.
	Events() <-chan Event

	// Stats returns frame-handling counters.
	Stats() ManagerStats
}

type loopEventKind int

const (
	cmdConnect loopEventKind = iota
	cmdSend
	cmdSubscribe
	cmdUnsubscribe
	cmdCancel
	cmdClose

	evDialDone
	evFrame
	evFault
	evProbeTick
	evAckTimeout
	evRetryTimer
)

// loopEvent is a command or asynchronous callback delivered to the run
// loop. Events from a previous connection generation are discarded.
type loopEvent struct {
	kind loopEventKind
	gen  uint64
	seq  uint64 // ack-deadline sequence, set for evAckTimeout

	addr    string
	data    []byte
	channel string
	handler router.Handler
	sub     router.Subscription
	tr      Transport
	err     error
	in      Inbound

	replyErr chan error
	replySub chan router.Subscription
}

// manager implements Manager. All mutable state below the loop marker is
// owned by the run goroutine; no locks are needed around it.
type manager struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	loop chan loopEvent
	done chan struct{} // closed when the run loop exits

	sm     *stateMachine
	events *dispatcher

	// Mirrors for lock-free external reads.
	attempts atomic.Int64

	// Stats counters.
	received   atomic.Int64
	dispatched atomic.Int64
	dropped    atomic.Int64
	handlerErr atomic.Int64

	// Run-loop-owned state.
	hb             *heartbeat
	sched          *scheduler
	registry       *router.Registry
	tr             Transport
	gen            uint64
	addr           string
	retrying       bool
	userClosed     bool
	dialInFlight   bool
	pendingConnect chan error
	dialCancel     context.CancelFunc
	retryTimer     *time.Timer
}

// NewManager creates a Manager and starts its run loop. A nil dialer gets
// the production WebSocket dialer.
func NewManager(cfg Config, dialer Dialer, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = NewDialer(TransportConfig{BufferSize: cfg.FrameBufferSize}, logger)
	}

	m := &manager{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
		loop:   make(chan loopEvent, 64),
		done:   make(chan struct{}),
		events: newDispatcher(cfg.EventBufferSize, logger),
		sched:  newScheduler(cfg),
	}
	m.sm = newStateMachine(m.onTransition)
	m.hb = newHeartbeat(cfg, m.postTimer)
	m.registry = router.New(logger, m.reportHandlerError)

	go m.run()
	return m
}

// post delivers an event to the run loop, failing once the manager closed.
func (m *manager) post(ev loopEvent) error {
	select {
	case m.loop <- ev:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// postTimer is the fire callback handed to timers. Stale or post-close
// fires are dropped.
func (m *manager) postTimer(kind loopEventKind, gen, seq uint64) {
	m.post(loopEvent{kind: kind, gen: gen, seq: seq})
}

func (m *manager) Connect(ctx context.Context, addr string) error {
	reply := make(chan error, 1)
	if err := m.post(loopEvent{kind: cmdConnect, addr: addr, replyErr: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *manager) Send(data []byte) error {
	reply := make(chan error, 1)
	if err := m.post(loopEvent{kind: cmdSend, data: data, replyErr: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	}
}

func (m *manager) Publish(channel string, payload []byte) error {
	data, err := wire.Encode(wire.Data(channel, payload))
	if err != nil {
		return err
	}
	return m.Send(data)
}

func (m *manager) Subscribe(channel string, fn router.Handler) (router.Subscription, error) {
	reply := make(chan router.Subscription, 1)
	if err := m.post(loopEvent{kind: cmdSubscribe, channel: channel, handler: fn, replySub: reply}); err != nil {
		return router.Subscription{}, err
	}
	select {
	case sub := <-reply:
		return sub, nil
	case <-m.done:
		return router.Subscription{}, ErrClosed
	}
}

func (m *manager) Unsubscribe(channel string) error {
	reply := make(chan error, 1)
	if err := m.post(loopEvent{kind: cmdUnsubscribe, channel: channel, replyErr: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	}
}

func (m *manager) Cancel(sub router.Subscription) error {
	reply := make(chan error, 1)
	if err := m.post(loopEvent{kind: cmdCancel, sub: sub, replyErr: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	}
}

func (m *manager) Close() error {
	reply := make(chan error, 1)
	if err := m.post(loopEvent{kind: cmdClose, replyErr: reply}); err != nil {
		// Already closed; Close is idempotent.
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return nil
	}
}

func (m *manager) State() State {
	return m.sm.Current()
}

func (m *manager) ReconnectAttempts() int {
	return int(m.attempts.Load())
}

func (m *manager) Events() <-chan Event {
	return m.events.out
}

func (m *manager) Stats() ManagerStats {
	return ManagerStats{
		FramesReceived:   m.received.Load(),
		FramesDispatched: m.dispatched.Load(),
		FramesDropped:    m.dropped.Load(),
		HandlerErrors:    m.handlerErr.Load(),
		EventsDropped:    m.events.dropped.Load(),
	}
}

// run is the single event loop. Every state transition, timer callback,
// and transport callback executes here, in arrival order.
func (m *manager) run() {
	for ev := range m.loop {
		if m.handle(ev) {
			return
		}
	}
}

func (m *manager) handle(ev loopEvent) (closed bool) {
	if m.userClosed {
		// The loop only outlives Close to reap an in-flight dial; every
		// other event is already answered by the closed done channel.
		if ev.kind == evDialDone {
			if ev.tr != nil {
				ev.tr.Close()
			}
			m.dialInFlight = false
		}
		return !m.dialInFlight
	}

	switch ev.kind {
	case cmdConnect:
		m.handleConnect(ev)
	case cmdSend:
		ev.replyErr <- m.handleSend(ev.data)
	case cmdSubscribe:
		ev.replySub <- m.handleSubscribe(ev.channel, ev.handler)
	case cmdUnsubscribe:
		m.handleUnsubscribe(ev.channel)
		ev.replyErr <- nil
	case cmdCancel:
		m.handleCancel(ev.sub)
		ev.replyErr <- nil
	case cmdClose:
		m.handleClose()
		ev.replyErr <- nil
		return !m.dialInFlight
	case evDialDone:
		m.handleDialDone(ev)
	case evFrame:
		if ev.gen == m.gen {
			m.handleFrame(ev.in)
		}
	case evFault:
		if ev.gen == m.gen {
			m.disconnect(fmt.Errorf("transport fault: %w", ev.err))
		}
	case evProbeTick:
		if ev.gen == m.gen && m.sm.Current() == Connected {
			m.handleProbeTick()
		}
	case evAckTimeout:
		// The deadline acts only while its own probe is unacknowledged:
		// an acknowledgment (or a re-armed deadline) processed between the
		// timer firing and this event draining makes it stale.
		if ev.gen == m.gen && m.sm.Current() == Connected && m.hb.ackArmed(ev.seq) {
			m.logger.Warn("heartbeat acknowledgment missed, declaring connection dead",
				"timeout", m.cfg.HeartbeatTimeout,
			)
			m.disconnect(ErrLivenessTimeout)
		}
	case evRetryTimer:
		if ev.gen == m.gen && m.sm.Current() == Reconnecting {
			m.handleRetryFire()
		}
	}
	return false
}

// onTransition emits one lifecycle event per accepted transition, in
// transition order.
func (m *manager) onTransition(from, to State) {
	m.logger.Debug("state transition", "from", from.String(), "to", to.String())

	ev := Event{State: to}
	switch to {
	case Connecting:
		ev.Kind = EventConnecting
	case Connected:
		ev.Kind = EventConnected
	case Disconnecting:
		ev.Kind = EventDisconnecting
	case Disconnected:
		ev.Kind = EventDisconnected
	case Reconnecting:
		ev.Kind = EventReconnecting
		ev.Attempt = m.sched.attempts + 1
		ev.MaxAttempts = m.sched.ceiling
	}
	m.events.emit(ev)
}

// mustTransition applies a transition that the loop's own control flow
// guarantees is legal. A rejection is a programmer error: reported, state
// left intact.
func (m *manager) mustTransition(to State) {
	if err := m.sm.transition(to); err != nil {
		m.logger.Error("rejected state transition", "error", err)
		m.events.emit(Event{Kind: EventError, State: m.sm.Current(), Err: err})
	}
}

func (m *manager) handleConnect(ev loopEvent) {
	if m.sm.Current() != Disconnected {
		ev.replyErr <- ErrConnectBusy
		return
	}
	m.addr = ev.addr
	m.sched.reset()
	m.attempts.Store(0)
	m.pendingConnect = ev.replyErr
	m.startDial(false)
}

// startDial transitions into Connecting and races the transport open
// against the establishment timeout.
func (m *manager) startDial(retry bool) {
	m.gen++
	gen := m.gen
	m.retrying = retry
	m.dialInFlight = true
	m.mustTransition(Connecting)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	m.dialCancel = cancel

	go func() {
		defer cancel()
		tr, err := m.dialer.Dial(ctx, m.addr)
		if ctx.Err() != nil && tr != nil {
			// The timeout won the race; the late open loses.
			tr.Close()
			tr, err = nil, ctx.Err()
		}
		// Plain send, not post: the loop is guaranteed to keep reading
		// until every in-flight dial has been delivered, even across
		// Close, so a late transport is always reaped.
		m.loop <- loopEvent{kind: evDialDone, gen: gen, tr: tr, err: err}
	}()
}

func (m *manager) handleDialDone(ev loopEvent) {
	m.dialInFlight = false
	if ev.gen != m.gen {
		// A close or disconnect superseded this attempt.
		if ev.tr != nil {
			ev.tr.Close()
		}
		return
	}
	m.dialCancel = nil

	if ev.err != nil {
		err := ev.err
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrConnectTimeout
		}
		m.logger.Warn("connection attempt failed", "addr", m.addr, "error", err)

		m.mustTransition(Disconnected)
		m.replyConnect(err)
		m.events.emit(Event{Kind: EventError, State: Disconnected, Err: fmt.Errorf("connect %s: %w", m.addr, err)})

		if m.retrying {
			m.sched.fail()
			m.attempts.Store(int64(m.sched.attempts))
		}
		m.scheduleReconnect()
		return
	}

	m.tr = ev.tr
	m.sched.reset()
	m.attempts.Store(0)
	m.retrying = false
	m.mustTransition(Connected)
	m.logger.Info("connected", "addr", m.addr)

	m.hb.armProbe(m.gen)
	go m.pump(m.gen, ev.tr)

	m.reassertSubscriptions()
	m.replyConnect(nil)
}

func (m *manager) replyConnect(err error) {
	if m.pendingConnect != nil {
		m.pendingConnect <- err
		m.pendingConnect = nil
	}
}

func (m *manager) handleSend(data []byte) error {
	if m.sm.Current() != Connected {
		return ErrNotConnected
	}
	if err := m.tr.Send(data); err != nil {
		// A failed send means the socket is unusable.
		m.disconnect(fmt.Errorf("send: %w", err))
		return err
	}
	return nil
}

func (m *manager) handleSubscribe(channel string, fn router.Handler) router.Subscription {
	sub, first := m.registry.Add(channel, fn)
	if first && m.sm.Current() == Connected {
		m.sendFrame(wire.Subscribe(channel))
	}
	return sub
}

func (m *manager) handleUnsubscribe(channel string) {
	if m.registry.Remove(channel) && m.sm.Current() == Connected {
		m.sendFrame(wire.Unsubscribe(channel))
	}
}

func (m *manager) handleCancel(sub router.Subscription) {
	if m.registry.Cancel(sub) && m.sm.Current() == Connected {
		m.sendFrame(wire.Unsubscribe(sub.Channel))
	}
}

// sendFrame writes a control frame, logging rather than failing the caller:
// a broken socket surfaces through the transport fault path.
func (m *manager) sendFrame(f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		m.logger.Error("encode frame", "type", f.Type, "error", err)
		return
	}
	if err := m.tr.Send(data); err != nil {
		m.logger.Warn("send frame failed", "type", f.Type, "channel", f.Channel, "error", err)
	}
}

// reassertSubscriptions re-sends subscribe assertions for every channel
// with at least one handler. Subscriptions are client-owned desired state,
// reconciled with the server on each new connection.
func (m *manager) reassertSubscriptions() {
	frames := m.registry.Assertions()
	for _, f := range frames {
		m.sendFrame(f)
	}
	if len(frames) > 0 {
		m.logger.Info("reasserted subscriptions", "channels", len(frames))
	}
}

// reportHandlerError surfaces a panicking subscription handler as a
// diagnostic without aborting the dispatch loop.
func (m *manager) reportHandlerError(err error) {
	m.handlerErr.Add(1)
	m.events.emit(Event{Kind: EventError, State: m.sm.Current(), Err: err})
}

// pump forwards transport deliveries into the run loop, tagged with the
// generation of the connection they belong to.
func (m *manager) pump(gen uint64, tr Transport) {
	for {
		select {
		case <-m.done:
			return
		case in, ok := <-tr.Inbound():
			if !ok {
				// Read side is gone; surface the queued fault, if any.
				select {
				case err := <-tr.Faults():
					m.post(loopEvent{kind: evFault, gen: gen, err: err})
				default:
				}
				return
			}
			if m.post(loopEvent{kind: evFrame, gen: gen, in: in}) != nil {
				return
			}
		}
	}
}

func (m *manager) handleFrame(in Inbound) {
	m.received.Add(1)

	f, err := wire.Decode(in.Data)
	if err != nil {
		m.dropped.Add(1)
		m.logger.Warn("dropping undecodable frame", "error", err)
		m.events.emit(Event{Kind: EventError, State: m.sm.Current(), Err: err})
		return
	}

	switch f.Type {
	case wire.TypePong:
		m.hb.ackReceived()

	case wire.TypePing:
		m.sendFrame(wire.Pong())

	case wire.TypeData:
		env := wire.Envelope{Channel: f.Channel, Payload: f.Payload, ReceivedAt: in.ReceivedAt}
		m.events.emit(Event{Kind: EventMessage, State: m.sm.Current(), Envelope: &env})
		if n := m.registry.Dispatch(env); n > 0 {
			m.dispatched.Add(1)
		} else {
			m.dropped.Add(1)
			m.logger.Debug("no handlers for channel", "channel", f.Channel)
		}

	default:
		// Server-side acks for subscribe/unsubscribe need no action.
		m.logger.Debug("ignoring frame", "type", f.Type)
	}
}

func (m *manager) handleProbeTick() {
	data, err := wire.Encode(wire.Ping())
	if err != nil {
		m.logger.Error("encode ping", "error", err)
		return
	}
	if err := m.tr.Send(data); err != nil {
		m.disconnect(fmt.Errorf("heartbeat send: %w", err))
		return
	}
	m.hb.armAck(m.gen)
	m.hb.armProbe(m.gen)
}

// disconnect tears down the current connection after a transport-health
// failure and hands control to the reconnection scheduler.
func (m *manager) disconnect(cause error) {
	m.gen++ // invalidate timers, pump, and in-flight dials
	m.hb.stop()
	m.stopRetryTimer()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.tr != nil {
		m.tr.Close()
		m.tr = nil
	}

	m.logger.Warn("disconnected", "error", cause)
	m.mustTransition(Disconnected)
	m.events.emit(Event{Kind: EventError, State: Disconnected, Err: cause})
	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff delay for the next attempt, or
// reports exhaustion once the ceiling is reached.
func (m *manager) scheduleReconnect() {
	if m.userClosed || !m.cfg.Reconnect {
		return
	}

	delay, ok := m.sched.next()
	if !ok {
		m.logger.Error("giving up: reconnection attempts exhausted",
			"attempts", m.sched.attempts,
			"max_attempts", m.sched.ceiling,
		)
		m.events.emit(Event{Kind: EventReconnectExhausted, State: Disconnected, Err: ErrReconnectExhausted})
		return
	}

	m.mustTransition(Reconnecting)
	m.logger.Info("reconnection scheduled",
		"attempt", m.sched.attempts+1,
		"max_attempts", m.sched.ceiling,
		"delay", delay,
	)

	gen := m.gen
	m.retryTimer = time.AfterFunc(delay, func() {
		m.postTimer(evRetryTimer, gen, 0)
	})
}

func (m *manager) handleRetryFire() {
	m.retryTimer = nil
	m.logger.Info("attempting reconnection",
		"addr", m.addr,
		"attempt", m.sched.attempts+1,
		"max_attempts", m.sched.ceiling,
	)
	m.startDial(true)
}

func (m *manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// handleClose tears everything down deterministically, regardless of the
// state closure was requested from. No timer or callback survives it.
func (m *manager) handleClose() {
	m.userClosed = true
	m.gen++
	m.hb.stop()
	m.stopRetryTimer()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	switch m.sm.Current() {
	case Connected:
		m.mustTransition(Disconnecting)
		m.tr.Close()
		m.tr = nil
		m.mustTransition(Disconnected)
	case Connecting, Reconnecting:
		m.mustTransition(Disconnected)
	}

	m.replyConnect(ErrClosed)
	m.logger.Info("connection manager closed")

	close(m.done)
	m.events.close()
}
