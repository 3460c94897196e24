package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Inbound is a raw frame with its local receive timestamp.
type Inbound struct {
	Data       []byte
	ReceivedAt time.Time
}

// CloseError reports that the remote side or the network terminated the
// transport.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport closed: code=%d reason=%q", e.Code, e.Reason)
}

// Transport is a live duplex byte stream. The manager is its exclusive
// owner; once Close is called the handle is dead and never reused.
//
// Inbound is closed when the read side terminates. Any fault is delivered
// on Faults before Inbound closes, so draining Inbound then checking
// Faults observes the failure.
type Transport interface {
	Send(data []byte) error
	Close() error
	Inbound() <-chan Inbound
	Faults() <-chan error
}

// Dialer opens a Transport to an address. Open failure and context
// expiration race; whichever happens first decides the result.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

// TransportConfig configures the WebSocket transport.
type TransportConfig struct {
	HandshakeTimeout time.Duration // WebSocket handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound frame channel capacity
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// wsDialer dials gorilla WebSocket transports.
type wsDialer struct {
	cfg    TransportConfig
	logger *slog.Logger
}

// NewDialer creates the production WebSocket dialer.
func NewDialer(cfg TransportConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultTransportConfig().HandshakeTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultTransportConfig().WriteTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultTransportConfig().BufferSize
	}
	return &wsDialer{cfg: cfg, logger: logger}
}

func (d *wsDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	t := &wsTransport{
		cfg:     d.cfg,
		logger:  d.logger,
		conn:    conn,
		inbound: make(chan Inbound, d.cfg.BufferSize),
		faults:  make(chan error, 1),
		done:    make(chan struct{}),
	}
	go t.readLoop()

	d.logger.Debug("websocket connected", "addr", addr)
	return t, nil
}

// wsTransport implements Transport over a gorilla WebSocket connection.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger
	conn   *websocket.Conn

	inbound chan Inbound
	faults  chan error
	done    chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)

	t.writeMu.Lock()
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *wsTransport) Inbound() <-chan Inbound {
	return t.inbound
}

func (t *wsTransport) Faults() <-chan error {
	return t.faults
}

// readLoop pumps frames off the socket until it dies. The fault (if any)
// is queued before inbound closes.
func (t *wsTransport) readLoop() {
	defer close(t.inbound)

	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close() are the close itself, not a fault.
			select {
			case <-t.done:
				return
			default:
			}
			t.faults <- t.mapReadError(err)
			return
		}

		msg := Inbound{Data: data, ReceivedAt: receivedAt}
		select {
		case t.inbound <- msg:
		case <-t.done:
			return
		default:
			t.logger.Warn("inbound buffer full, dropping frame")
		}
	}
}

func (t *wsTransport) mapReadError(err error) error {
	if ce, ok := err.(*websocket.CloseError); ok {
		return &CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}
