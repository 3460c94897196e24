package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectBusy        = errors.New("connect rejected: not disconnected")
	ErrClosed             = errors.New("manager closed")
	ErrConnectTimeout     = errors.New("connection establishment timed out")
	ErrLivenessTimeout    = errors.New("heartbeat acknowledgment missed")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrTransportClosed    = errors.New("transport closed")
)

// Config is the immutable configuration snapshot for a Manager.
// Create a new Manager to change any of these values.
type Config struct {
	HeartbeatInterval    time.Duration // Interval between liveness probes
	HeartbeatTimeout     time.Duration // Max wait for a probe acknowledgment
	Reconnect            bool          // Enable automatic reconnection
	ReconnectBaseDelay   time.Duration // Base delay for exponential backoff
	ReconnectMaxDelay    time.Duration // Cap on the computed backoff delay
	ReconnectJitter      bool          // Randomize delays by ±25% to spread reconnect storms
	MaxReconnectAttempts int           // Consecutive failed attempts tolerated before giving up
	ConnectTimeout       time.Duration // Deadline for transport open
	EventBufferSize      int           // Lifecycle event channel capacity
	FrameBufferSize      int           // Inbound frame channel capacity per transport
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     5 * time.Second,
		Reconnect:            true,
		ReconnectBaseDelay:   5 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 5,
		ConnectTimeout:       30 * time.Second,
		EventBufferSize:      64,
		FrameBufferSize:      1024,
	}
}

// ManagerStats provides counters about frame handling.
type ManagerStats struct {
	FramesReceived   int64
	FramesDispatched int64
	FramesDropped    int64
	HandlerErrors    int64
	EventsDropped    int64
}
