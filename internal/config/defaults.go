package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 5 * time.Second
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultConnectTimeout       = 30 * time.Second
	DefaultEventBufferSize      = 64
	DefaultFrameBufferSize      = 1024
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() {
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.HeartbeatTimeout == 0 {
		c.Connection.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Connection.Reconnect == nil {
		enabled := true
		c.Connection.Reconnect = &enabled
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.EventBufferSize == 0 {
		c.Connection.EventBufferSize = DefaultEventBufferSize
	}
	if c.Connection.FrameBufferSize == 0 {
		c.Connection.FrameBufferSize = DefaultFrameBufferSize
	}

	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
