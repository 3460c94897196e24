package config

import "time"

// Config is the root configuration for a streamwatch instance.
type Config struct {
	Address    string           `yaml:"address"`  // WebSocket URL (e.g., wss://stream.example.com/v1)
	Channels   []string         `yaml:"channels"` // Channels to subscribe on startup
	Connection ConnectionConfig `yaml:"connection"`
	Transport  TransportConfig  `yaml:"transport"`
	Log        LogConfig        `yaml:"log"`
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	Reconnect            *bool         `yaml:"reconnect"` // nil means enabled
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter      bool          `yaml:"reconnect_jitter"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	EventBufferSize      int           `yaml:"event_buffer_size"`
	FrameBufferSize      int           `yaml:"frame_buffer_size"`
}

// TransportConfig holds WebSocket transport settings.
type TransportConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
