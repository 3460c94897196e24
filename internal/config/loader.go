package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rickgao/streamsock/internal/connection"
)

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ManagerConfig converts the YAML surface into the manager's immutable
// configuration snapshot.
func (c *Config) ManagerConfig() connection.Config {
	return connection.Config{
		HeartbeatInterval:    c.Connection.HeartbeatInterval,
		HeartbeatTimeout:     c.Connection.HeartbeatTimeout,
		Reconnect:            c.Connection.Reconnect == nil || *c.Connection.Reconnect,
		ReconnectBaseDelay:   c.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.Connection.ReconnectMaxDelay,
		ReconnectJitter:      c.Connection.ReconnectJitter,
		MaxReconnectAttempts: c.Connection.MaxReconnectAttempts,
		ConnectTimeout:       c.Connection.ConnectTimeout,
		EventBufferSize:      c.Connection.EventBufferSize,
		FrameBufferSize:      c.Connection.FrameBufferSize,
	}
}

// TransportSettings builds the transport configuration.
func (c *Config) TransportSettings() connection.TransportConfig {
	return connection.TransportConfig{
		HandshakeTimeout: c.Transport.HandshakeTimeout,
		WriteTimeout:     c.Transport.WriteTimeout,
		BufferSize:       c.Connection.FrameBufferSize,
	}
}
