// streamwatch connects to a WebSocket stream and prints envelopes for the
// configured channels, riding out disconnects via the connection manager.
// Usage: go run ./cmd/streamwatch --config configs/streamwatch.example.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/streamsock/internal/config"
	"github.com/rickgao/streamsock/internal/connection"
	"github.com/rickgao/streamsock/internal/version"
	"github.com/rickgao/streamsock/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/streamwatch.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full envelope payloads")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("streamwatch", version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	logger.Info("streamwatch starting", "version", version.String(), "addr", cfg.Address)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dialer := connection.NewDialer(cfg.TransportSettings(), logger)
	mgr := connection.NewManager(cfg.ManagerConfig(), dialer, logger)
	defer mgr.Close()

	// Register handlers before connecting so the assertions ride the first
	// connection.
	for _, channel := range cfg.Channels {
		ch := channel
		if _, err := mgr.Subscribe(ch, func(env wire.Envelope) {
			printEnvelope(ch, env, *verbose)
		}); err != nil {
			logger.Error("subscribe failed", "channel", ch, "error", err)
			os.Exit(1)
		}
	}

	go consumeEvents(mgr.Events(), logger)

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Connection.ConnectTimeout)
	err = mgr.Connect(connectCtx, cfg.Address)
	connectCancel()
	if err != nil {
		// Reconnection may still recover this in the background.
		logger.Warn("initial connect failed", "error", err)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.Stats()
				logger.Info("stats",
					"state", mgr.State().String(),
					"reconnect_attempts", mgr.ReconnectAttempts(),
					"frames_received", stats.FramesReceived,
					"frames_dispatched", stats.FramesDispatched,
					"frames_dropped", stats.FramesDropped,
					"handler_errors", stats.HandlerErrors,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "channels", len(cfg.Channels))

	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Close()
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func consumeEvents(events <-chan connection.Event, logger *slog.Logger) {
	for ev := range events {
		switch ev.Kind {
		case connection.EventReconnecting:
			logger.Info("reconnecting", "attempt", ev.Attempt, "max_attempts", ev.MaxAttempts)
		case connection.EventReconnectExhausted:
			logger.Error("gave up reconnecting", "error", ev.Err)
		case connection.EventError:
			logger.Warn("connection event", "error", ev.Err)
		case connection.EventMessage:
			// Printed by the channel handlers.
		default:
			logger.Info("lifecycle", "event", ev.Kind.String(), "state", ev.State.String())
		}
	}
}

func printEnvelope(channel string, env wire.Envelope, verbose bool) {
	if verbose {
		fmt.Printf("[%s] %s %s\n", channel, env.ReceivedAt.Format(time.RFC3339Nano), env.Payload)
	} else {
		fmt.Printf("[%s] %d bytes\n", channel, len(env.Payload))
	}
}
