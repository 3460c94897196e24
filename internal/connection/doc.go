// Package connection implements the persistent WebSocket connection manager.
//
// The Manager:
//   - Owns the connection lifecycle state machine
//   - Probes liveness with application-level ping/pong frames
//   - Reconnects with capped exponential backoff up to an attempt ceiling
//   - Reasserts channel subscriptions after every reconnection
//   - Routes inbound data frames to registered handlers
package connection
