// Package wire defines the frame envelope exchanged over the transport.
//
// Every frame carries a "type" discriminator. Control frames (subscribe,
// unsubscribe, ping, pong) are produced by the connection manager itself;
// "data" frames carry opaque application payloads keyed by channel.
package wire
