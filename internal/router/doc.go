// Package router maps routing keys (channels) to subscription handlers.
//
// The registry is the client-owned desired state: it survives reconnection
// and is used to regenerate subscribe-assertion frames for every channel
// with at least one handler whenever a connection is (re)established.
package router
