// Package router fans decoded frames out to listeners registered per
// connection key and event type, and publishes connection state changes.
//
// Listeners are attached to the key, not to a socket, so they survive
// reconnects and record recreation. Every listener invocation is guarded:
// a panicking listener is logged and skipped without affecting the others.
package router
