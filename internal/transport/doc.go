// Package transport wraps one physical WebSocket to one endpoint URL.
//
// A Socket moves raw text frames in and out and carries no business
// meaning. Two drivers are provided:
//   - gorilla: github.com/gorilla/websocket (default)
//   - nhooyr: nhooyr.io/websocket
//
// Writes on a Socket are serialized internally, so callers may write from
// several goroutines while a single goroutine reads.
package transport
