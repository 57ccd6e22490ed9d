package connection

import "errors"

var (
	// ErrNotConnected is returned by Send when the record is not open.
	// Callers may queue and flush on the next open.
	ErrNotConnected = errors.New("not connected")
	// ErrMaxAttemptsExceeded is terminal for a record until it is acquired again.
	ErrMaxAttemptsExceeded = errors.New("max reconnect attempts exceeded")
	// ErrConnectionClosed is returned to waiters when the record was
	// disconnected or torn down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrTransport wraps socket level failures.
	ErrTransport = errors.New("transport error")
	// ErrUnknownCommand is returned when cancelling a command that is not pending.
	ErrUnknownCommand = errors.New("unknown command")
)
