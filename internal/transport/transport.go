package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxMessageSize bounds a single inbound frame.
const MaxMessageSize = 1 << 20

// ErrClosed is returned by operations on a socket that has been closed.
var ErrClosed = errors.New("socket closed")

// Socket is one open duplex connection.
type Socket interface {
	// Read blocks until the next text frame arrives.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Socket, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Socket, error) { return f(ctx, url) }

// Driver names accepted by NewDialer.
const (
	DriverGorilla = "gorilla"
	DriverNhooyr  = "nhooyr"
)

// Options configures the concrete drivers.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	// Origin is sent as the Origin header when non-empty.
	Origin string
}

// DefaultOptions returns the driver defaults.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        MaxMessageSize,
	}
}

// NewDialer returns the dialer for driver.
func NewDialer(driver string, opts Options) (Dialer, error) {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = MaxMessageSize
	}
	switch driver {
	case "", DriverGorilla:
		return NewGorillaDialer(opts), nil
	case DriverNhooyr:
		return NewNhooyrDialer(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", driver)
	}
}
