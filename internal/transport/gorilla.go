package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaDialer dials with github.com/gorilla/websocket.
type GorillaDialer struct {
	opts   Options
	dialer *websocket.Dialer
}

// NewGorillaDialer creates a gorilla-backed dialer.
func NewGorillaDialer(opts Options) *GorillaDialer {
	return &GorillaDialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Socket, error) {
	var header http.Header
	if d.opts.Origin != "" {
		header = http.Header{"Origin": []string{d.opts.Origin}}
	}

	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.opts.ReadLimit > 0 {
		conn.SetReadLimit(d.opts.ReadLimit)
	}
	return &gorillaSocket{conn: conn, writeTimeout: d.opts.WriteTimeout}, nil
}

type gorillaSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent writer
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *gorillaSocket) Read(ctx context.Context) ([]byte, error) {
	// ReadMessage has no context support; a cancelled ctx is honoured by
	// closing the socket, which unblocks the read.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *gorillaSocket) Write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deadline time.Time
	if s.writeTimeout > 0 {
		deadline = time.Now().Add(s.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (s *gorillaSocket) Close() error {
	s.closeOnce.Do(func() {
		// WriteControl may run concurrently with WriteMessage
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
