package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// NhooyrDialer dials with nhooyr.io/websocket.
type NhooyrDialer struct {
	opts Options
}

// NewNhooyrDialer creates an nhooyr-backed dialer.
func NewNhooyrDialer(opts Options) *NhooyrDialer {
	return &NhooyrDialer{opts: opts}
}

func (d *NhooyrDialer) Dial(ctx context.Context, url string) (Socket, error) {
	if d.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.HandshakeTimeout)
		defer cancel()
	}

	dialOpts := &websocket.DialOptions{}
	if d.opts.Origin != "" {
		dialOpts.HTTPHeader = http.Header{"Origin": []string{d.opts.Origin}}
	}

	conn, resp, err := websocket.Dial(ctx, url, dialOpts)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.opts.ReadLimit > 0 {
		conn.SetReadLimit(d.opts.ReadLimit)
	}
	return &nhooyrSocket{conn: conn, writeTimeout: d.opts.WriteTimeout}, nil
}

type nhooyrSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *nhooyrSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return nil, err
	}
	return data, nil
}

func (s *nhooyrSocket) Write(ctx context.Context, data []byte) error {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *nhooyrSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return s.closeErr
}
