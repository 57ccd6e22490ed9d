package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades with gorilla and echoes every text frame, prefixed
// with the token query parameter of the handshake.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, append([]byte(token+":"), data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=abc"
}

func TestDriversEcho(t *testing.T) {
	for _, driver := range []string{DriverGorilla, DriverNhooyr} {
		t.Run(driver, func(t *testing.T) {
			srv := echoServer(t)
			dialer, err := NewDialer(driver, DefaultOptions())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			sock, err := dialer.Dial(ctx, wsURL(srv))
			require.NoError(t, err)
			defer sock.Close()

			require.NoError(t, sock.Write(ctx, []byte(`{"type":"ping"}`)))
			got, err := sock.Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, `abc:{"type":"ping"}`, string(got))
		})
	}
}

func TestDialFailure(t *testing.T) {
	for _, driver := range []string{DriverGorilla, DriverNhooyr} {
		t.Run(driver, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			}))
			defer srv.Close()

			dialer, err := NewDialer(driver, DefaultOptions())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err = dialer.Dial(ctx, wsURL(srv))
			assert.Error(t, err)
		})
	}
}

func TestReadUnblocksOnContextCancel(t *testing.T) {
	srv := echoServer(t)
	dialer := NewGorillaDialer(DefaultOptions())

	sock, err := dialer.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := sock.Read(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not unblock")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	sock, err := NewGorillaDialer(DefaultOptions()).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	assert.NoError(t, sock.Close())
	assert.NoError(t, sock.Close())
}

func TestNewDialerUnknownDriver(t *testing.T) {
	_, err := NewDialer("carrier-pigeon", DefaultOptions())
	assert.Error(t, err)
}
