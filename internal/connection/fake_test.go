package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/codec"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errRefused = errors.New("connection refused")

type fakeSocket struct {
	url       string
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeSocket(url string) *fakeSocket {
	return &fakeSocket{url: url, in: make(chan []byte, 128), closed: make(chan struct{})}
}

func (s *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(_ context.Context, data []byte) error {
	select {
	case <-s.closed:
		return transport.ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// push delivers text as if the server sent it.
func (s *fakeSocket) push(text string) {
	s.in <- []byte(text)
}

// drop simulates the server going away.
func (s *fakeSocket) drop() {
	_ = s.Close()
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// written decodes every frame written so far, optionally filtered by type.
func (s *fakeSocket) written(t *testing.T, frameType string) []protocol.Frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Frame
	for _, w := range s.writes {
		f, err := codec.Decode(w)
		require.NoError(t, err)
		if frameType == "" || f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	failAll  bool
	failNext int
	urls     []string
	sockets  []*fakeSocket
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if d.failAll || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, errRefused
	}
	s := newFakeSocket(url)
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) setFailAll(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAll = v
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

type stateLog struct {
	mu     sync.Mutex
	events []router.StateEvent
}

func (l *stateLog) add(ev router.StateEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *stateLog) snapshot() []router.StateEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]router.StateEvent(nil), l.events...)
}

func (l *stateLog) count(state State) int {
	n := 0
	for _, ev := range l.snapshot() {
		if ev.State == string(state) {
			n++
		}
	}
	return n
}

func (l *stateLog) lastOf(state State) router.StateEvent {
	events := l.snapshot()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].State == string(state) {
			return events[i]
		}
	}
	return router.StateEvent{}
}

type harness struct {
	m       *Manager
	clock   *clock.Fake
	dialer  *fakeDialer
	router  *router.Router
	creds   *credential.Static
	metrics *monitoring.Metrics
}

var (
	room1 = protocol.ChatKey("default", "room1")
	t0    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newHarness(t *testing.T, opts ...func(*Settings)) *harness {
	t.Helper()

	h := &harness{
		clock:   clock.NewFake(t0),
		dialer:  &fakeDialer{},
		creds:   credential.NewStatic("tok", nil),
		metrics: monitoring.NewMetrics("test"),
	}
	h.router = router.New(nil, h.metrics)

	s := DefaultSettings()
	s.Endpoints = protocol.DefaultEndpoints("http://gateway.test")
	s.Credentials = h.creds
	s.Dialer = h.dialer
	s.Router = h.router
	s.Clock = h.clock
	s.Metrics = h.metrics
	for _, opt := range opts {
		opt(&s)
	}

	m, err := NewManager(s)
	require.NoError(t, err)
	h.m = m
	t.Cleanup(func() {
		require.NoError(t, m.DisposeAll(context.Background()))
	})
	return h
}

func (h *harness) watch(key protocol.ConnectionKey) *stateLog {
	l := &stateLog{}
	h.router.OnState(key, l.add)
	return l
}

func (h *harness) acquire(t *testing.T, key protocol.ConnectionKey, sub string) *Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handle, err := h.m.Acquire(ctx, key, sub)
	require.NoError(t, err)
	return handle
}

// acquireAsync runs Acquire on its own goroutine and returns its result channel.
func (h *harness) acquireAsync(ctx context.Context, key protocol.ConnectionKey, sub string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		_, err := h.m.Acquire(ctx, key, sub)
		errCh <- err
	}()
	return errCh
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, time.Millisecond, msg)
}
