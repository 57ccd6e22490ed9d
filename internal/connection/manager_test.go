package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/router"
)

func TestAcquireSameKeySharesOneConnection(t *testing.T) {
	h := newHarness(t)

	h.acquire(t, room1, "compA")
	h.acquire(t, protocol.ConnectionKey{Namespace: "default", Kind: protocol.TargetChat, Name: "room1"}, "compB")

	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, []string{"compA", "compB"}, h.m.Subscribers(room1))
	assert.Equal(t, StateOpen, h.m.State(room1))
	assert.Equal(t, "ws://gateway.test/ws/chat/default/room1?token=tok", h.dialer.last().url)

	assert.Equal(t, Stats{Connections: 1, Open: 1, Subscribers: 2}, h.m.Stats())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ConnectionsOpen))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Subscribers))
}

func TestAcquireSameSubscriberTwice(t *testing.T) {
	h := newHarness(t)

	h.acquire(t, room1, "compA")
	h.acquire(t, room1, "compA")

	assert.Equal(t, []string{"compA"}, h.m.Subscribers(room1))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Subscribers))
}

func TestAcquireDistinctKeys(t *testing.T) {
	h := newHarness(t)

	h.acquire(t, room1, "compA")
	h.acquire(t, protocol.AgentLogKey("default", "builder"), "compA")

	assert.Equal(t, 2, h.dialer.dials())
	assert.Equal(t, 2, h.m.Stats().Connections)
}

func TestAcquireRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.m.Acquire(ctx, protocol.ChatKey("", "room1"), "compA")
	assert.ErrorIs(t, err, protocol.ErrInvalidKey)

	_, err = h.m.Acquire(ctx, room1, "")
	assert.ErrorIs(t, err, ErrEmptySubscriber)

	assert.Zero(t, h.dialer.dials())
}

func TestAcquireWithoutCredentialFailsFast(t *testing.T) {
	h := newHarness(t)
	h.creds.Set("")

	_, err := h.m.Acquire(context.Background(), room1, "compA")

	assert.ErrorIs(t, err, credential.ErrCredentialMissing)
	assert.Zero(t, h.dialer.dials())
	assert.Zero(t, h.m.Stats().Connections)
}

func TestAcquireWithMalformedCredential(t *testing.T) {
	h := newHarness(t)
	h.creds.Set("bad token")

	_, err := h.m.Acquire(context.Background(), room1, "compA")

	assert.ErrorIs(t, err, credential.ErrCredentialInvalid)
	assert.Zero(t, h.dialer.dials())
}

func TestReleaseTearsDownAfterGraceWindow(t *testing.T) {
	h := newHarness(t)
	states := h.watch(room1)

	h.acquire(t, room1, "compA")
	h.acquire(t, room1, "compB")
	sock := h.dialer.last()

	h.m.Release(room1, "compA")
	h.clock.Advance(time.Minute)
	assert.Equal(t, StateOpen, h.m.State(room1), "one subscriber left")

	h.m.Release(room1, "compB")
	h.clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, h.m.State(room1))
	assert.False(t, sock.isClosed())

	h.clock.Advance(time.Second)
	assert.Zero(t, h.m.Stats().Connections)
	assert.True(t, sock.isClosed())
	assert.Equal(t, 1, states.count(StateClosing))
	assert.ErrorIs(t, states.lastOf(StateClosed).Err, ErrConnectionClosed)
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.ConnectionsOpen))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.Subscribers))
}

func TestReacquireCancelsTeardown(t *testing.T) {
	h := newHarness(t)

	h.acquire(t, room1, "compA")
	h.m.Release(room1, "compA")
	h.clock.Advance(20 * time.Second)

	h.acquire(t, room1, "compB")
	h.clock.Advance(time.Minute)

	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, StateOpen, h.m.State(room1))
	assert.Equal(t, []string{"compB"}, h.m.Subscribers(room1))
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	h := newHarness(t)
	h.m.Release(room1, "nobody")

	h.acquire(t, room1, "compA")
	h.m.Release(room1, "nobody")
	h.clock.Advance(time.Hour)

	assert.Equal(t, StateOpen, h.m.State(room1))
}

func TestReconnectBackoffAndExhaustion(t *testing.T) {
	h := newHarness(t)
	h.dialer.setFailAll(true)
	states := h.watch(room1)

	errCh := h.acquireAsync(context.Background(), room1, "compA")

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, delay := range want {
		n := i + 1
		waitFor(t, func() bool { return states.count(StateClosed) == n }, "close not observed")

		ev := states.lastOf(StateClosed)
		assert.Equal(t, delay, ev.RetryIn, "retry %d", n)
		assert.Equal(t, n, ev.Attempt)
		assert.ErrorIs(t, ev.Err, ErrTransport)

		h.clock.Advance(delay)
	}

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not return")
	}
	assert.Equal(t, 1, states.count(StateFailed))
	assert.ErrorIs(t, states.lastOf(StateFailed).Err, ErrMaxAttemptsExceeded)
	assert.Equal(t, 6, h.dialer.dials())
	assert.Equal(t, float64(5), testutil.ToFloat64(h.metrics.ReconnectAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ReconnectExhausted))

	h.clock.Advance(time.Hour)
	assert.Equal(t, 6, h.dialer.dials(), "no retry after exhaustion")
	assert.Zero(t, h.m.Stats().Connections, "failed record without subscribers is torn down")
}

func TestAttemptsResetAfterOpen(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext = 2
	states := h.watch(room1)

	errCh := h.acquireAsync(context.Background(), room1, "compA")

	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "first close")
	h.clock.Advance(time.Second)
	waitFor(t, func() bool { return states.count(StateClosed) == 2 }, "second close")
	assert.Equal(t, 2*time.Second, states.lastOf(StateClosed).RetryIn)
	h.clock.Advance(2 * time.Second)

	require.NoError(t, <-errCh)
	info, ok := h.m.Lookup(room1)
	require.True(t, ok)
	assert.Equal(t, StateOpen, info.State)
	assert.Zero(t, info.Attempts)
	assert.Equal(t, t0.Add(3*time.Second), info.LastOpenedAt)
	assert.False(t, states.lastOf(StateOpen).Reconnected)

	h.dialer.last().drop()
	waitFor(t, func() bool { return states.count(StateClosed) == 3 }, "close after drop")
	assert.Equal(t, time.Second, states.lastOf(StateClosed).RetryIn, "backoff restarts from base")
	assert.Equal(t, 1, states.count(StateClosing))

	h.clock.Advance(time.Second)
	waitFor(t, func() bool { return states.count(StateOpen) == 2 }, "reopen")
	assert.True(t, states.lastOf(StateOpen).Reconnected)
	assert.Equal(t, 4, h.dialer.dials())
}

func TestAcquireWaitsAcrossRetries(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext = 1
	states := h.watch(room1)

	errCh := h.acquireAsync(context.Background(), room1, "compA")
	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "first close")

	select {
	case <-errCh:
		t.Fatal("acquire returned before the connection opened")
	default:
	}

	h.clock.Advance(time.Second)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateOpen, h.m.State(room1))
}

func TestAcquireContextCancelReleasesSubscriber(t *testing.T) {
	h := newHarness(t)
	h.dialer.setFailAll(true)
	states := h.watch(room1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := h.acquireAsync(ctx, room1, "compA")
	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "first close")

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Empty(t, h.m.Subscribers(room1))
}

func TestFailedRecordIsRestartedByAcquire(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.MaxAttempts = 1 })
	h.dialer.setFailAll(true)
	states := h.watch(room1)

	errCh := h.acquireAsync(context.Background(), room1, "compA")
	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "first close")
	h.clock.Advance(time.Second)
	assert.ErrorIs(t, <-errCh, ErrMaxAttemptsExceeded)
	assert.Equal(t, StateFailed, h.m.State(room1))

	h.dialer.setFailAll(false)
	h.acquire(t, room1, "compA")

	assert.Equal(t, StateOpen, h.m.State(room1))
	assert.Equal(t, 3, h.dialer.dials())
}

func TestCredentialLostBeforeRetryFailsRecord(t *testing.T) {
	h := newHarness(t)
	states := h.watch(room1)

	h.acquire(t, room1, "compA")
	h.creds.Set("")
	h.dialer.last().drop()
	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "close after drop")

	h.clock.Advance(time.Second)
	waitFor(t, func() bool { return states.count(StateFailed) == 1 }, "failure")
	assert.ErrorIs(t, states.lastOf(StateFailed).Err, credential.ErrCredentialMissing)
	assert.Equal(t, 1, h.dialer.dials())
}

func TestMalformedFrameDeliveredAsRaw(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, room1, "compA")

	got := make(chan protocol.Frame, 1)
	h.router.On(room1, router.EventMessage, func(f protocol.Frame) { got <- f })

	h.dialer.last().push("plain log line, not json")

	select {
	case f := <-got:
		assert.Equal(t, protocol.TypeRaw, f.Type)
		var raw protocol.RawMessage
		require.NoError(t, f.Bind(&raw))
		assert.Equal(t, "plain log line, not json", raw.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("raw frame not delivered")
	}
	assert.Equal(t, StateOpen, h.m.State(room1))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.DecodeFallbacks))
}

func TestFramesDeliveredInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, room1, "compA")
	h.acquire(t, room1, "compB")

	const n = 100
	seen := make(chan string, n)
	h.router.On(room1, protocol.TypeChatMessage, func(f protocol.Frame) { seen <- f.MessageID })

	sock := h.dialer.last()
	for i := 0; i < n; i++ {
		sock.push(fmt.Sprintf(`{"type":"chat_message","data":{"user":"u","content":"c"},"from":"server","messageId":"m-%03d"}`, i))
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-seen:
			assert.Equal(t, fmt.Sprintf("m-%03d", i), got)
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %d not delivered", i)
		}
	}
	select {
	case extra := <-seen:
		t.Fatalf("duplicate delivery %q", extra)
	default:
	}
}

func TestHeartbeatWhileOpen(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, room1, "compA")
	sock := h.dialer.last()

	var all atomic.Int32
	h.router.On(room1, router.EventAll, func(protocol.Frame) { all.Add(1) })

	h.clock.Advance(29 * time.Second)
	assert.Empty(t, sock.written(t, protocol.TypePing))

	h.clock.Advance(time.Second)
	pings := sock.written(t, protocol.TypePing)
	require.Len(t, pings, 1)
	assert.Empty(t, pings[0].Data)
	assert.Equal(t, "agentlink", pings[0].From)

	h.clock.Advance(30 * time.Second)
	assert.Len(t, sock.written(t, protocol.TypePing), 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Heartbeats))

	sock.push(`{"type":"pong","timestamp":"2026-01-01T00:01:00.000Z","from":"server"}`)
	sock.push(`{"type":"typing","data":{"user":"u","isTyping":true},"timestamp":"2026-01-01T00:01:00.000Z","from":"server"}`)
	waitFor(t, func() bool { return all.Load() == 1 }, "typing delivered")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), all.Load(), "pong is never delivered")
}

func TestHeartbeatStopsWhenClosed(t *testing.T) {
	h := newHarness(t)
	states := h.watch(room1)
	h.acquire(t, room1, "compA")
	sock := h.dialer.last()

	h.dialer.setFailAll(true)
	sock.drop()
	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "close after drop")

	h.clock.Advance(30 * time.Second)
	assert.Empty(t, sock.written(t, protocol.TypePing))
}

func TestDisconnectIsImmediateAndFinal(t *testing.T) {
	h := newHarness(t)
	states := h.watch(room1)
	h.acquire(t, room1, "compA")
	h.acquire(t, room1, "compB")
	sock := h.dialer.last()

	h.m.Disconnect(room1)

	assert.True(t, sock.isClosed())
	assert.Zero(t, h.m.Stats().Connections)
	assert.Equal(t, 1, states.count(StateClosed))

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.dialer.dials(), "manual close never reconnects")

	err := h.m.Send(context.Background(), room1, protocol.Frame{Type: protocol.TypeRefresh})
	assert.ErrorIs(t, err, ErrNotConnected)

	h.acquire(t, room1, "compA")
	assert.Equal(t, 2, h.dialer.dials(), "acquire after disconnect creates a fresh record")
}

func TestDisconnectWhileConnecting(t *testing.T) {
	h := newHarness(t)
	h.dialer.setFailAll(true)
	states := h.watch(room1)

	errCh := h.acquireAsync(context.Background(), room1, "compA")
	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "first close")

	h.m.Disconnect(room1)
	assert.ErrorIs(t, <-errCh, ErrConnectionClosed)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.dialer.dials())
}

func TestSend(t *testing.T) {
	h := newHarness(t)

	err := h.m.Send(context.Background(), room1, protocol.Frame{Type: protocol.TypeRefresh})
	assert.ErrorIs(t, err, ErrNotConnected)

	handle := h.acquire(t, room1, "compA")
	f, err := protocol.NewFrame(protocol.TypeSendMessage, "", protocol.SendMessage{Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, handle.Send(context.Background(), f))

	sent := h.dialer.last().written(t, protocol.TypeSendMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, "agentlink", sent[0].From)
	var msg protocol.SendMessage
	require.NoError(t, sent[0].Bind(&msg))
	assert.Equal(t, "hi", msg.Content)

	h.creds.Set("")
	assert.ErrorIs(t, handle.Send(context.Background(), f), credential.ErrCredentialMissing)
}

func TestCommands(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, room1, "compA")
	sock := h.dialer.last()

	results := make(chan protocol.Frame, 1)
	h.router.On(room1, protocol.TypeRawCommandResult, func(f protocol.Frame) { results <- f })

	cmdID, err := h.m.SendCommand(context.Background(), room1, "builder", "ls -la")
	require.NoError(t, err)
	pending := h.m.PendingCommands(room1)
	require.Len(t, pending, 1)
	assert.Equal(t, PendingCommand{CommandID: cmdID, AgentName: "builder", Command: "ls -la", IssuedAt: t0}, pending[0])

	sent := sock.written(t, protocol.TypeRawCommand)
	require.Len(t, sent, 1)
	var cmd protocol.RawCommand
	require.NoError(t, sent[0].Bind(&cmd))
	assert.Equal(t, cmdID, cmd.CommandID)

	result, _ := json.Marshal(map[string]any{
		"type": protocol.TypeRawCommandResult,
		"data": protocol.RawCommandResult{CommandID: cmdID, Output: "total 0"},
	})
	sock.push(string(result))
	select {
	case <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("command result not delivered")
	}
	assert.Empty(t, h.m.PendingCommands(room1))

	other, err := h.m.SendCommand(context.Background(), room1, "builder", "sleep 100")
	require.NoError(t, err)
	assert.NotEqual(t, cmdID, other)
	require.NoError(t, h.m.CancelCommand(context.Background(), room1, other))
	assert.Empty(t, h.m.PendingCommands(room1))
	assert.Len(t, sock.written(t, protocol.TypeRawCommandCancel), 1)
	assert.ErrorIs(t, h.m.CancelCommand(context.Background(), room1, other), ErrUnknownCommand)
}

func TestCommandsDroppedOnClose(t *testing.T) {
	h := newHarness(t)
	states := h.watch(room1)
	h.acquire(t, room1, "compA")

	_, err := h.m.SendCommand(context.Background(), room1, "builder", "make")
	require.NoError(t, err)

	h.dialer.last().drop()
	waitFor(t, func() bool { return states.count(StateClosed) == 1 }, "close after drop")
	assert.Empty(t, h.m.PendingCommands(room1))

	_, err = h.m.SendCommand(context.Background(), room1, "builder", "make")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisposeAll(t *testing.T) {
	h := newHarness(t)
	logs := protocol.AgentLogKey("default", "builder")
	h.acquire(t, room1, "compA")
	first := h.dialer.last()
	h.acquire(t, logs, "compA")
	second := h.dialer.last()
	h.router.On(room1, router.EventAll, func(protocol.Frame) {})

	require.NoError(t, h.m.DisposeAll(context.Background()))

	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
	assert.Equal(t, Stats{}, h.m.Stats())
	assert.Zero(t, h.router.Len(room1))
}
