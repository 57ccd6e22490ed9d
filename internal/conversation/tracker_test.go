package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/id"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*Tracker, *clock.Fake, *monitoring.Metrics) {
	t.Helper()
	fc := clock.NewFake(t0)
	metrics := monitoring.NewMetrics("test")
	tr := NewTracker(Settings{Clock: fc, Metrics: metrics})
	return tr, fc, metrics
}

func TestStart(t *testing.T) {
	tr, _, metrics := newTracker(t)

	rec := tr.Start("builder", "default")

	assert.True(t, strings.HasPrefix(rec.ID, id.ConversationPrefix+"_"), rec.ID)
	assert.Equal(t, StatusThinking, rec.Status)
	assert.Equal(t, t0, rec.CreatedAt)
	assert.Equal(t, t0.Add(30*time.Second), rec.TimeoutAt)
	assert.Empty(t, rec.AccumulatedContent)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConversationsStarted))

	other := tr.Start("builder", "default")
	assert.NotEqual(t, rec.ID, other.ID)
}

func TestThinkingContentAccumulates(t *testing.T) {
	tr, _, _ := newTracker(t)
	rec := tr.Start("builder", "default")

	require.NoError(t, tr.UpdateThinkingContent(rec.ID, "Let me "))
	require.NoError(t, tr.UpdateThinkingContent(rec.ID, "think"))

	got, ok := tr.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "Let me think", got.AccumulatedContent)
	assert.Equal(t, StatusThinking, got.Status)

	assert.ErrorIs(t, tr.UpdateThinkingContent("conv_missing", "x"), ErrNotFound)
}

func TestComplete(t *testing.T) {
	tr, fc, metrics := newTracker(t)
	rec := tr.Start("builder", "default")

	fc.Advance(10 * time.Second)
	require.NoError(t, tr.Complete(rec.ID, "done"))

	got, _ := tr.Get(rec.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "done", got.FinalContent)
	assert.Equal(t, int64(10000), got.DurationMs)
	assert.Equal(t, t0.Add(10*time.Second), got.EndedAt)
	assert.NoError(t, got.Err())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConversationsEnded.WithLabelValues("completed")))

	fc.Advance(time.Minute)
	got, _ = tr.Get(rec.ID)
	assert.Equal(t, StatusCompleted, got.Status, "completed at 10s never times out")
}

func TestTimeoutFires(t *testing.T) {
	tr, fc, _ := newTracker(t)
	rec := tr.Start("builder", "default")

	fc.Advance(29999 * time.Millisecond)
	got, _ := tr.Get(rec.ID)
	assert.Equal(t, StatusThinking, got.Status)

	fc.Advance(time.Millisecond)
	got, _ = tr.Get(rec.ID)
	assert.Equal(t, StatusTimeout, got.Status)
	assert.Equal(t, "no reply within 30s", got.Error)
	assert.Equal(t, int64(30000), got.DurationMs)
	assert.ErrorIs(t, got.Err(), ErrConversationTimeout)
}

func TestStaleTimerAfterLateCompletion(t *testing.T) {
	tr, fc, _ := newTracker(t)
	rec := tr.Start("builder", "default")

	fc.Advance(29999 * time.Millisecond)
	require.NoError(t, tr.Complete(rec.ID, "just in time"))
	before, _ := tr.Get(rec.ID)

	fc.Advance(time.Millisecond)

	after, _ := tr.Get(rec.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, int64(29999), after.DurationMs)
	assert.Empty(t, after.Error)
}

func TestSingleTerminalTransition(t *testing.T) {
	terminate := map[string]func(tr *Tracker, fc *clock.Fake, conversationID string){
		"completed": func(tr *Tracker, _ *clock.Fake, conversationID string) { _ = tr.Complete(conversationID, "final") },
		"error":     func(tr *Tracker, _ *clock.Fake, conversationID string) { _ = tr.HandleError(conversationID, "agent crashed") },
		"timeout":   func(_ *Tracker, fc *clock.Fake, _ string) { fc.Advance(30 * time.Second) },
	}

	for name, end := range terminate {
		t.Run(name, func(t *testing.T) {
			tr, fc, _ := newTracker(t)
			rec := tr.Start("builder", "default")
			end(tr, fc, rec.ID)

			ended, _ := tr.Get(rec.ID)
			require.Equal(t, Status(name), ended.Status)

			assert.ErrorIs(t, tr.UpdateThinkingContent(rec.ID, "late"), ErrEnded)
			assert.ErrorIs(t, tr.Complete(rec.ID, "late"), ErrEnded)
			assert.ErrorIs(t, tr.HandleError(rec.ID, "late"), ErrEnded)
			fc.Advance(time.Minute)

			final, _ := tr.Get(rec.ID)
			assert.Equal(t, ended, final)
		})
	}
}

func TestHandleError(t *testing.T) {
	tr, fc, _ := newTracker(t)
	rec := tr.Start("builder", "default")

	fc.Advance(2 * time.Second)
	require.NoError(t, tr.HandleError(rec.ID, "agent crashed"))

	got, _ := tr.Get(rec.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "agent crashed", got.Error)
	assert.Equal(t, int64(2000), got.DurationMs)
	assert.ErrorIs(t, got.Err(), ErrConversationError)
}

func TestRetryCreatesNewRecord(t *testing.T) {
	tr, fc, _ := newTracker(t)
	rec := tr.Start("builder", "ns1")
	fc.Advance(30 * time.Second)

	retried, err := tr.Retry(rec.ID)
	require.NoError(t, err)

	assert.NotEqual(t, rec.ID, retried.ID)
	assert.Equal(t, "builder", retried.Target)
	assert.Equal(t, "ns1", retried.Namespace)
	assert.Equal(t, StatusThinking, retried.Status)
	assert.Equal(t, t0.Add(60*time.Second), retried.TimeoutAt)

	_, ok := tr.Get(rec.ID)
	assert.False(t, ok, "old record discarded")
	assert.Len(t, tr.List(), 1)

	_, err = tr.Retry(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationsAreIndependent(t *testing.T) {
	tr, fc, _ := newTracker(t)
	a := tr.Start("alpha", "default")
	fc.Advance(10 * time.Second)
	b := tr.Start("beta", "default")

	require.NoError(t, tr.HandleError(b.ID, "boom"))
	fc.Advance(20 * time.Second)

	gotA, _ := tr.Get(a.ID)
	gotB, _ := tr.Get(b.ID)
	assert.Equal(t, StatusTimeout, gotA.Status)
	assert.Equal(t, StatusError, gotB.Status)
}

func TestFailThinking(t *testing.T) {
	tr, _, _ := newTracker(t)
	a := tr.Start("builder", "default")
	b := tr.Start("builder", "default")
	other := tr.Start("reviewer", "default")
	done := tr.Start("builder", "default")
	require.NoError(t, tr.Complete(done.ID, "ok"))

	n := tr.FailThinking("builder", "default", "connection interrupted", time.Time{})
	assert.Equal(t, 2, n)

	for _, conversationID := range []string{a.ID, b.ID} {
		got, _ := tr.Get(conversationID)
		assert.Equal(t, StatusError, got.Status)
		assert.Equal(t, "connection interrupted", got.Error)
	}
	got, _ := tr.Get(other.ID)
	assert.Equal(t, StatusThinking, got.Status)
	got, _ = tr.Get(done.ID)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestFailThinkingCutoff(t *testing.T) {
	tr, fc, _ := newTracker(t)
	before := tr.Start("builder", "default")
	fc.Advance(time.Second)
	cutoff := fc.Now()
	after := tr.Start("builder", "default")

	assert.Equal(t, 1, tr.FailThinking("builder", "default", "connection interrupted", cutoff))

	got, _ := tr.Get(before.ID)
	assert.Equal(t, StatusError, got.Status)
	got, _ = tr.Get(after.ID)
	assert.Equal(t, StatusThinking, got.Status)
}

func TestRetryKeepsPrompt(t *testing.T) {
	tr, _, _ := newTracker(t)
	rec := tr.StartPrompt("builder", "default", "build it")
	require.NoError(t, tr.HandleError(rec.ID, "boom"))

	retried, err := tr.Retry(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "build it", retried.Prompt)
}

func TestSweep(t *testing.T) {
	tr, fc, metrics := newTracker(t)
	old := tr.Start("builder", "default")
	require.NoError(t, tr.Complete(old.ID, "ok"))
	fc.Advance(4 * time.Minute)
	recent := tr.Start("builder", "default")
	require.NoError(t, tr.Complete(recent.ID, "ok"))
	thinking := tr.Start("reviewer", "default")

	fc.Advance(61 * time.Second)
	thinkingRec, _ := tr.Get(thinking.ID)
	require.Equal(t, StatusTimeout, thinkingRec.Status)

	assert.Equal(t, 1, tr.Sweep())
	_, ok := tr.Get(old.ID)
	assert.False(t, ok)
	_, ok = tr.Get(recent.ID)
	assert.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConversationsSwept))

	fc.Advance(5 * time.Minute)
	assert.Equal(t, 2, tr.Sweep())
	assert.Empty(t, tr.List())
}

func TestSweepKeepsThinking(t *testing.T) {
	fc := clock.NewFake(t0)
	tr := NewTracker(Settings{Clock: fc, Timeout: time.Hour})
	rec := tr.Start("builder", "default")

	fc.Advance(10 * time.Minute)
	assert.Zero(t, tr.Sweep())
	_, ok := tr.Get(rec.ID)
	assert.True(t, ok)
}

func TestRunSweepsPeriodically(t *testing.T) {
	tr, fc, _ := newTracker(t)
	rec := tr.Start("builder", "default")
	require.NoError(t, tr.Complete(rec.ID, "ok"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	// Give Run a chance to register its ticker before time moves.
	require.Eventually(t, func() bool {
		fc.Advance(time.Minute)
		_, ok := tr.Get(rec.ID)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSubscribe(t *testing.T) {
	tr, fc, _ := newTracker(t)

	var mu sync.Mutex
	var seen []Status
	unsubscribe := tr.Subscribe(func(r Record) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Status)
	})
	tr.Subscribe(func(Record) { panic("boom") })

	rec := tr.Start("builder", "default")
	require.NoError(t, tr.UpdateThinkingContent(rec.ID, "x"))
	fc.Advance(30 * time.Second)
	unsubscribe()
	tr.Start("builder", "default")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusThinking, StatusThinking, StatusTimeout}, seen)
}
