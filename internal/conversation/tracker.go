package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/id"
)

// Settings configures a Tracker.
type Settings struct {
	// Timeout is fixed per record at creation.
	Timeout       time.Duration
	SweepInterval time.Duration
	Retention     time.Duration

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultSettings returns a 30s timeout, a 60s sweep and 5m retention.
func DefaultSettings() Settings {
	return Settings{
		Timeout:       30 * time.Second,
		SweepInterval: time.Minute,
		Retention:     5 * time.Minute,
	}
}

// Tracker owns the conversation records of one session.
type Tracker struct {
	settings Settings
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu      sync.Mutex
	records map[string]*Record
	nextSub int
	subs    map[int]func(Record)
}

// NewTracker creates a tracker. Zero settings fall back to the defaults.
func NewTracker(settings Settings) *Tracker {
	d := DefaultSettings()
	if settings.Timeout <= 0 {
		settings.Timeout = d.Timeout
	}
	if settings.SweepInterval <= 0 {
		settings.SweepInterval = d.SweepInterval
	}
	if settings.Retention <= 0 {
		settings.Retention = d.Retention
	}
	if settings.Clock == nil {
		settings.Clock = clock.Real()
	}
	settings.Logger = logging.OrNop(settings.Logger)

	return &Tracker{
		settings: settings,
		clock:    settings.Clock,
		logger:   settings.Logger.Named("conversation"),
		metrics:  settings.Metrics,
		records:  make(map[string]*Record),
		subs:     make(map[int]func(Record)),
	}
}

// Subscribe registers fn for every change of every record. The returned
// function removes the subscription.
func (t *Tracker) Subscribe(fn func(Record)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSub++
	n := t.nextSub
	t.subs[n] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, n)
	}
}

// Start creates a thinking record for target and arms its deadline.
func (t *Tracker) Start(target, namespace string) Record {
	return t.StartPrompt(target, namespace, "")
}

// StartPrompt is Start for an exchange whose prompt should be kept for
// Retry.
func (t *Tracker) StartPrompt(target, namespace, prompt string) Record {
	now := t.clock.Now()
	rec := &Record{
		ID:        id.NewConversationID().String(),
		Target:    target,
		Namespace: namespace,
		Prompt:    prompt,
		Status:    StatusThinking,
		CreatedAt: now,
		TimeoutAt: now.Add(t.settings.Timeout),
	}

	t.mu.Lock()
	t.records[rec.ID] = rec
	t.armLocked(rec.ID, t.settings.Timeout)
	snap := *rec
	t.mu.Unlock()

	t.metrics.RecordConversationStarted()
	t.logger.Debug("conversation started",
		zap.String("conversation_id", snap.ID),
		zap.String("target", target),
		zap.String("namespace", namespace),
	)
	t.notify(snap)
	return snap
}

func (t *Tracker) armLocked(conversationID string, d time.Duration) {
	t.clock.AfterFunc(d, func() { t.expire(conversationID) })
}

// UpdateThinkingContent appends chunk to a thinking record.
func (t *Tracker) UpdateThinkingContent(conversationID, chunk string) error {
	t.mu.Lock()
	rec, err := t.thinkingLocked(conversationID)
	if err != nil {
		t.mu.Unlock()
		t.logger.Warn("thinking update ignored", zap.String("conversation_id", conversationID), zap.Error(err))
		return err
	}
	rec.AccumulatedContent += chunk
	snap := *rec
	t.mu.Unlock()

	t.notify(snap)
	return nil
}

// Complete moves a thinking record to completed.
func (t *Tracker) Complete(conversationID, finalContent string) error {
	return t.end(conversationID, StatusCompleted, func(r *Record) {
		r.FinalContent = finalContent
	})
}

// HandleError moves a thinking record to error.
func (t *Tracker) HandleError(conversationID, reason string) error {
	return t.end(conversationID, StatusError, func(r *Record) {
		r.Error = reason
	})
}

func (t *Tracker) expire(conversationID string) {
	t.mu.Lock()
	rec, ok := t.records[conversationID]
	if !ok || rec.Status != StatusThinking {
		// Completed or errored first; the deadline has nothing to do.
		t.mu.Unlock()
		return
	}
	rec.Error = fmt.Sprintf("no reply within %s", t.settings.Timeout)
	snap := t.endLocked(rec, StatusTimeout)
	t.mu.Unlock()

	t.ended(snap)
}

func (t *Tracker) end(conversationID string, status Status, apply func(*Record)) error {
	t.mu.Lock()
	rec, err := t.thinkingLocked(conversationID)
	if err != nil {
		t.mu.Unlock()
		t.logger.Warn("transition ignored",
			zap.String("conversation_id", conversationID),
			zap.String("to", string(status)),
			zap.Error(err),
		)
		return err
	}
	apply(rec)
	snap := t.endLocked(rec, status)
	t.mu.Unlock()

	t.ended(snap)
	return nil
}

func (t *Tracker) endLocked(rec *Record, status Status) Record {
	now := t.clock.Now()
	rec.Status = status
	rec.EndedAt = now
	rec.DurationMs = now.Sub(rec.CreatedAt).Milliseconds()
	return *rec
}

func (t *Tracker) ended(rec Record) {
	t.metrics.RecordConversationEnded(string(rec.Status), rec.Duration())
	t.logger.Debug("conversation ended",
		zap.String("conversation_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int64("duration_ms", rec.DurationMs),
	)
	t.notify(rec)
}

func (t *Tracker) thinkingLocked(conversationID string) (*Record, error) {
	rec, ok := t.records[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusThinking {
		return nil, fmt.Errorf("%w: %s", ErrEnded, rec.Status)
	}
	return rec, nil
}

// Retry replaces conversationID with a fresh thinking record for the same
// target. The old record is discarded, never reopened.
func (t *Tracker) Retry(conversationID string) (Record, error) {
	t.mu.Lock()
	old, ok := t.records[conversationID]
	if !ok {
		t.mu.Unlock()
		return Record{}, ErrNotFound
	}
	delete(t.records, conversationID)
	target, namespace, prompt := old.Target, old.Namespace, old.Prompt
	t.mu.Unlock()

	t.logger.Debug("conversation retried", zap.String("conversation_id", conversationID))
	return t.StartPrompt(target, namespace, prompt), nil
}

// FailThinking moves thinking records of target created before cutoff to
// error. A zero cutoff matches every record. It returns the number of
// records changed.
func (t *Tracker) FailThinking(target, namespace, reason string, cutoff time.Time) int {
	t.mu.Lock()
	var ids []string
	for _, rec := range t.records {
		if rec.Status != StatusThinking || rec.Target != target || rec.Namespace != namespace {
			continue
		}
		if cutoff.IsZero() || rec.CreatedAt.Before(cutoff) {
			ids = append(ids, rec.ID)
		}
	}
	t.mu.Unlock()

	n := 0
	for _, conversationID := range ids {
		if t.HandleError(conversationID, reason) == nil {
			n++
		}
	}
	return n
}

// Get returns a copy of the record.
func (t *Tracker) Get(conversationID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[conversationID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns copies of all records, oldest first.
func (t *Tracker) List() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep deletes terminal records older than the retention window.
func (t *Tracker) Sweep() int {
	now := t.clock.Now()

	t.mu.Lock()
	n := 0
	for key, rec := range t.records {
		if rec.Status == StatusThinking {
			continue
		}
		if now.Sub(rec.lastActivity()) > t.settings.Retention {
			delete(t.records, key)
			n++
		}
	}
	t.mu.Unlock()

	if n > 0 {
		t.metrics.RecordSwept(n)
		t.logger.Debug("conversations swept", zap.Int("count", n))
	}
	return n
}

// Run sweeps every SweepInterval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.settings.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			t.Sweep()
		}
	}
}

func (t *Tracker) notify(rec Record) {
	t.mu.Lock()
	subs := make([]func(Record), 0, len(t.subs))
	keys := make([]int, 0, len(t.subs))
	for k := range t.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		subs = append(subs, t.subs[k])
	}
	t.mu.Unlock()

	for _, fn := range subs {
		t.call(fn, rec)
	}
}

func (t *Tracker) call(fn func(Record), rec Record) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.RecordListenerPanic()
			t.logger.Error("conversation subscriber panicked",
				zap.String("conversation_id", rec.ID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(rec)
}
