package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/clock"
)

// ErrDiscard, returned by a Flush send function, drops the message
// without sending it.
var ErrDiscard = errors.New("outbox: message discarded")

// PendingMessage is an outbound message awaiting acknowledgement.
type PendingMessage struct {
	TempID     string
	Content    string
	SentAt     time.Time
	RetryCount int
	// Meta carries caller data needed to rebuild the frame on resend.
	Meta map[string]string

	seq uint64
}

// Settings configures an Outbox.
type Settings struct {
	MaxRetries int
	MaxAge     time.Duration
	// FlushRate limits resends per second; FlushBurst is the bucket size.
	FlushRate  float64
	FlushBurst int

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultSettings returns 3 retries, a 2 minute lifetime and 20 resends/s.
func DefaultSettings() Settings {
	return Settings{
		MaxRetries: 3,
		MaxAge:     2 * time.Minute,
		FlushRate:  20,
		FlushBurst: 5,
	}
}

// Outbox is safe for concurrent use.
type Outbox struct {
	settings Settings
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	limiter  *rate.Limiter

	mu      sync.Mutex
	seq     uint64
	pending map[string]*PendingMessage
}

// New creates an outbox.
func New(settings Settings) *Outbox {
	d := DefaultSettings()
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = d.MaxRetries
	}
	if settings.MaxAge <= 0 {
		settings.MaxAge = d.MaxAge
	}
	if settings.FlushRate <= 0 {
		settings.FlushRate = d.FlushRate
	}
	if settings.FlushBurst <= 0 {
		settings.FlushBurst = d.FlushBurst
	}
	if settings.Clock == nil {
		settings.Clock = clock.Real()
	}
	settings.Logger = logging.OrNop(settings.Logger)

	return &Outbox{
		settings: settings,
		clock:    settings.Clock,
		logger:   settings.Logger.Named("outbox"),
		metrics:  settings.Metrics,
		limiter:  rate.NewLimiter(rate.Limit(settings.FlushRate), settings.FlushBurst),
		pending:  make(map[string]*PendingMessage),
	}
}

// Track registers content under a fresh temporary id.
func (o *Outbox) Track(content string, meta map[string]string) PendingMessage {
	msg := &PendingMessage{
		TempID:  uuid.NewString(),
		Content: content,
		SentAt:  o.clock.Now(),
		Meta:    meta,
	}

	o.mu.Lock()
	o.seq++
	msg.seq = o.seq
	o.pending[msg.TempID] = msg
	n := len(o.pending)
	o.mu.Unlock()

	o.metrics.SetOutboxPending(n)
	return *msg
}

// Ack removes tempID. It reports whether the message was pending.
func (o *Outbox) Ack(tempID string) bool {
	o.mu.Lock()
	_, ok := o.pending[tempID]
	delete(o.pending, tempID)
	n := len(o.pending)
	o.mu.Unlock()

	if ok {
		o.metrics.SetOutboxPending(n)
	}
	return ok
}

// Drop removes and returns every pending message matching fn.
func (o *Outbox) Drop(fn func(PendingMessage) bool) []PendingMessage {
	o.mu.Lock()
	var out []PendingMessage
	for key, msg := range o.pending {
		if fn(*msg) {
			out = append(out, *msg)
			delete(o.pending, key)
		}
	}
	n := len(o.pending)
	o.mu.Unlock()

	if len(out) > 0 {
		sortMessages(out)
		o.metrics.SetOutboxPending(n)
	}
	return out
}

// Get returns the pending message with tempID.
func (o *Outbox) Get(tempID string) (PendingMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg, ok := o.pending[tempID]
	if !ok {
		return PendingMessage{}, false
	}
	return *msg, true
}

// Len returns the number of pending messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Due returns the messages that may still be sent at now, oldest first.
func (o *Outbox) Due(now time.Time) []PendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []PendingMessage
	for _, msg := range o.pending {
		if o.liveLocked(msg, now) {
			out = append(out, *msg)
		}
	}
	sortMessages(out)
	return out
}

func (o *Outbox) liveLocked(msg *PendingMessage, now time.Time) bool {
	return msg.RetryCount < o.settings.MaxRetries && now.Sub(msg.SentAt) <= o.settings.MaxAge
}

// MarkRetried increments the retry count of tempID up to MaxRetries and
// returns the new count.
func (o *Outbox) MarkRetried(tempID string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg, ok := o.pending[tempID]
	if !ok {
		return 0, false
	}
	if msg.RetryCount < o.settings.MaxRetries {
		msg.RetryCount++
		o.metrics.RecordOutboxRetry()
	}
	return msg.RetryCount, true
}

// Expire removes and returns messages that aged out or used up their
// retries.
func (o *Outbox) Expire() []PendingMessage {
	now := o.clock.Now()

	o.mu.Lock()
	var out []PendingMessage
	for key, msg := range o.pending {
		if !o.liveLocked(msg, now) {
			out = append(out, *msg)
			delete(o.pending, key)
		}
	}
	n := len(o.pending)
	o.mu.Unlock()

	if len(out) > 0 {
		sortMessages(out)
		o.metrics.RecordOutboxExpired(len(out))
		o.metrics.SetOutboxPending(n)
		o.logger.Warn("outbound messages expired", zap.Int("count", len(out)))
	}
	return out
}

// Flush expires dead messages and re-sends the rest through send, oldest
// first, throttled by the flush rate. A message is marked retried only when
// send succeeds; one whose send returns ErrDiscard is removed. Flush
// stops at the first other send error and returns it with the number of
// messages sent.
func (o *Outbox) Flush(ctx context.Context, send func(PendingMessage) error) (int, error) {
	o.Expire()

	sent := 0
	for _, msg := range o.Due(o.clock.Now()) {
		if err := o.limiter.Wait(ctx); err != nil {
			return sent, err
		}
		// Acked while waiting.
		if _, ok := o.Get(msg.TempID); !ok {
			continue
		}
		err := send(msg)
		if errors.Is(err, ErrDiscard) {
			o.Ack(msg.TempID)
			continue
		}
		if err != nil {
			return sent, err
		}
		o.MarkRetried(msg.TempID)
		sent++
	}
	if sent > 0 {
		o.logger.Debug("outbox flushed", zap.Int("sent", sent))
	}
	return sent, nil
}

func sortMessages(msgs []PendingMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].seq < msgs[j].seq
	})
}
