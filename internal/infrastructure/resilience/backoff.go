package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned by Next once MaxAttempts retries were handed out.
var ErrExhausted = errors.New("retry attempts exhausted")

// Settings configures an exponential backoff.
type Settings struct {
	// Base is the delay before the first retry
	Base time.Duration
	// Cap bounds every delay
	Cap time.Duration
	// MaxAttempts is the number of retries before giving up; 0 means unlimited
	MaxAttempts int
	// OnExhausted is called once per Reset cycle when Next first returns
	// ErrExhausted, outside the backoff's lock
	OnExhausted func(name string, attempts int)
}

// Backoff hands out retry delays min(Base*2^(n-1), Cap) for the n-th
// consecutive retry and counts attempts until Reset.
type Backoff struct {
	name     string
	settings Settings

	mu        sync.Mutex
	attempts  int
	exhausted bool
}

// NewBackoff creates a backoff with the given settings
func NewBackoff(name string, settings Settings) *Backoff {
	if settings.Base <= 0 {
		settings.Base = time.Second
	}
	if settings.Cap < settings.Base {
		settings.Cap = settings.Base
	}
	return &Backoff{name: name, settings: settings}
}

// Delay returns the delay of the n-th retry (1-based) without changing state.
func (b *Backoff) Delay(n int) time.Duration {
	return Delay(b.settings.Base, b.settings.Cap, n)
}

// Next consumes one attempt and returns its delay, or ErrExhausted when
// MaxAttempts retries were already handed out since the last Reset.
func (b *Backoff) Next() (time.Duration, error) {
	b.mu.Lock()
	if b.settings.MaxAttempts > 0 && b.attempts >= b.settings.MaxAttempts {
		first := !b.exhausted
		b.exhausted = true
		attempts := b.attempts
		b.mu.Unlock()

		if first && b.settings.OnExhausted != nil {
			b.settings.OnExhausted(b.name, attempts)
		}
		return 0, ErrExhausted
	}
	b.attempts++
	n := b.attempts
	b.mu.Unlock()

	return b.Delay(n), nil
}

// Attempts returns the number of retries handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset clears the attempt counter, e.g. after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
	b.exhausted = false
}

// Delay computes min(base*2^(n-1), limit) without overflowing.
func Delay(base, limit time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		if d >= limit || d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}
