/*
Package resilience provides the reconnect backoff policy.

# Overview

A Backoff hands out exponentially growing, capped delays for consecutive
retries and stops after a bounded number of attempts. The n-th retry waits

	min(Base * 2^(n-1), Cap)

and a successful connect calls Reset, which starts the sequence over.

# Usage

	b := resilience.NewBackoff("default/chat/room1", resilience.Settings{
		Base:        time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
	})

	delay, err := b.Next()
	if errors.Is(err, resilience.ErrExhausted) {
		// surface MaxAttemptsExceeded
	}
*/
package resilience
