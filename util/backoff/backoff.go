package backoff

import (
	"context"
	"time"
)

const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
)

// Backoff is an exponential reconnect delay. It is not safe for concurrent
// use; each reconnect loop owns its own Backoff.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	currentDelay time.Duration
	attempts     int
}

// New creates a new Backoff. initialDelay is the delay before the first
// retry, maxDelay caps the delay and multiplier is applied after each wait.
func New(initialDelay, maxDelay time.Duration, multiplier float64) *Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}
	return &Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		currentDelay: initialDelay,
	}
}

// NewDefault returns the backoff used between stream reconnects.
func NewDefault() *Backoff {
	return New(DefaultInitialDelay, DefaultMaxDelay, DefaultMultiplier)
}

// Wait sleeps for the current delay and then grows it. Returns ctx.Err() if
// the context is done first; the delay is left unchanged in that case.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.attempts++
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.multiplier)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset goes back to the initial delay, typically after a stream that
// delivered at least one record.
func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
	b.attempts = 0
}

// CurrentDelay returns the delay the next Wait will use.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}

// Attempts returns the number of completed waits since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
