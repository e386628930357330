package conn

import (
	"math/rand"
	"time"
)

// reconnector computes the delay before each reconnect attempt:
// min(base * 2^attempt, max) plus jitter so that a fleet of clients does
// not reconnect in lockstep after a relay restart.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	attempt int

	// jitter is replaceable in tests for deterministic delays.
	jitter func(max time.Duration) time.Duration
}

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
		jitter:      randomJitter,
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// nextDelay returns the delay before the next attempt and advances the
// attempt counter.
func (r *reconnector) nextDelay() time.Duration {
	d := r.baseDelay
	for i := 0; i < r.attempt; i++ {
		d *= 2
		if d >= r.maxDelay {
			d = r.maxDelay
			break
		}
	}
	r.attempt++
	return d + r.jitter(d/4)
}

// exhausted reports whether the attempt budget is spent. A non-positive
// maxAttempts means retry forever.
func (r *reconnector) exhausted() bool {
	return r.maxAttempts > 0 && r.attempt >= r.maxAttempts
}

// markConnected resets the attempt counter after a successful connection.
func (r *reconnector) markConnected() {
	r.attempt = 0
}
