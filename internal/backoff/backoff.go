// Package backoff implements exponential backoff with jitter for retrying
// transient upstream failures, chiefly rate-limited finance data APIs.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the per-attempt delay. Zero means uncapped.
	Max time.Duration
	// Factor multiplies the delay each attempt.
	Factor float64
	// Jitter is the fraction of the base delay randomized on top, 0 to 1.
	Jitter float64
}

// Default is tuned for rate-limited REST APIs: 200ms doubling up to 10s.
func Default() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the wait before the given retry attempt. Attempts are
// 1-indexed.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))
	d := time.Duration(base + base*p.Jitter*random)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Retry runs fn up to attempts times, sleeping per the policy between
// failures. fn reports whether its error is worth retrying; a non-retryable
// error or context cancellation stops early. After exhaustion the last error
// is returned.
func Retry(ctx context.Context, p Policy, attempts int, fn func() (retryable bool, err error)) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt >= attempts {
			return lastErr
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
