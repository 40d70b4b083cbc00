package worker

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is an exponential backoff shared by the outbox worker and the
// booking ledger. Attempts are 1-based.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter spreads each delay by up to this fraction in either direction.
	// Zero keeps delays deterministic.
	Jitter float64
}

// NextDelay returns how long to wait after the given failed attempt.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := float64(base) * math.Pow(factor, float64(attempt-1))
	if r.MaxDelay > 0 {
		d = math.Min(d, float64(r.MaxDelay))
	}
	if r.Jitter > 0 {
		d += d * r.Jitter * (2*rand.Float64() - 1)
	}
	if d < 1 || math.IsInf(d, 0) || math.IsNaN(d) {
		return base
	}
	return time.Duration(d)
}

// Exhausted reports whether a caller that just failed the given attempt has
// used up all its retries. MaxRetries retries means MaxRetries+1 attempts.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt > r.MaxRetries
}

// Wait sleeps for NextDelay(attempt) or until ctx is done.
func (r RetryPolicy) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(r.NextDelay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
