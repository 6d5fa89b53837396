package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
	"github.com/leapmux/leapmux/internal/metrics"
)

// RetryPolicy is an explicit value passed to transport calls, rather
// than a decorator baked into every method signature (§9 design note).
type RetryPolicy struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	ExponentialBase     float64
	RandomizationFactor float64
}

// DefaultRetryPolicy matches §4.3's configured defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		ExponentialBase:     2,
		RandomizationFactor: 0.5,
	}
}

// NoRetry disables retries: a single attempt, no backoff.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// backoff builds a cenkalti/backoff/v5 exponential curve matching this
// policy, grounded on the teacher's worker/hub newDefaultBackoff.
func (p RetryPolicy) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.ExponentialBase
	b.RandomizationFactor = p.RandomizationFactor
	b.Reset()
	return b
}

// Retry runs fn up to policy.MaxAttempts times, sleeping a jittered
// exponential backoff between attempts. It wraps a single bus call, not
// a multi-step sequence, so cursors held by the caller are never
// advanced for an attempt that ultimately failed. On exhaustion it
// returns a *coorderrs.TransportError wrapping the last error.
func Retry[T any](ctx context.Context, op string, policy RetryPolicy, fn func() (T, error)) (T, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	var zero T
	var lastErr error
	bo := policy.backoff()
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.BusRetriesTotal.WithLabelValues(op).Inc()
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, &coorderrs.TransportError{Op: op, Err: lastErr}
}
