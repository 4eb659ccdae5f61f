package nip66

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy parameterizes the per-check retry policy (spec.md §4.7.1:
// "exponential backoff with uniform-random jitter, bounded by max_delay").
type RetryPolicy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
}

// newBackOff builds a backoff.BackOff from the policy. backoff/v4's
// ExponentialBackOff already applies uniform jitter via
// RandomizationFactor, satisfying the Open Question decision in
// DESIGN.md that any bounded-uniform PRNG suffices.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		eb.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0

	var bo backoff.BackOff = eb
	if p.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.MaxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// Retry runs fn under the policy, retrying while fn returns a non-nil
// error, and returns the last error if every attempt failed.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	return backoff.Retry(fn, policy.newBackOff(ctx))
}
