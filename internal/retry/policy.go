// Package retry decides whether and when a failed remote-tier operation is
// attempted again.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credsync/storage"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultMaxBackoff  = 2 * time.Second
)

// Policy retries transient failures with capped exponential backoff.
// MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseBackoff,
		MaxDelay:   DefaultMaxBackoff,
	}
}

// ShouldRetry reports whether a failure of class after attempt prior retries
// may be retried, and how long to wait first. The first retry waits BaseDelay.
func (p Policy) ShouldRetry(attempt int, class storage.ErrorClass) (bool, time.Duration) {
	if class != storage.ClassTransient || attempt < 0 || attempt >= p.MaxRetries {
		return false, 0
	}
	return true, p.delay(attempt)
}

// WorstCase is the longest total time Run can spend sleeping between attempts.
func (p Policy) WorstCase() time.Duration {
	var total time.Duration
	for i := 0; i < p.MaxRetries; i++ {
		total += p.delay(i)
	}
	return total
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = base
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Notify observes each retry before its delay. attempt starts at 1.
type Notify func(attempt int, err error, delay time.Duration)

// Do runs op until it succeeds, fails permanently, exhausts the policy or ctx
// ends. The returned error is the last failure from op, joined with the
// context error when ctx ended first.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify Notify) (T, error) {
	b := &policyBackOff{policy: p}
	attempt := 0

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			attempt++
			notify(attempt, err, d)
		}))
	}

	var lastErr error
	out, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if storage.ClassOf(err) != storage.ClassTransient {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
	if err == nil {
		return out, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil && lastErr != nil && !errors.Is(err, lastErr) {
		err = storage.Transient(storage.TierRemote, "retry", errors.Join(ctxErr, lastErr))
	}
	return out, err
}

// policyBackOff adapts Policy to backoff.BackOff. Only transient errors reach
// NextBackOff; permanent ones are stopped by Do before asking.
type policyBackOff struct {
	policy  Policy
	retries int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	ok, d := b.policy.ShouldRetry(b.retries, storage.ClassTransient)
	if !ok {
		return backoff.Stop
	}
	b.retries++
	return d
}

func (b *policyBackOff) Reset() { b.retries = 0 }
