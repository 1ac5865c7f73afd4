package wordstash

import (
	"context"
	"time"
)

type ErrorClass int

const (
	ClassPermanent ErrorClass = iota
	ClassTransient
)

// Classifier decides whether a failed attempt is worth retrying. Each
// external client supplies its own; the envelope stays policy-only.
type Classifier func(error) ErrorClass

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep is swapped for a recorder in tests.
	Sleep func(ctx context.Context, delay time.Duration) error
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// withRetry runs op up to MaxAttempts times, backing off BaseDelay*2^n
// after each transient failure. Permanent failures propagate on first
// occurrence; exhausting the attempts propagates the last transient
// error unwrapped.
func withRetry[T any](ctx context.Context, policy RetryPolicy, classify Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()
	var zero T
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if classify(err) == ClassPermanent {
			return zero, err
		}
		lastErr = err
		if sleepErr := policy.Sleep(ctx, policy.BaseDelay<<attempt); sleepErr != nil {
			return zero, sleepErr
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
