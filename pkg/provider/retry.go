package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy implements the adapter-internal retry behavior the
// specification requires: RateLimitExceeded is retried with exponential
// backoff (base 2s, multiplier 2^attempt) capped at maxAttempts; every other
// failure kind surfaces unmodified to the caller.
type RetryPolicy struct {
	baseDelay   time.Duration
	maxAttempts int
	limiter     *rate.Limiter
}

// NewRetryPolicy builds a RetryPolicy with the specification's defaults
// (2s base delay, 3 attempts). A token-bucket limiter paces retries so a
// burst of concurrent completions sharing one adapter doesn't all back off
// in lockstep.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		baseDelay:   2 * time.Second,
		maxAttempts: 3,
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// Do runs op, retrying while it returns a rate-limit *Error, up to
// maxAttempts total attempts. idempotent must be true for a retry to happen
// at all — the adapter is the only party that knows whether resending the
// request is safe.
func Do[T any](ctx context.Context, p *RetryPolicy, idempotent bool, op func() (T, error)) (T, error) {
	var lastResult T
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastResult, err
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		lastResult, lastErr = result, err

		perr, ok := As(err)
		if !ok || !idempotent || perr.Kind != RateLimitExceeded || attempt >= p.maxAttempts {
			return lastResult, lastErr
		}

		delay := p.baseDelay * time.Duration(pow2(attempt))
		if err := p.limiter.Wait(ctx); err != nil {
			return lastResult, err
		}
		select {
		case <-ctx.Done():
			return lastResult, ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastResult, lastErr
}

func pow2(attempt int) int {
	result := 1
	for i := 0; i < attempt; i++ {
		result *= 2
	}
	return result
}
