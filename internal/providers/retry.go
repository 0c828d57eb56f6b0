package providers

import (
	"context"
	"fmt"
	"time"

	"litagent/internal/util"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often and how long one upstream call is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout caps each individual attempt; zero means no cap.
	AttemptTimeout time.Duration
	// OnRetry, when set, observes every failed attempt that will be retried.
	OnRetry func(err error, wait time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		AttemptTimeout:  60 * time.Second,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Multiplier = 2
	return b
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Exhausted retries are wrapped with
// util.ErrTransientUpstream; caller cancellation is returned as is.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var zero T
	var last error
	res, err := backoff.Retry(ctx, func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()
		out, err := op(attemptCtx)
		if err == nil {
			return out, nil
		}
		last = err
		if ctx.Err() != nil || !IsRetryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(err, wait)
			}
		}),
	)
	if err == nil {
		return res, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return zero, cerr
	}
	if last != nil && IsRetryable(last) {
		return zero, fmt.Errorf("%w after %d attempts: %w", util.ErrTransientUpstream, attempts, last)
	}
	return zero, err
}
