package scraper

import (
	"context"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles after that.
	BaseDelay time.Duration
	// MaxDelay caps a single wait when positive.
	MaxDelay time.Duration
	// Retryable decides whether err deserves another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)

	sleep func(context.Context, time.Duration) error
}

// Retry runs op until it succeeds, returns a non-retryable error, or
// MaxAttempts is exhausted. The wait after attempt i (zero-based) is
// BaseDelay * 2^i. On exhaustion the last error is returned unmodified.
// Retry always returns either op's value with a nil error or a non-nil error.
func Retry[T any](ctx context.Context, opts RetryOpts, op func(context.Context) (T, error)) (T, error) {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			break
		}

		wait := backoff(opts.BaseDelay, opts.MaxDelay, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, wait, err)
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<attempt)
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
