package scraper

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	var waits []time.Duration
	opts := RetryOpts{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, sleep: recordingSleep(&waits)}

	original := errors.New("boom")
	calls := 0
	_, err := Retry(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, original
	})

	if err != original {
		t.Fatalf("err = %v, want the original error unmodified", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", waits, want)
		}
	}
}

func TestRetryReturnsFirstSuccess(t *testing.T) {
	var waits []time.Duration
	opts := RetryOpts{MaxAttempts: 3, BaseDelay: time.Millisecond, sleep: recordingSleep(&waits)}

	calls := 0
	got, err := Retry(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Fatalf("got %q after %d calls, want ok after 2", got, calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	var waits []time.Duration
	opts := RetryOpts{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   IsRetryable,
		sleep:       recordingSleep(&waits),
	}

	calls := 0
	_, err := Retry(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, RateLimitedError{Marketplace: "jumia"}
	})

	var rateLimited RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if calls != 1 || len(waits) != 0 {
		t.Fatalf("calls=%d waits=%v, want a single attempt", calls, waits)
	}
}

func TestRetryOnRetryHook(t *testing.T) {
	var (
		waits    []time.Duration
		attempts []int
	)
	opts := RetryOpts{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    15 * time.Millisecond,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			attempts = append(attempts, attempt)
		},
		sleep: recordingSleep(&waits),
	}

	Retry(context.Background(), opts, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("attempts = %v, want [1 2]", attempts)
	}
	if waits[1] != 15*time.Millisecond {
		t.Fatalf("second wait = %v, want capped at 15ms", waits[1])
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryOpts{}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls=%d err=%v, want one failing call", calls, err)
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	original := errors.New("fail")

	calls := 0
	_, err := Retry(ctx, RetryOpts{MaxAttempts: 3, BaseDelay: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, original
	})
	if err != original {
		t.Fatalf("err = %v, want the last operation error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryRealDelays(t *testing.T) {
	opts := RetryOpts{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}

	start := time.Now()
	Retry(context.Background(), opts, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least 60ms of backoff", elapsed)
	}
}
