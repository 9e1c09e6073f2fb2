package scraper

import (
	"context"
	"sync"
	"time"
)

// DefaultThrottleWindow is the number of recent request times a Throttle keeps.
const DefaultThrottleWindow = 10

// Throttle spaces outbound requests to a single marketplace. It keeps the
// most recent request times in a bounded FIFO window; entries older than the
// interval are dropped and a new request may start no earlier than interval
// after the newest remaining one. Callers reserve their slot under the lock,
// so concurrent callers are serialized rather than racing on a stale window.
type Throttle struct {
	interval time.Duration
	size     int

	mu     sync.Mutex
	window []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewThrottle returns a throttle enforcing interval between requests.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		size:     DefaultThrottleWindow,
		window:   make([]time.Time, 0, DefaultThrottleWindow),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait blocks until the caller may issue its request, then records it. The
// first call on an empty window returns immediately. Only ctx cancellation
// makes Wait return an error.
func (t *Throttle) Wait(ctx context.Context) (time.Duration, error) {
	if t == nil || t.interval <= 0 {
		return 0, nil
	}

	t.mu.Lock()
	now := t.now()
	t.evictLocked(now)

	slot := now
	if n := len(t.window); n > 0 {
		if next := t.window[n-1].Add(t.interval); next.After(now) {
			slot = next
		}
	}
	t.recordLocked(slot)
	t.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return 0, nil
	}
	return wait, t.sleep(ctx, wait)
}

// Len reports how many request times are currently held.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.window)
}

func (t *Throttle) evictLocked(now time.Time) {
	cutoff := now.Add(-t.interval)
	drop := 0
	for drop < len(t.window) && !t.window[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		t.window = append(t.window[:0], t.window[drop:]...)
	}
}

func (t *Throttle) recordLocked(at time.Time) {
	if len(t.window) >= t.size {
		t.window = append(t.window[:0], t.window[len(t.window)-t.size+1:]...)
	}
	t.window = append(t.window, at)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
