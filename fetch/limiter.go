package fetch

import (
	"context"
	"sync"
	"time"
)

// DefaultDelay is the minimum interval between two remote requests.
const DefaultDelay = 2 * time.Second

// Limiter enforces a minimum interval between consecutive remote fetches.
// One Limiter is shared by every Fetcher in the process unless a caller
// installs its own.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewLimiter creates a limiter with the given interval. A zero or negative
// interval disables waiting.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

var (
	sharedOnce sync.Once
	shared     *Limiter
)

// SharedLimiter returns the process-wide limiter, created with DefaultDelay
// on first use.
func SharedLimiter() *Limiter {
	sharedOnce.Do(func() {
		shared = NewLimiter(DefaultDelay)
	})
	return shared
}

// SetInterval changes the minimum interval. It affects the next Wait.
func (l *Limiter) SetInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = d
}

// Interval returns the configured minimum interval.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// Wait blocks until the interval since the previous Wait has elapsed, then
// records the current time. The lock is held while waiting so concurrent
// callers queue up behind each other.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() && l.interval > 0 {
		if wait := l.interval - time.Since(l.last); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	l.last = time.Now()
	return nil
}
