// Package ratelimit gates job starts across the whole worker pool. The
// limiter caps how many jobs may start within a rolling window,
// protecting third-party sites from aggregate request volume regardless
// of which worker or target is involved.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter allows at most max starts per window. A single Limiter is
// shared by every worker; the window counter is the only process-wide
// mutable state in the pipeline and is guarded by a mutex.
type Limiter struct {
	max    int
	window time.Duration

	mu          sync.Mutex
	count       int
	windowStart time.Time

	now func() time.Time // injectable for tests
}

// New creates a Limiter permitting max starts per window.
// Defaults: 10 starts per 60s.
func New(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{max: max, window: window, now: time.Now}
}

// Wait blocks until a start slot is available or ctx is cancelled. The
// wait is a timer-based suspension sized to the window remainder, never a
// busy loop.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, retryIn := l.tryAcquire()
		if ok {
			return nil
		}

		t := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Allow reports whether a start slot is available right now, consuming it
// if so.
func (l *Limiter) Allow() bool {
	ok, _ := l.tryAcquire()
	return ok
}

// tryAcquire consumes a slot if the current window permits one. When the
// window is exhausted it returns how long until the window rolls over.
func (l *Limiter) tryAcquire() (ok bool, retryIn time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}

	if l.count < l.max {
		l.count++
		return true, 0
	}
	return false, l.window - now.Sub(l.windowStart)
}
