package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock drives the limiter without real sleeps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestAllow_BoundPerWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := New(10, time.Minute)
	l.now = clock.now

	granted := 0
	for range 50 {
		if l.Allow() {
			granted++
		}
	}
	if granted != 10 {
		t.Fatalf("granted %d starts in one window, want 10", granted)
	}

	// Window rolls over: slots come back.
	clock.advance(61 * time.Second)
	if !l.Allow() {
		t.Fatal("expected a slot after window rollover")
	}
}

func TestWait_SuspendsUntilRollover(t *testing.T) {
	l := New(2, 50*time.Millisecond)

	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("third Wait: %v", err)
	}
	if waited := time.Since(start); waited < 30*time.Millisecond {
		t.Fatalf("third start waited only %v, window not respected", waited)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	l := New(1, time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context error while window is exhausted")
	}
}

func TestWait_ConcurrentWorkersShareOneWindow(t *testing.T) {
	l := New(5, 80*time.Millisecond)

	var started atomic.Int32
	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Wait(ctx) == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	// Only the first window's quota fits inside the context deadline.
	if n := started.Load(); n != 5 {
		t.Fatalf("%d starts within one window, want 5", n)
	}
}
