package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hazyhaar/pricewatch/store"
)

// fakeEnqueuer records admitted target IDs.
type fakeEnqueuer struct {
	mu      sync.Mutex
	targets []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, targetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, targetID)
	return "job_" + targetID, nil
}

func (f *fakeEnqueuer) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *fakeEnqueuer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fq := &fakeEnqueuer{}
	return New(client, fq, cfg), fq, mr
}

func TestSchedule_Idempotent(t *testing.T) {
	r, _, _ := newTestRegistry(t, Config{Interval: time.Hour})
	ctx := context.Background()

	if err := r.Schedule(ctx, "t1"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	first, ok, err := r.NextFire(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("NextFire after first schedule: ok=%v err=%v", ok, err)
	}

	// Re-registration refreshes the definition but neither duplicates
	// the trigger nor resets its next fire.
	if err := r.Schedule(ctx, "t1"); err != nil {
		t.Fatalf("Schedule again: %v", err)
	}
	second, ok, err := r.NextFire(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("NextFire after second schedule: ok=%v err=%v", ok, err)
	}
	if !first.Equal(second) {
		t.Errorf("next fire moved from %v to %v on re-registration", first, second)
	}

	n, err := r.rdb.ZCard(ctx, r.triggersKey()).Result()
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	if n != 1 {
		t.Fatalf("trigger count = %d, want exactly 1", n)
	}
}

func TestUnschedule_UnknownIsNoop(t *testing.T) {
	r, _, _ := newTestRegistry(t, Config{})
	if err := r.Unschedule(context.Background(), "never-scheduled"); err != nil {
		t.Fatalf("Unschedule unknown: %v", err)
	}
}

func TestUnschedule_RemovesTrigger(t *testing.T) {
	r, _, _ := newTestRegistry(t, Config{Interval: time.Hour})
	ctx := context.Background()

	r.Schedule(ctx, "t1")
	if err := r.Unschedule(ctx, "t1"); err != nil {
		t.Fatalf("Unschedule: %v", err)
	}
	if _, ok, _ := r.NextFire(ctx, "t1"); ok {
		t.Fatal("trigger still present after Unschedule")
	}
}

func TestFireDue_EnqueuesAndReArms(t *testing.T) {
	r, fq, _ := newTestRegistry(t, Config{Interval: time.Hour})
	ctx := context.Background()

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Schedule(ctx, "t1")
	r.Schedule(ctx, "t2")

	// Nothing due yet.
	r.fireDue(ctx)
	if got := fq.enqueued(); len(got) != 0 {
		t.Fatalf("fired before interval elapsed: %v", got)
	}

	// One interval later both fire once, and re-arm for the next one.
	r.now = func() time.Time { return base.Add(time.Hour + time.Minute) }
	r.fireDue(ctx)
	if got := fq.enqueued(); len(got) != 2 {
		t.Fatalf("enqueued = %v, want both targets", got)
	}

	r.fireDue(ctx)
	if got := fq.enqueued(); len(got) != 2 {
		t.Fatalf("re-fired within the same interval: %v", got)
	}

	next, ok, err := r.NextFire(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("NextFire after firing: ok=%v err=%v", ok, err)
	}
	want := base.Add(time.Hour + time.Minute).Add(time.Hour)
	if next.UnixMilli() != want.UnixMilli() {
		t.Errorf("re-armed for %v, want %v", next, want)
	}
}

// scriptedStore returns a fixed target list.
type scriptedStore struct {
	store.Store
	targets []store.TargetSummary
}

func (s *scriptedStore) ListActiveTargets(ctx context.Context) ([]store.TargetSummary, error) {
	return s.targets, nil
}

func TestInitializeAll(t *testing.T) {
	r, _, _ := newTestRegistry(t, Config{Interval: time.Hour})
	ctx := context.Background()

	st := &scriptedStore{targets: []store.TargetSummary{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	if err := r.InitializeAll(ctx, st); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}

	n, _ := r.rdb.ZCard(ctx, r.triggersKey()).Result()
	if n != 3 {
		t.Fatalf("trigger count = %d, want 3", n)
	}

	// Running it again (restart) must not duplicate anything.
	if err := r.InitializeAll(ctx, st); err != nil {
		t.Fatalf("InitializeAll again: %v", err)
	}
	n, _ = r.rdb.ZCard(ctx, r.triggersKey()).Result()
	if n != 3 {
		t.Fatalf("trigger count after re-init = %d, want 3", n)
	}
}
