package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, cfg Config) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if cfg.DequeueBlock == 0 {
		cfg.DequeueBlock = 50 * time.Millisecond
	}
	return New(client, cfg), mr
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "target-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.ID != id {
		t.Errorf("job id = %s, want %s", job.ID, id)
	}
	if job.TargetID != "target-1" {
		t.Errorf("target id = %s", job.TargetID)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 on first execution", job.Attempts)
	}
	if job.Status != StatusActive {
		t.Errorf("status = %s, want active", job.Status)
	}
	if job.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want default 3", job.MaxAttempts)
	}
}

func TestEnqueue_EmptyTargetRejected(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	if _, err := q.Enqueue(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty target id")
	}
}

func TestPayloadWireShape(t *testing.T) {
	q, mr := newTestQueue(t, Config{})
	id, err := q.Enqueue(context.Background(), "target-9")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	raw := mr.HGet("pricewatch:job:"+id, "payload")
	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("payload is not JSON: %q", raw)
	}
	if decoded["targetId"] != "target-9" {
		t.Fatalf("payload = %q, want targetId field", raw)
	}
}

func TestDequeue_EmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	job, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no job, got %+v", job)
	}
}

func TestComplete(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	q.Enqueue(ctx, "target-1")
	job, _ := q.Dequeue(ctx)

	if err := q.Complete(ctx, job); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	counts, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if counts.Active != 0 || counts.Completed != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestFail_DelaysWithBackoff(t *testing.T) {
	q, _ := newTestQueue(t, Config{BackoffBase: 5 * time.Second})
	ctx := context.Background()

	base := time.Now()
	q.now = func() time.Time { return base }

	q.Enqueue(ctx, "target-1")
	job, _ := q.Dequeue(ctx)

	status, err := q.Fail(ctx, job, errors.New("selector matched nothing"))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if status != StatusDelayed {
		t.Fatalf("status = %s, want delayed", status)
	}

	// Not eligible before the backoff elapses.
	if j, _ := q.Dequeue(ctx); j != nil {
		t.Fatalf("job dequeued before backoff elapsed")
	}

	// Becomes eligible once the clock passes readyAt.
	q.now = func() time.Time { return base.Add(6 * time.Second) }
	j, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after backoff: %v", err)
	}
	if j == nil {
		t.Fatal("expected the retried job")
	}
	if j.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", j.Attempts)
	}
	if j.LastError == "" {
		t.Error("last error not carried across retry")
	}
}

func TestFail_ExhaustionIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxAttempts: 3, BackoffBase: time.Second})
	ctx := context.Background()

	clock := time.Now()
	q.now = func() time.Time { return clock }

	q.Enqueue(ctx, "target-1")

	var delays []time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Dequeue(ctx)
		if err != nil || job == nil {
			t.Fatalf("attempt %d: dequeue: %v %v", attempt, job, err)
		}
		if job.Attempts != attempt {
			t.Fatalf("attempt %d: job.Attempts = %d", attempt, job.Attempts)
		}

		status, err := q.Fail(ctx, job, errors.New("always failing"))
		if err != nil {
			t.Fatalf("attempt %d: fail: %v", attempt, err)
		}

		if attempt < 3 {
			if status != StatusDelayed {
				t.Fatalf("attempt %d: status = %s, want delayed", attempt, status)
			}
			delays = append(delays, q.Backoff(attempt))
			clock = clock.Add(q.Backoff(attempt) + time.Millisecond)
		} else if status != StatusFailed {
			t.Fatalf("final attempt: status = %s, want failed", status)
		}
	}

	// Doubling backoff: 1s then 2s.
	if delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("backoff delays = %v", delays)
	}

	job, _ := q.GetJob(ctx, mustOnlyFailedID(t, q, ctx))
	if job.Status != StatusFailed {
		t.Errorf("status = %s", job.Status)
	}
	if job.LastError != "always failing" {
		t.Errorf("last error = %q", job.LastError)
	}

	// Terminal: nothing left to dequeue.
	if j, _ := q.Dequeue(ctx); j != nil {
		t.Fatalf("terminal job re-dequeued: %+v", j)
	}
}

func mustOnlyFailedID(t *testing.T, q *Queue, ctx context.Context) string {
	t.Helper()
	ids, err := q.rdb.ZRange(ctx, q.key("failed"), 0, -1).Result()
	if err != nil || len(ids) != 1 {
		t.Fatalf("failed set = %v (%v), want exactly one", ids, err)
	}
	return ids[0]
}

func TestRetention_EvictsOldestCompleted(t *testing.T) {
	q, _ := newTestQueue(t, Config{KeepCompleted: 2})
	ctx := context.Background()

	clock := time.Now()
	q.now = func() time.Time { return clock }

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := q.Enqueue(ctx, "target-1")
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, id)
		job, _ := q.Dequeue(ctx)
		if job == nil {
			t.Fatalf("dequeue %d returned nothing", i)
		}
		if err := q.Complete(ctx, job); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
		clock = clock.Add(time.Second) // distinct retention scores
	}

	counts, _ := q.Stats(ctx)
	if counts.Completed != 2 {
		t.Fatalf("completed retained = %d, want 2", counts.Completed)
	}

	// Oldest hashes evicted with their zset entries.
	for _, id := range ids[:2] {
		if job, _ := q.GetJob(ctx, id); job != nil {
			t.Errorf("evicted job %s still present", id)
		}
	}
	for _, id := range ids[2:] {
		if job, _ := q.GetJob(ctx, id); job == nil {
			t.Errorf("retained job %s missing", id)
		}
	}
}
