// Package queue is the durable job queue of the scrape pipeline, backed
// by Redis. It is the sole authority for job state: workers dequeue the
// next eligible job and report outcomes back, and the queue applies the
// retry/backoff and retention policy.
//
// Layout under the configured prefix:
//
//	<prefix>:waiting    list of job IDs ready to run
//	<prefix>:active     list of job IDs currently executing
//	<prefix>:delayed    zset of job IDs scored by their retry-ready time
//	<prefix>:completed  zset of finished job IDs, bounded retention
//	<prefix>:failed     zset of terminally failed job IDs, bounded retention
//	<prefix>:job:<id>   hash holding one job's fields
//
// State machine: waiting → active → {completed | delayed}; delayed →
// waiting once the computed backoff elapses; attempts exhausted → failed.
// completed and failed are terminal.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hazyhaar/pricewatch/idgen"
)

// Status is a job's queue state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusDelayed   Status = "delayed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payload is the wire shape of a job's data, validated at the queue
// boundary rather than trusted downstream.
type Payload struct {
	TargetID string `json:"targetId"`
}

// Job is one unit of queued work: a single scrape attempt for a target.
type Job struct {
	ID          string
	TargetID    string
	Attempts    int
	MaxAttempts int
	Status      Status
	EnqueuedAt  time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	LastError   string
}

// Config configures queue behaviour.
type Config struct {
	// Prefix namespaces all queue keys. Default: "pricewatch".
	Prefix string

	// MaxAttempts before a job fails terminally. Default: 3.
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt.
	// Default: 5s.
	BackoffBase time.Duration

	// KeepCompleted and KeepFailed bound how many terminal jobs are
	// retained for inspection; oldest are evicted beyond the bound.
	// Defaults: 1000 completed, 5000 failed.
	KeepCompleted int
	KeepFailed    int

	// DequeueBlock is how long one Dequeue call blocks waiting for a
	// job before reporting none. Default: 1s.
	DequeueBlock time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "pricewatch"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.KeepCompleted <= 0 {
		c.KeepCompleted = 1000
	}
	if c.KeepFailed <= 0 {
		c.KeepFailed = 5000
	}
	if c.DequeueBlock <= 0 {
		c.DequeueBlock = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Queue manages scrape jobs in Redis.
type Queue struct {
	rdb   goredis.UniversalClient
	cfg   Config
	newID idgen.Generator
	now   func() time.Time // injectable for tests
}

// New creates a Queue on an established Redis client.
func New(rdb goredis.UniversalClient, cfg Config) *Queue {
	cfg.defaults()
	return &Queue{
		rdb:   rdb,
		cfg:   cfg,
		newID: idgen.Prefixed("job_", idgen.UUIDv7()),
		now:   time.Now,
	}
}

func (q *Queue) key(suffix string) string {
	return q.cfg.Prefix + ":" + suffix
}

func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}

// Enqueue admits a new job for a target and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, targetID string) (string, error) {
	if targetID == "" {
		return "", fmt.Errorf("queue: enqueue: empty target id")
	}

	payload, err := json.Marshal(Payload{TargetID: targetID})
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}

	id := q.newID()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"target_id":    targetID,
		"payload":      payload,
		"attempts":     0,
		"max_attempts": q.cfg.MaxAttempts,
		"status":       string(StatusWaiting),
		"enqueued_at":  q.now().UnixMilli(),
	})
	pipe.LPush(ctx, q.key("waiting"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", targetID, err)
	}

	q.cfg.Logger.Debug("queue: enqueued", "job_id", id, "target_id", targetID)
	return id, nil
}

// Dequeue promotes due delayed jobs, then claims the next waiting job and
// marks it active with an incremented attempt count. It blocks up to
// DequeueBlock and returns (nil, nil) when no job is eligible.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		q.cfg.Logger.Warn("queue: promote delayed", "error", err)
	}

	id, err := q.rdb.BLMove(ctx, q.key("waiting"), q.key("active"),
		"RIGHT", "LEFT", q.cfg.DequeueBlock).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	now := q.now()
	pipe := q.rdb.TxPipeline()
	attempts := pipe.HIncrBy(ctx, q.jobKey(id), "attempts", 1)
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"status":     string(StatusActive),
		"started_at": now.UnixMilli(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: claim %s: %w", id, err)
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Hash evicted while the ID sat in a list; drop the orphan.
		q.rdb.LRem(ctx, q.key("active"), 1, id)
		return nil, nil
	}
	job.Attempts = int(attempts.Val())
	job.Status = StatusActive
	job.StartedAt = now
	return job, nil
}

// Complete marks a job finished and applies completed-set retention.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := q.now()
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, job.ID)
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]any{
		"status":      string(StatusCompleted),
		"finished_at": now.UnixMilli(),
	})
	pipe.ZAdd(ctx, q.key("completed"), goredis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: complete %s: %w", job.ID, err)
	}
	job.Status = StatusCompleted

	q.trim(ctx, q.key("completed"), q.cfg.KeepCompleted)
	return nil
}

// Fail records a failed execution. While attempts remain the job is
// delayed by an exponential backoff and will re-enter the waiting list;
// otherwise it transitions to terminal failed with the last error kept
// for inspection. The resulting status is returned so callers can emit
// terminal outcome events.
func (q *Queue) Fail(ctx context.Context, job *Job, jobErr error) (Status, error) {
	now := q.now()
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}

	if job.Attempts >= job.MaxAttempts {
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID), map[string]any{
			"status":      string(StatusFailed),
			"last_error":  msg,
			"finished_at": now.UnixMilli(),
		})
		pipe.ZAdd(ctx, q.key("failed"), goredis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return "", fmt.Errorf("queue: fail %s: %w", job.ID, err)
		}
		job.Status = StatusFailed
		job.LastError = msg

		q.trim(ctx, q.key("failed"), q.cfg.KeepFailed)
		return StatusFailed, nil
	}

	delay := q.Backoff(job.Attempts)
	readyAt := now.Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, job.ID)
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]any{
		"status":     string(StatusDelayed),
		"last_error": msg,
	})
	pipe.ZAdd(ctx, q.key("delayed"), goredis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: delay %s: %w", job.ID, err)
	}
	job.Status = StatusDelayed
	job.LastError = msg

	q.cfg.Logger.Debug("queue: delayed for retry",
		"job_id", job.ID, "attempt", job.Attempts, "delay", delay)
	return StatusDelayed, nil
}

// Backoff returns the retry delay after the given attempt number:
// BackoffBase doubled per prior attempt.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.cfg.BackoffBase << (attempt - 1)
}

// promoteDue moves delayed jobs whose backoff has elapsed back to the
// waiting list. ZRem arbitrates between concurrent workers: only the one
// that actually removed the member pushes it.
func (q *Queue) promoteDue(ctx context.Context) error {
	nowMs := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &goredis.ZRangeBy{
		Min: "-inf", Max: nowMs,
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker promoted it
		}
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, q.jobKey(id), "status", string(StatusWaiting))
		pipe.LPush(ctx, q.key("waiting"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// trim evicts the oldest members beyond keep from a retention zset,
// deleting their job hashes with them. Best effort: eviction failures
// are logged, not propagated.
func (q *Queue) trim(ctx context.Context, key string, keep int) {
	n, err := q.rdb.ZCard(ctx, key).Result()
	if err != nil || int(n) <= keep {
		return
	}

	old, err := q.rdb.ZRange(ctx, key, 0, n-int64(keep)-1).Result()
	if err != nil {
		q.cfg.Logger.Warn("queue: retention scan", "key", key, "error", err)
		return
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range old {
		pipe.ZRem(ctx, key, id)
		pipe.Del(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.cfg.Logger.Warn("queue: retention evict", "key", key, "error", err)
	}
}

// GetJob loads a job by ID. Returns (nil, nil) when unknown or evicted.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	job := &Job{
		ID:        id,
		TargetID:  fields["target_id"],
		Status:    Status(fields["status"]),
		LastError: fields["last_error"],
	}
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	if ms, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["started_at"], 10, 64); err == nil {
		job.StartedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["finished_at"], 10, 64); err == nil {
		job.FinishedAt = time.UnixMilli(ms)
	}

	// The payload is authoritative for the target id; reject a mangled
	// hash rather than scraping the wrong thing.
	var p Payload
	if raw, ok := fields["payload"]; ok {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("queue: job %s payload: %w", id, err)
		}
		if p.TargetID != "" {
			job.TargetID = p.TargetID
		}
	}
	return job, nil
}

// Counts is a snapshot of queue depth per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stats reports the current queue depths.
func (q *Queue) Stats(ctx context.Context) (*Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.key("waiting"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: stats: %w", err)
	}
	return &Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}
