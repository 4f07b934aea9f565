// Package schedule maintains the repeatable triggers that feed the job
// queue: exactly one per active target, keyed deterministically so
// re-registration upserts instead of duplicating.
//
// Triggers live in the same Redis as the queue:
//
//	<prefix>:triggers          zset of trigger keys scored by next fire time
//	<prefix>:trigger:<key>     hash holding the trigger definition
//
// The trigger key is derived from the target id alone
// ("price-scrape:<targetID>"), which is what makes Schedule idempotent.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hazyhaar/pricewatch/store"
)

// Enqueuer admits jobs into the queue when triggers fire.
type Enqueuer interface {
	Enqueue(ctx context.Context, targetID string) (string, error)
}

// Config configures the registry.
type Config struct {
	// Prefix namespaces the trigger keys. Default: "pricewatch".
	Prefix string

	// Interval between scrapes of one target. Default: 1h.
	Interval time.Duration

	// CheckInterval is how often the registry polls for due triggers.
	// Default: 1m.
	CheckInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "pricewatch"
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registry owns the trigger set. It does not validate target existence:
// it only manages trigger state, and the pipeline tolerates jobs for
// targets that have disappeared.
type Registry struct {
	rdb goredis.UniversalClient
	q   Enqueuer
	cfg Config
	now func() time.Time // injectable for tests
}

// New creates a Registry on an established Redis client.
func New(rdb goredis.UniversalClient, q Enqueuer, cfg Config) *Registry {
	cfg.defaults()
	return &Registry{rdb: rdb, q: q, cfg: cfg, now: time.Now}
}

func (r *Registry) triggersKey() string {
	return r.cfg.Prefix + ":triggers"
}

func (r *Registry) triggerKey(key string) string {
	return r.cfg.Prefix + ":trigger:" + key
}

// TriggerKey is the deterministic trigger identity for a target.
func TriggerKey(targetID string) string {
	return "price-scrape:" + targetID
}

// Schedule upserts the repeatable trigger for a target. The definition
// hash is refreshed on every call; the next fire time is only set when
// absent (ZAddNX), so repeated registration neither duplicates the
// trigger nor resets its cadence.
func (r *Registry) Schedule(ctx context.Context, targetID string) error {
	if targetID == "" {
		return fmt.Errorf("schedule: empty target id")
	}

	key := TriggerKey(targetID)
	next := r.now().Add(r.cfg.Interval)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.triggerKey(key), map[string]any{
		"target_id": targetID,
		"every_ms":  r.cfg.Interval.Milliseconds(),
	})
	pipe.ZAddNX(ctx, r.triggersKey(), goredis.Z{
		Score:  float64(next.UnixMilli()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule: upsert trigger %s: %w", key, err)
	}
	return nil
}

// Unschedule removes the trigger for a target. Removing a trigger that
// does not exist is a no-op, not an error.
func (r *Registry) Unschedule(ctx context.Context, targetID string) error {
	key := TriggerKey(targetID)
	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, r.triggersKey(), key)
	pipe.Del(ctx, r.triggerKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule: remove trigger %s: %w", key, err)
	}
	return nil
}

// InitializeAll ensures every active target has a trigger. Called once at
// process startup; individual failures are logged and skipped so one bad
// target cannot block the rest.
func (r *Registry) InitializeAll(ctx context.Context, st store.Store) error {
	targets, err := st.ListActiveTargets(ctx)
	if err != nil {
		return fmt.Errorf("schedule: list active targets: %w", err)
	}

	scheduled := 0
	for _, t := range targets {
		if err := r.Schedule(ctx, t.ID); err != nil {
			r.cfg.Logger.Warn("schedule: init target", "target_id", t.ID, "error", err)
			continue
		}
		scheduled++
	}

	r.cfg.Logger.Info("schedule: initialized", "targets", len(targets), "scheduled", scheduled)
	return nil
}

// Run fires due triggers on a ticker. Blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	// Fire once immediately so a restart doesn't skip overdue triggers.
	r.fireDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fireDue(ctx)
		}
	}
}

// fireDue enqueues one job per due trigger and advances each trigger by
// its interval. ZRem arbitrates between concurrent registries.
func (r *Registry) fireDue(ctx context.Context) {
	now := r.now()
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	keys, err := r.rdb.ZRangeByScore(ctx, r.triggersKey(), &goredis.ZRangeBy{
		Min: "-inf", Max: nowMs,
	}).Result()
	if err != nil {
		r.cfg.Logger.Error("schedule: scan due triggers", "error", err)
		return
	}

	fired := 0
	for _, key := range keys {
		removed, err := r.rdb.ZRem(ctx, r.triggersKey(), key).Result()
		if err != nil || removed == 0 {
			continue
		}

		fields, err := r.rdb.HGetAll(ctx, r.triggerKey(key)).Result()
		if err != nil || len(fields) == 0 {
			// Definition gone (unscheduled mid-flight); drop silently.
			continue
		}

		targetID := fields["target_id"]
		every := r.cfg.Interval
		if ms, err := strconv.ParseInt(fields["every_ms"], 10, 64); err == nil && ms > 0 {
			every = time.Duration(ms) * time.Millisecond
		}

		// Re-arm first: a failed enqueue must not kill the cadence.
		next := now.Add(every)
		if err := r.rdb.ZAdd(ctx, r.triggersKey(), goredis.Z{
			Score:  float64(next.UnixMilli()),
			Member: key,
		}).Err(); err != nil {
			r.cfg.Logger.Error("schedule: re-arm trigger", "key", key, "error", err)
		}

		if _, err := r.q.Enqueue(ctx, targetID); err != nil {
			r.cfg.Logger.Error("schedule: enqueue", "target_id", targetID, "error", err)
			continue
		}
		fired++
	}

	if fired > 0 {
		r.cfg.Logger.Debug("schedule: fired", "triggers", fired)
	}
}

// NextFire reports when a target's trigger will next fire, or ok=false
// when no trigger exists.
func (r *Registry) NextFire(ctx context.Context, targetID string) (time.Time, bool, error) {
	score, err := r.rdb.ZScore(ctx, r.triggersKey(), TriggerKey(targetID)).Result()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("schedule: next fire: %w", err)
	}
	return time.UnixMilli(int64(score)), true, nil
}
