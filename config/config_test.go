package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if cfg.Scheduler.Interval != time.Hour {
		t.Errorf("interval = %v, want 1h", cfg.Scheduler.Interval)
	}
	if cfg.Queue.MaxAttempts != 3 || cfg.Queue.BackoffBase != 5*time.Second {
		t.Errorf("queue defaults = %d attempts, %v backoff", cfg.Queue.MaxAttempts, cfg.Queue.BackoffBase)
	}
	if cfg.Queue.KeepCompleted != 1000 || cfg.Queue.KeepFailed != 5000 {
		t.Errorf("retention defaults = %d/%d", cfg.Queue.KeepCompleted, cfg.Queue.KeepFailed)
	}
	if cfg.Worker.Concurrency != 5 || cfg.Worker.RateMax != 10 || cfg.Worker.RateWindow != time.Minute {
		t.Errorf("worker defaults = %+v", cfg.Worker)
	}
}

func TestLoadFile_OverridesAndPartialDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricewatch.yaml")
	body := `
redis:
  url: redis://queue.internal:6380/2
scheduler:
  interval: 30m
worker:
  concurrency: 8
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Redis.URL != "redis://queue.internal:6380/2" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if cfg.Scheduler.Interval != 30*time.Minute {
		t.Errorf("interval = %v", cfg.Scheduler.Interval)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Worker.Concurrency)
	}
	// Unset fields still get defaults.
	if cfg.Worker.RateMax != 10 {
		t.Errorf("rate max = %d, want default 10", cfg.Worker.RateMax)
	}
	if cfg.Database.Path != "pricewatch.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
}

func TestLoadFile_RedisEnvOverride(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://env.internal:6379/1")
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Redis.URL != "redis://env.internal:6379/1" {
		t.Errorf("redis url = %q, want env value", cfg.Redis.URL)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
