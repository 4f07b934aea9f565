// Package config loads pricewatch configuration from YAML files with
// sensible defaults for every knob.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pricewatch configuration.
type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Browser   BrowserConfig   `yaml:"browser"`
	Ops       OpsConfig       `yaml:"ops"`
}

// RedisConfig locates the Redis instance backing the queue and the
// schedule registry.
type RedisConfig struct {
	// URL is a redis:// connection string. The REDIS_URL environment
	// variable overrides it when set.
	URL string `yaml:"url"`
}

// DatabaseConfig locates the SQLite catalog.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig controls the recurring trigger registry.
type SchedulerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// QueueConfig controls retries and history retention.
type QueueConfig struct {
	Prefix        string        `yaml:"prefix"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	KeepCompleted int           `yaml:"keep_completed"`
	KeepFailed    int           `yaml:"keep_failed"`
}

// WorkerConfig controls the pool and the scrape rate limit.
type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	RateMax     int           `yaml:"rate_max"`
	RateWindow  time.Duration `yaml:"rate_window"`
	UserAgent   string        `yaml:"user_agent"`
}

// BrowserConfig controls headless Chrome fetches.
type BrowserConfig struct {
	SelectorTimeout time.Duration `yaml:"selector_timeout"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	ViewportWidth   int           `yaml:"viewport_width"`
	ViewportHeight  int           `yaml:"viewport_height"`
}

// OpsConfig controls the operational HTTP endpoint.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file. A missing path yields the
// default configuration.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if env := os.Getenv("REDIS_URL"); env != "" {
		c.Redis.URL = env
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Database.Path == "" {
		c.Database.Path = "pricewatch.db"
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = time.Hour
	}
	if c.Scheduler.CheckInterval <= 0 {
		c.Scheduler.CheckInterval = time.Minute
	}
	if c.Queue.Prefix == "" {
		c.Queue.Prefix = "pricewatch"
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BackoffBase <= 0 {
		c.Queue.BackoffBase = 5 * time.Second
	}
	if c.Queue.KeepCompleted <= 0 {
		c.Queue.KeepCompleted = 1000
	}
	if c.Queue.KeepFailed <= 0 {
		c.Queue.KeepFailed = 5000
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 5
	}
	if c.Worker.RateMax <= 0 {
		c.Worker.RateMax = 10
	}
	if c.Worker.RateWindow <= 0 {
		c.Worker.RateWindow = time.Minute
	}
	if c.Browser.SelectorTimeout <= 0 {
		c.Browser.SelectorTimeout = 15 * time.Second
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1920
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 1080
	}
	if c.Ops.Addr == "" {
		c.Ops.Addr = ":8090"
	}
}
