// Command pricewatch is the recurring price-scrape daemon. It keeps a
// per-target trigger registry in Redis, enqueues scrape jobs on each
// firing, and runs a bounded worker pool that fetches pages, extracts
// prices, and records the samples in SQLite.
//
// Usage:
//
//	pricewatch -config pricewatch.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pricewatch/config"
	"github.com/hazyhaar/pricewatch/dbopen"
	"github.com/hazyhaar/pricewatch/fetch"
	"github.com/hazyhaar/pricewatch/queue"
	"github.com/hazyhaar/pricewatch/ratelimit"
	"github.com/hazyhaar/pricewatch/schedule"
	"github.com/hazyhaar/pricewatch/store"
	"github.com/hazyhaar/pricewatch/worker"
)

func main() {
	configPath := flag.String("config", "", "path to pricewatch.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("pricewatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	db, err := dbopen.Open(cfg.Database.Path,
		dbopen.WithSchema(store.Schema),
		dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	st := store.NewSQL(db)

	rdb, err := queue.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	q := queue.New(rdb, queue.Config{
		Prefix:        cfg.Queue.Prefix,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		BackoffBase:   cfg.Queue.BackoffBase,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
		Logger:        logger,
	})

	registry := schedule.New(rdb, q, schedule.Config{
		Prefix:        cfg.Queue.Prefix,
		Interval:      cfg.Scheduler.Interval,
		CheckInterval: cfg.Scheduler.CheckInterval,
		Logger:        logger,
	})
	if err := registry.InitializeAll(ctx, st); err != nil {
		return fmt.Errorf("initialize schedules: %w", err)
	}
	go registry.Run(ctx)

	httpOpts := []fetch.HTTPOption{fetch.WithLogger(logger)}
	if cfg.Worker.UserAgent != "" {
		httpOpts = append(httpOpts, fetch.WithUserAgent(cfg.Worker.UserAgent))
	}
	fetchers := &fetch.Set{
		HTTP: fetch.NewHTTP(httpOpts...),
		Browser: fetch.NewBrowser(fetch.BrowserConfig{
			SelectorTimeout: cfg.Browser.SelectorTimeout,
			NavigateTimeout: cfg.Browser.NavigateTimeout,
			ViewportWidth:   cfg.Browser.ViewportWidth,
			ViewportHeight:  cfg.Browser.ViewportHeight,
			Logger:          logger,
		}),
	}

	processor := worker.NewProcessor(st, fetchers, logger)
	limiter := ratelimit.New(cfg.Worker.RateMax, cfg.Worker.RateWindow)
	pool := worker.NewPool(q, processor, limiter, nil, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      logger,
	})
	pool.Start(ctx)

	ops := &http.Server{
		Addr:    cfg.Ops.Addr,
		Handler: opsRouter(logger, q),
	}
	go func() {
		logger.Info("pricewatch: ops listening", "addr", cfg.Ops.Addr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pricewatch: ops server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("pricewatch: shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutCtx); err != nil {
		logger.Warn("pricewatch: ops shutdown", "error", err)
	}
	pool.Wait()

	logger.Info("pricewatch: stopped")
	return nil
}

func opsRouter(logger *slog.Logger, q *queue.Queue) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/queue/stats", func(w http.ResponseWriter, req *http.Request) {
		counts, err := q.Stats(req.Context())
		if err != nil {
			logger.Error("pricewatch: queue stats", "error", err)
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(counts)
	})

	return r
}
