// Package worker runs the bounded pool of concurrent job executors. Each
// worker dequeues from the shared queue, passes the process-wide rate
// limiter, runs the extraction pipeline, and reports the outcome back to
// the queue. No error escapes a worker loop: per-job failures are
// isolated and the pool keeps running until its context is cancelled.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pricewatch/queue"
	"github.com/hazyhaar/pricewatch/ratelimit"
)

// Jobs is the queue surface the pool consumes. The pool never mutates
// job state directly; it only reports outcomes through these calls.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, jobErr error) (queue.Status, error)
}

// Runner executes a single job.
type Runner interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Config configures the pool.
type Config struct {
	// Concurrency is the number of workers. Default: 5.
	Concurrency int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pool is the bounded worker pool.
type Pool struct {
	jobs    Jobs
	runner  Runner
	limiter *ratelimit.Limiter
	sink    Sink
	cfg     Config
	wg      sync.WaitGroup
}

// NewPool creates a Pool. The limiter is shared across all workers; sink
// may be nil to drop outcome events.
func NewPool(jobs Jobs, runner Runner, limiter *ratelimit.Limiter, sink Sink, cfg Config) *Pool {
	cfg.defaults()
	if sink == nil {
		sink = NewSlogSink(cfg.Logger)
	}
	return &Pool{jobs: jobs, runner: runner, limiter: limiter, sink: sink, cfg: cfg}
}

// Start launches the workers. Non-blocking; call Wait to block until
// every worker has drained after ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.cfg.Concurrency {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.cfg.Logger.Info("worker: pool started", "concurrency", p.cfg.Concurrency)
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.cfg.Logger

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("worker: dequeue", "worker", id, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if job == nil {
			continue // nothing eligible; Dequeue already blocked
		}

		// Rate-limit actual job starts, not empty polls: the window
		// counts outbound scrapes, and a slot burned on an idle poll
		// would starve real work.
		if err := p.limiter.Wait(ctx); err != nil {
			// Shutting down with a claimed job: put it back through
			// the retry path rather than leaving it active.
			p.jobs.Fail(context.WithoutCancel(ctx), job, err)
			return
		}

		p.execute(ctx, job)
	}
}

func (p *Pool) execute(ctx context.Context, job *queue.Job) {
	log := p.cfg.Logger

	err := p.runner.Process(ctx, job)
	if err == nil {
		if err := p.jobs.Complete(ctx, job); err != nil {
			log.Error("worker: report completion", "job_id", job.ID, "error", err)
			return
		}
		p.sink.JobFinished(ctx, Outcome{
			JobID: job.ID, TargetID: job.TargetID, Status: queue.StatusCompleted,
		})
		return
	}

	log.Warn("worker: job attempt failed",
		"job_id", job.ID, "target_id", job.TargetID,
		"attempt", job.Attempts, "error", err)

	status, ferr := p.jobs.Fail(ctx, job, err)
	if ferr != nil {
		log.Error("worker: report failure", "job_id", job.ID, "error", ferr)
		return
	}
	if status == queue.StatusFailed {
		p.sink.JobFinished(ctx, Outcome{
			JobID: job.ID, TargetID: job.TargetID,
			Status: queue.StatusFailed, Err: err.Error(),
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
