package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pricewatch/extract"
	"github.com/hazyhaar/pricewatch/fetch"
	"github.com/hazyhaar/pricewatch/price"
	"github.com/hazyhaar/pricewatch/queue"
	"github.com/hazyhaar/pricewatch/store"
)

// Processor executes one scrape job end to end: load target, fetch
// markup, extract and normalize the price, backfill the display name,
// persist the sample. It never retries — a returned error goes back to
// the queue, which owns retry policy.
type Processor struct {
	store    store.Store
	fetchers *fetch.Set
	logger   *slog.Logger
	now      func() time.Time // injectable for tests
}

// NewProcessor creates a Processor.
func NewProcessor(st store.Store, fetchers *fetch.Set, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: st, fetchers: fetchers, logger: logger, now: time.Now}
}

// Process runs the extraction pipeline for a dequeued job. A missing or
// soft-deleted target completes as a no-op: the job may have been in
// flight when the target was removed, and that is not an error.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	target, err := p.store.GetTarget(ctx, job.TargetID)
	if err != nil {
		return fmt.Errorf("worker: load target %s: %w", job.TargetID, err)
	}
	if target == nil || target.Deleted {
		p.logger.Info("worker: target gone, completing as no-op",
			"job_id", job.ID, "target_id", job.TargetID)
		return nil
	}

	if target.Currency == "" {
		return fmt.Errorf("worker: target %s: %w", target.ID, ErrNoCurrency)
	}

	res, err := p.fetchers.For(target.Strategy).Fetch(ctx, target.URL, target.PriceSelector)
	if err != nil {
		return err
	}
	p.logger.Info("worker: fetched",
		"job_id", job.ID, "url", target.URL,
		"strategy", string(target.Strategy), "elapsed_ms", res.Elapsed.Milliseconds())

	rawPrice, ok := extract.FirstText(res.HTML, target.PriceSelector)
	if !ok {
		return fmt.Errorf("worker: target %s, selector %q: %w",
			target.ID, target.PriceSelector, ErrPriceNotFound)
	}

	value, err := price.Parse(rawPrice)
	if err != nil {
		return fmt.Errorf("worker: target %s, text %q: %w", target.ID, rawPrice, ErrPriceUnparseable)
	}

	// Display-name backfill, at most once, silent when the selector
	// finds nothing.
	if target.Name == "" && target.NameSelector != "" {
		if name, ok := extract.FirstText(res.HTML, target.NameSelector); ok {
			set, err := p.store.SetTargetNameIfEmpty(ctx, target.ID, name)
			if err != nil {
				return fmt.Errorf("worker: backfill name for %s: %w", target.ID, err)
			}
			if set {
				p.logger.Info("worker: target name set", "target_id", target.ID, "name", name)
			}
		}
	}

	sample := store.PriceSample{
		TargetID:   target.ID,
		Value:      value,
		Currency:   target.Currency,
		CapturedAt: p.now(),
	}
	if err := p.store.RecordPriceSample(ctx, sample); err != nil {
		return fmt.Errorf("worker: record sample for %s: %w", target.ID, err)
	}

	p.logger.Info("worker: recorded price",
		"job_id", job.ID, "target_id", target.ID,
		"value", price.Round2(value), "currency", target.Currency)
	return nil
}
