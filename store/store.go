// Package store is the persistence collaborator of the scrape pipeline:
// tracked targets with their site/country extraction configuration, and
// the append-only series of observed prices.
//
// The pipeline consumes the Store interface only; the SQLite
// implementation lives in this package because pricewatch ships as a
// single binary, but nothing in the core depends on that.
package store

import (
	"context"
	"time"

	"github.com/hazyhaar/pricewatch/fetch"
)

// TargetSummary is the minimal projection needed to initialise schedules.
type TargetSummary struct {
	ID string
}

// Target is a tracked item with its extraction configuration denormalised
// through site and country. Currency is empty when the target's site or
// the site's country cannot be resolved.
type Target struct {
	ID            string
	SiteID        string
	URL           string
	Name          string
	PriceSelector string
	NameSelector  string
	Strategy      fetch.Strategy
	Currency      string
	Deleted       bool
}

// PriceSample is one observed price. Samples are write-once: the pipeline
// never mutates or deletes a historical sample.
type PriceSample struct {
	TargetID   string
	Value      float64
	Currency   string
	CapturedAt time.Time
}

// Store is the persistence interface the pipeline reads and writes
// through.
type Store interface {
	// ListActiveTargets returns every non-soft-deleted target.
	ListActiveTargets(ctx context.Context) ([]TargetSummary, error)

	// GetTarget loads a target by id, including soft-deleted ones
	// (Deleted is set). Returns (nil, nil) when the id is unknown.
	GetTarget(ctx context.Context, id string) (*Target, error)

	// SetTargetNameIfEmpty sets the display name only when it is still
	// unset, and reports whether it wrote.
	SetTargetNameIfEmpty(ctx context.Context, id, name string) (bool, error)

	// RecordPriceSample appends a sample, rounding the value to two
	// fractional digits.
	RecordPriceSample(ctx context.Context, sample PriceSample) error
}
