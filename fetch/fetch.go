// Package fetch retrieves raw markup for a scrape target via one of two
// strategies: a plain HTTP GET for static pages, or a disposable headless
// browser for pages that render prices client-side. Both implement
// Fetcher; the target's configured strategy selects which one runs.
package fetch

import (
	"context"
	"fmt"
	"time"
)

// Strategy selects the acquisition path for a target. The set is closed:
// anything other than StrategyBrowser falls back to the HTTP path.
type Strategy string

const (
	StrategyFetch   Strategy = "fetch"
	StrategyBrowser Strategy = "browser"
)

// Result is the outcome of a fetch.
type Result struct {
	HTML    []byte
	Elapsed time.Duration
}

// Fetcher retrieves the markup of a single URL. waitSelector is the CSS
// selector the browser strategy waits for before capturing; the HTTP
// strategy ignores it.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL, waitSelector string) (*Result, error)
}

// Error is a failed acquisition: network failure, non-success status,
// browser navigation failure, or selector-wait timeout. All of these are
// transient from the pipeline's point of view and retried by the queue.
type Error struct {
	Strategy Strategy
	URL      string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch: %s %s: %v", e.Strategy, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Set holds one fetcher per strategy, built once at startup and shared by
// all workers.
type Set struct {
	HTTP    Fetcher
	Browser Fetcher
}

// For returns the fetcher for a strategy.
func (s *Set) For(strategy Strategy) Fetcher {
	if strategy == StrategyBrowser {
		return s.Browser
	}
	return s.HTTP
}
