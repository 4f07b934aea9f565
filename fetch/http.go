package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPFetcher performs a single GET and returns the response body as
// markup. Covers static sites that serve prices in the initial HTML.
type HTTPFetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) { f.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTP creates an HTTPFetcher with sensible defaults.
func NewHTTP(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; pricewatch/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs a URL and returns the full body with elapsed time. Any
// non-2xx status is an *Error; the body is not inspected for content.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL, _ string) (*Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &Error{Strategy: StrategyFetch, URL: pageURL, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Strategy: StrategyFetch, URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Strategy: StrategyFetch, URL: pageURL,
			Err: fmt.Errorf("status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}

	// Cap read to 10MB to prevent runaway downloads.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &Error{Strategy: StrategyFetch, URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}

	elapsed := time.Since(start)
	f.logger.Debug("fetch: http fetched",
		"url", pageURL, "status", resp.StatusCode,
		"size", len(body), "elapsed_ms", elapsed.Milliseconds())

	return &Result{HTML: body, Elapsed: elapsed}, nil
}
