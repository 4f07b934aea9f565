package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the browser strategy.
type BrowserConfig struct {
	// SelectorTimeout bounds the wait for the price selector to appear
	// after navigation. Default: 15s.
	SelectorTimeout time.Duration

	// NavigateTimeout bounds navigation and initial load. Default: 30s.
	NavigateTimeout time.Duration

	// Viewport dimensions. Default: 1920x1080.
	ViewportWidth  int
	ViewportHeight int

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = 15 * time.Second
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// BrowserFetcher renders a page in an isolated headless Chrome before
// capturing its markup. Each Fetch launches its own browser process and
// tears it down on every exit path, so concurrent browser processes are
// bounded by worker concurrency rather than pooled and shared.
type BrowserFetcher struct {
	cfg BrowserConfig
}

// NewBrowser creates a BrowserFetcher.
func NewBrowser(cfg BrowserConfig) *BrowserFetcher {
	cfg.defaults()
	return &BrowserFetcher{cfg: cfg}
}

// Fetch navigates to the URL, waits for the DOM and then for waitSelector
// up to SelectorTimeout, and returns the fully rendered markup. A
// selector-wait timeout is an *Error like any navigation failure: the
// page may simply be slow, so the queue retries it.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL, waitSelector string) (*Result, error) {
	start := time.Now()
	log := f.cfg.Logger

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, &Error{Strategy: StrategyBrowser, URL: pageURL, Err: fmt.Errorf("launch: %w", err)}
	}
	defer l.Cleanup()

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, &Error{Strategy: StrategyBrowser, URL: pageURL, Err: fmt.Errorf("connect: %w", err)}
	}
	defer b.Close()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, &Error{Strategy: StrategyBrowser, URL: pageURL, Err: fmt.Errorf("create page: %w", err)}
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             f.cfg.ViewportWidth,
		Height:            f.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		log.Warn("fetch: set viewport failed", "url", pageURL, "error", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return nil, &Error{Strategy: StrategyBrowser, URL: pageURL, Err: fmt.Errorf("navigate: %w", err)}
	}
	if err := page.Context(navCtx).WaitDOMStable(300*time.Millisecond, 0); err != nil {
		log.Warn("fetch: wait dom timeout", "url", pageURL, "error", err)
	}

	if waitSelector != "" {
		selCtx, cancel := context.WithTimeout(ctx, f.cfg.SelectorTimeout)
		defer cancel()
		if _, err := page.Context(selCtx).Element(waitSelector); err != nil {
			return nil, &Error{Strategy: StrategyBrowser, URL: pageURL,
				Err: fmt.Errorf("wait selector %q: %w", waitSelector, err)}
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &Error{Strategy: StrategyBrowser, URL: pageURL, Err: fmt.Errorf("capture: %w", err)}
	}

	elapsed := time.Since(start)
	log.Debug("fetch: browser fetched",
		"url", pageURL, "size", len(html), "elapsed_ms", elapsed.Milliseconds())

	return &Result{HTML: []byte(html), Elapsed: elapsed}, nil
}
