// Package headless renders pages in a local Chrome instance for sites
// the API providers cannot unlock.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/provider"
	"github.com/elberrd/pricewatch/internal/scraper"
)

// dismissOverlays closes the consent banners and newsletter modals that
// commerce sites throw over the page before it settles.
const dismissOverlays = `
(() => {
  const selectors = [
    '[id*="cookie"] button',
    '[class*="cookie"] button',
    '[class*="consent"] button',
    'button[aria-label="Fechar"]',
    'button[aria-label="Close"]',
    '[class*="modal"] [class*="close"]',
    '[class*="popup"] [class*="close"]',
  ];
  for (const sel of selectors) {
    for (const el of document.querySelectorAll(sel)) {
      try { el.click(); } catch (e) {}
    }
  }
})();
`

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	MinContentBytes   int
	Screenshots       bool
}

// Fetcher implements scraper.Provider with chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless fetcher backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

func (f *Fetcher) Name() string { return scraper.ProviderHeadless }

// Fetch navigates with a headless browser and returns the rendered DOM,
// plus a full-page screenshot when enabled.
func (f *Fetcher) Fetch(ctx context.Context, url string) (scraper.FetchResult, error) {
	if err := f.acquire(ctx); err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{Provider: f.Name(), Err: err}
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	var html string
	var screenshot []byte

	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Evaluate(dismissOverlays, nil),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if f.cfg.Screenshots {
		actions = append(actions, chromedp.FullScreenshot(&screenshot, 90))
	}

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{
			Provider: f.Name(),
			Err:      fmt.Errorf("chromedp run: %w", err),
		}
	}
	if err := provider.CheckSize(f.Name(), html, f.cfg.MinContentBytes); err != nil {
		return scraper.FetchResult{}, err
	}

	f.logger.Debug("headless render complete",
		zap.String("url", url),
		zap.Int("html_bytes", len(html)),
		zap.Bool("screenshot", len(screenshot) > 0),
	)
	return scraper.FetchResult{HTML: html, Screenshot: screenshot}, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}
