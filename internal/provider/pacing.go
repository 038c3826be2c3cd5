// Package provider holds shared provider plumbing: request pacing and
// the minimum-content guard applied to every fetched page.
package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/elberrd/pricewatch/internal/scraper"
)

// DefaultMinContentBytes is the minimum HTML payload size accepted from
// any provider. Smaller responses are treated as bot blocks.
const DefaultMinContentBytes = 5000

// Paced wraps a provider with a token-bucket rate limit so upstream
// APIs are not hammered during large batches.
type Paced struct {
	inner   scraper.Provider
	limiter *rate.Limiter
}

// NewPaced allows rps requests per second with the given burst.
func NewPaced(inner scraper.Provider, rps float64, burst int) *Paced {
	if burst < 1 {
		burst = 1
	}
	return &Paced{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *Paced) Name() string { return p.inner.Name() }

func (p *Paced) Fetch(ctx context.Context, url string) (scraper.FetchResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{
			Provider: p.inner.Name(),
			Err:      fmt.Errorf("waiting for rate limit: %w", err),
		}
	}
	return p.inner.Fetch(ctx, url)
}

// CheckSize enforces the minimum content threshold for a provider.
func CheckSize(providerName, html string, min int) error {
	if min <= 0 {
		min = DefaultMinContentBytes
	}
	if len(html) < min {
		return &scraper.ContentTooSmallError{Provider: providerName, Size: len(html), Min: min}
	}
	return nil
}
