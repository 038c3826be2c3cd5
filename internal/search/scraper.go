// Package search discovers candidate product pages from marketplace
// search results.
package search

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Listing is one product summary from a search results page.
type Listing struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	Seller          string   `json:"seller,omitempty"`
	Shipping        string   `json:"shipping,omitempty"`
	Installments    string   `json:"installments,omitempty"`
	CurrentPrice    *float64 `json:"currentPrice,omitempty"`
	OriginalPrice   *float64 `json:"originalPrice,omitempty"`
	DiscountPercent int      `json:"discountPercent,omitempty"`
	Currency        string   `json:"currency"`
}

// Config controls the discovery collector.
type Config struct {
	// BaseURL is the listing site root. Defaults to MercadoLivre.
	BaseURL    string
	UserAgent  string
	MaxResults int
	Timeout    time.Duration
}

const defaultBaseURL = "https://lista.mercadolivre.com.br"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Scraper crawls marketplace search pages and extracts listings.
type Scraper struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Scraper.
func New(cfg Config, logger *zap.Logger) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{cfg: cfg, logger: logger}
}

// SearchURL builds the listing URL for a search term. MercadoLivre
// encodes terms as hyphenated path segments.
func (s *Scraper) SearchURL(term string) string {
	hyphenated := strings.ReplaceAll(strings.TrimSpace(term), " ", "-")
	return s.cfg.BaseURL + "/" + url.PathEscape(hyphenated)
}

// Search fetches one results page and returns up to MaxResults
// listings in page order.
func (s *Scraper) Search(ctx context.Context, term string) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search cancelled: %w", err)
	}
	target := s.SearchURL(term)

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = s.cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(s.cfg.Timeout)

	var (
		mu       sync.Mutex
		listings []Listing
		fetchErr error
	)
	c.OnHTML("li.ui-search-layout__item", func(e *colly.HTMLElement) {
		listing, ok := parseListing(e.DOM)
		if !ok {
			return
		}
		mu.Lock()
		if len(listings) < s.cfg.MaxResults {
			listings = append(listings, listing)
		}
		mu.Unlock()
	})
	c.OnError(func(resp *colly.Response, err error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fetchErr = fmt.Errorf("fetching %s (status %d): %w", target, status, err)
	})

	s.logger.Info("searching marketplace",
		zap.String("term", term),
		zap.String("url", target),
	)
	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("visiting %s: %w", target, err)
	}
	c.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}

	s.logger.Info("search finished",
		zap.String("term", term),
		zap.Int("listings", len(listings)),
	)
	return listings, nil
}

// URLs returns just the product URLs from a listing set, preserving
// order and dropping empties.
func URLs(listings []Listing) []string {
	urls := make([]string, 0, len(listings))
	for _, l := range listings {
		if l.URL != "" {
			urls = append(urls, l.URL)
		}
	}
	return urls
}

var discountPattern = regexp.MustCompile(`(\d+)`)

func parseListing(item *goquery.Selection) (Listing, bool) {
	listing := Listing{Currency: "R$"}

	title := item.Find("a.poly-component__title").First()
	listing.Title = strings.TrimSpace(title.Text())
	listing.URL, _ = title.Attr("href")
	if listing.Title == "" {
		return Listing{}, false
	}

	if img := item.Find("div.poly-component__picture img").First(); img.Length() > 0 {
		if src, ok := img.Attr("data-src"); ok && src != "" {
			listing.ImageURL = src
		} else if src, ok := img.Attr("src"); ok {
			listing.ImageURL = src
		}
	}

	listing.CurrentPrice = parseMoney(item.Find("div.poly-price__current").First())
	listing.OriginalPrice = parseMoney(item.Find("s.andes-money-amount--previous").First())

	if discount := strings.TrimSpace(item.Find("span.andes-money-amount__discount").First().Text()); discount != "" {
		if m := discountPattern.FindString(discount); m != "" {
			listing.DiscountPercent, _ = strconv.Atoi(m)
		}
	}

	listing.Installments = strings.TrimSpace(item.Find("span.poly-price__installments").First().Text())
	listing.Shipping = strings.TrimSpace(item.Find("div.poly-component__shipping").First().Text())
	listing.Seller = strings.TrimSpace(item.Find("span.poly-component__seller").First().Text())
	return listing, true
}

// parseMoney reads the fraction/cents span pair used by the listing
// markup. Fraction text uses "." as a thousands separator.
func parseMoney(container *goquery.Selection) *float64 {
	if container == nil || container.Length() == 0 {
		return nil
	}
	fraction := strings.TrimSpace(container.Find("span.andes-money-amount__fraction").First().Text())
	if fraction == "" {
		return nil
	}
	fraction = strings.ReplaceAll(fraction, ".", "")
	fraction = strings.ReplaceAll(fraction, ",", "")
	amount, err := strconv.ParseFloat(fraction, 64)
	if err != nil {
		return nil
	}
	if cents := strings.TrimSpace(container.Find("span.andes-money-amount__cents").First().Text()); cents != "" {
		if c, err := strconv.ParseFloat(cents, 64); err == nil {
			amount += c / 100
		}
	}
	return &amount
}
