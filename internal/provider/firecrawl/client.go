// Package firecrawl fetches rendered pages through the Firecrawl scrape
// API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/provider"
	"github.com/elberrd/pricewatch/internal/scraper"
)

const defaultBaseURL = "https://api.firecrawl.dev"

// Config holds the client's connection settings.
type Config struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	MinContentBytes int
	Screenshots     bool
}

// Client implements scraper.Provider against the Firecrawl v2 API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Firecrawl client.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

func (c *Client) Name() string { return scraper.ProviderFirecrawl }

type scrapeRequest struct {
	URL     string `json:"url"`
	Formats []any  `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		HTML       string `json:"html"`
		Screenshot string `json:"screenshot,omitempty"`
	} `json:"data"`
}

// Fetch scrapes one page, optionally capturing a full-page screenshot.
func (c *Client) Fetch(ctx context.Context, url string) (scraper.FetchResult, error) {
	if c.cfg.APIKey == "" {
		return scraper.FetchResult{}, &scraper.ConfigError{Reason: "firecrawl API key not set"}
	}

	reqBody := scrapeRequest{URL: url, Formats: []any{"html"}}
	if c.cfg.Screenshots {
		reqBody.Formats = append(reqBody.Formats, map[string]any{"type": "screenshot", "fullPage": true})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{Provider: c.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/scrape", bytes.NewReader(payload))
	if err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{Provider: c.Name(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{Provider: c.Name(), Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 32<<20))
	if err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{Provider: c.Name(), Err: err}
	}
	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return scraper.FetchResult{}, &scraper.ConfigError{
			Reason: fmt.Sprintf("firecrawl rejected credentials (status %d)", httpResp.StatusCode),
		}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return scraper.FetchResult{}, &scraper.TransportError{
			Provider: c.Name(),
			Err:      fmt.Errorf("scrape returned status %d", httpResp.StatusCode),
		}
	}

	var resp scrapeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return scraper.FetchResult{}, &scraper.TransportError{Provider: c.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if !resp.Success {
		return scraper.FetchResult{}, &scraper.TransportError{
			Provider: c.Name(),
			Err:      fmt.Errorf("scrape failed: %s", resp.Error),
		}
	}
	if err := provider.CheckSize(c.Name(), resp.Data.HTML, c.cfg.MinContentBytes); err != nil {
		return scraper.FetchResult{}, err
	}

	result := scraper.FetchResult{HTML: resp.Data.HTML}
	if resp.Data.Screenshot != "" {
		result.Screenshot = c.downloadScreenshot(ctx, resp.Data.Screenshot)
	}
	return result, nil
}

// downloadScreenshot pulls the hosted screenshot bytes. Best effort; a
// failed download only loses the screenshot.
func (c *Client) downloadScreenshot(ctx context.Context, url string) []byte {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("screenshot download failed", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("screenshot download returned non-200", zap.Int("status", resp.StatusCode))
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil
	}
	return data
}
