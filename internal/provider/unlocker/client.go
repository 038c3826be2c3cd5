// Package unlocker fetches pages through the Bright Data Web Unlocker
// proxy API.
package unlocker

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

const defaultBaseURL = "https://api.brightdata.com"

// Config holds the client's connection settings.
type Config struct {
	APIToken        string
	Zone            string
	BaseURL         string
	Timeout         time.Duration
	MinContentBytes int
	Screenshots     bool
}

// Client implements scraper.Provider against the Unlocker request API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs an Unlocker client.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

func (c *Client) Name() string { return scraper.ProviderUnlocker }

// Fetch retrieves the raw page, and on success makes a second request
// for a rendered screenshot.
func (c *Client) Fetch(ctx context.Context, url string) (scraper.FetchResult, error) {
	if c.cfg.APIToken == "" || c.cfg.Zone == "" {
		return scraper.FetchResult{}, &scraper.ConfigError{Reason: "unlocker token or zone not set"}
	}

	html, err := c.request(ctx, url, "")
	if err != nil {
		return scraper.FetchResult{}, err
	}
	if err := provider.CheckSize(c.Name(), string(html), c.cfg.MinContentBytes); err != nil {
		return scraper.FetchResult{}, err
	}

	result := scraper.FetchResult{HTML: string(html)}
	if c.cfg.Screenshots {
		shot, err := c.request(ctx, url, "screenshot")
		if err != nil {
			// The page fetch already succeeded; losing the screenshot is
			// not worth failing the attempt.
			c.logger.Warn("unlocker screenshot request failed",
				zap.String("url", url),
				zap.Error(err),
			)
		} else {
			result.Screenshot = shot
		}
	}
	return result, nil
}

func (c *Client) request(ctx context.Context, url, dataFormat string) ([]byte, error) {
	reqBody := map[string]string{
		"zone":   c.cfg.Zone,
		"url":    url,
		"format": "raw",
	}
	if dataFormat != "" {
		reqBody["data_format"] = dataFormat
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &scraper.TransportError{Provider: c.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/request", bytes.NewReader(payload))
	if err != nil {
		return nil, &scraper.TransportError{Provider: c.Name(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &scraper.TransportError{Provider: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &scraper.TransportError{Provider: c.Name(), Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &scraper.ConfigError{
			Reason: fmt.Sprintf("unlocker rejected credentials (status %d)", resp.StatusCode),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &scraper.TransportError{
			Provider: c.Name(),
			Err:      fmt.Errorf("request returned status %d", resp.StatusCode),
		}
	}
	return body, nil
}
