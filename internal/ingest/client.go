package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client posts NDJSON event batches to an analytics events endpoint.
type Client struct {
	baseURL    string
	token      string
	datasource string
	httpClient *http.Client
}

// Response is the sink's per-request row accounting.
type Response struct {
	SuccessfulRows  int `json:"successful_rows"`
	QuarantinedRows int `json:"quarantined_rows"`
}

// RateLimitError is returned on HTTP 429. RetryAfter is zero when the
// server did not send a Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// StatusError is a non-2xx, non-429 response from the sink.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingest request failed with status %d: %s", e.StatusCode, e.Body)
}

// NewClient builds an ingestion client for one datasource.
func NewClient(baseURL, token, datasource string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		datasource: datasource,
		httpClient: httpClient,
	}
}

// Send posts one batch as gzip-compressed NDJSON. The returned Response
// reports how many rows the sink accepted and quarantined.
func (c *Client) Send(ctx context.Context, records []TelemetryRecord) (Response, error) {
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = r
	}
	return c.SendRows(ctx, rows)
}

// SendRows posts arbitrary rows to the client's datasource. Job
// snapshots travel over the same wire as telemetry, just under a
// different datasource name.
func (c *Client) SendRows(ctx context.Context, rows []any) (Response, error) {
	var resp Response
	if len(rows) == 0 {
		return resp, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			gz.Close()
			return resp, fmt.Errorf("encoding row: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return resp, fmt.Errorf("compressing batch: %w", err)
	}

	url := fmt.Sprintf("%s/v0/events?name=%s", c.baseURL, c.datasource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return resp, fmt.Errorf("building ingest request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return resp, fmt.Errorf("posting batch: %w", err)
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return resp, &RateLimitError{RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"))}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("decoding ingest response: %w", err)
	}
	return resp, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
