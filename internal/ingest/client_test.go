package ingest

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elberrd/pricewatch/internal/scraper"
)

func sampleRecords() []TelemetryRecord {
	return FromRecords("job-1", []scraper.Record{
		{
			TaskID:    "t1",
			URL:       "https://shop.example/p/1",
			Status:    scraper.StatusCompleted,
			Method:    "firecrawl",
			Fields:    map[string]any{"currentPrice": 19.9},
			Attempts:  []string{"firecrawl"},
			ScrapedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
		{
			TaskID:       "t2",
			URL:          "https://shop.example/p/2",
			Status:       scraper.StatusError,
			Method:       scraper.MethodNone,
			ErrorMessage: "unlocker: timeout",
			ScrapedAt:    time.Date(2026, 8, 30, 12, 0, 1, 0, time.UTC),
		},
	})
}

func TestClient_SendsGzipNDJSON(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotContentType, gotEncoding string
	var lines []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotEncoding = r.Header.Get("Content-Encoding")

		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		raw, err := io.ReadAll(gz)
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
			var obj map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &obj))
			lines = append(lines, obj)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"successful_rows": 2, "quarantined_rows": 0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token", "scrape_events", srv.Client())
	resp, err := c.Send(context.Background(), sampleRecords())

	require.NoError(t, err)
	require.Equal(t, 2, resp.SuccessfulRows)
	require.Zero(t, resp.QuarantinedRows)

	require.Equal(t, "/v0/events?name=scrape_events", gotPath)
	require.Equal(t, "Bearer secret-token", gotAuth)
	require.Equal(t, "application/x-ndjson", gotContentType)
	require.Equal(t, "gzip", gotEncoding)

	require.Len(t, lines, 2)
	require.Equal(t, "job-1", lines[0]["jobId"])
	require.Equal(t, "t1", lines[0]["urlId"])
	require.Equal(t, "https://shop.example/p/1", lines[0]["productUrl"])
	require.Equal(t, "completed", lines[0]["status"])
	require.Equal(t, "2026-08-30T12:00:00Z", lines[0]["scrapedAt"])
	require.InEpsilon(t, 19.9, lines[0]["currentPrice"], 1e-9)
	require.Equal(t, "error", lines[1]["status"])
	require.Equal(t, "unlocker: timeout", lines[1]["errorMessage"])
}

func TestClient_RateLimitCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "scrape_events", srv.Client())
	_, err := c.Send(context.Background(), sampleRecords())

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestClient_ServerErrorIsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "scrape_events", srv.Client())
	_, err := c.Send(context.Background(), sampleRecords())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestClient_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	c := NewClient("http://sink.invalid", "tok", "scrape_events", nil)
	resp, err := c.Send(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, resp.SuccessfulRows)
}

func TestTelemetryRecord_FixedKeysWinOverFields(t *testing.T) {
	t.Parallel()

	rec := TelemetryRecord{
		JobID: "job-9",
		Record: scraper.Record{
			TaskID:    "t9",
			URL:       "https://shop.example/p/9",
			Status:    scraper.StatusCompleted,
			Method:    "unlocker",
			Fields:    map[string]any{"status": "bogus", "currentPrice": 5.0},
			Overrides: map[string]any{"minPrice": 4.0},
			ScrapedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
	}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	require.Equal(t, "completed", obj["status"])
	require.Equal(t, 5.0, obj["currentPrice"])
	require.Equal(t, 4.0, obj["minPrice"])
}
