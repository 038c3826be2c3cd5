package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitAndObserve(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if scrapeTasksTotal == nil || ingestRowsTotal == nil || jobsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveTask("https://shop.example/p/1", "firecrawl", "completed", 3*time.Second)
	if val := testutil.ToFloat64(scrapeTasksTotal.WithLabelValues("shop.example", "firecrawl", "completed")); val != 1 {
		t.Errorf("expected scrapeTasksTotal to be 1, got %f", val)
	}

	ObserveIngestRows(5, 1)
	if val := testutil.ToFloat64(ingestRowsTotal.WithLabelValues("accepted")); val != 5 {
		t.Errorf("expected 5 accepted rows, got %f", val)
	}
	if val := testutil.ToFloat64(ingestRowsTotal.WithLabelValues("quarantined")); val != 1 {
		t.Errorf("expected 1 quarantined row, got %f", val)
	}
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}()

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("expected httpRequestsTotal for GET 200 >= 1, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}
