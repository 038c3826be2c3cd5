// Package metrics exposes Prometheus collectors for the scrape service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeTasksTotal           *prometheus.CounterVec
	scrapeAttemptsTotal        *prometheus.CounterVec
	scrapeTaskDurationSeconds  *prometheus.HistogramVec
	ingestRowsTotal            *prometheus.CounterVec
	ingestBatchesDroppedTotal  prometheus.Counter
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_tasks_total",
				Help: "Total number of scrape tasks, labeled by site, provider, and status.",
			},
			[]string{"site", "provider", "status"},
		)

		scrapeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_attempts_total",
				Help: "Total number of provider fetch attempts, labeled by provider.",
			},
			[]string{"provider"},
		)

		scrapeTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_task_duration_seconds",
				Help:    "Histogram of end-to-end task durations, labeled by provider.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 45, 90, 180},
			},
			[]string{"provider"},
		)

		ingestRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rows_total",
				Help: "Total rows handed to the analytics sink, labeled by result.",
			},
			[]string{"result"},
		)

		ingestBatchesDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_batches_dropped_total",
				Help: "Total telemetry batches dropped after exhausting delivery retries.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_total",
				Help: "Total number of jobs processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		jobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scrape_job_duration_seconds",
				Help:    "Histogram of whole-job durations.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one finished scrape task. A no-op before Init.
func ObserveTask(site, provider, status string, duration time.Duration) {
	if scrapeTasksTotal == nil {
		return
	}
	scrapeTasksTotal.WithLabelValues(SanitizeSite(site), provider, status).Inc()
	scrapeTaskDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveAttempt increments the per-provider fetch attempt counter.
func ObserveAttempt(provider string) {
	if scrapeAttemptsTotal == nil {
		return
	}
	scrapeAttemptsTotal.WithLabelValues(provider).Inc()
}

// ObserveIngestRows records sink row accounting.
func ObserveIngestRows(accepted, quarantined int) {
	if ingestRowsTotal == nil {
		return
	}
	if accepted > 0 {
		ingestRowsTotal.WithLabelValues("accepted").Add(float64(accepted))
	}
	if quarantined > 0 {
		ingestRowsTotal.WithLabelValues("quarantined").Add(float64(quarantined))
	}
}

// ObserveIngestBatchDropped increments the dropped batch counter.
func ObserveIngestBatchDropped() {
	if ingestBatchesDroppedTotal == nil {
		return
	}
	ingestBatchesDroppedTotal.Inc()
}

// ObserveJob records one terminal job.
func ObserveJob(status string, duration time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
	jobDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
