package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/config"
	"github.com/elberrd/pricewatch/internal/job"
	"github.com/elberrd/pricewatch/internal/scraper"
	"github.com/elberrd/pricewatch/internal/storage/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

// signalRunner completes every task and closes done after the first
// RunBatch call.
type signalRunner struct {
	mu   sync.Mutex
	got  []scraper.Task
	done chan struct{}
	once sync.Once
}

func (r *signalRunner) RunBatch(_ context.Context, tasks []scraper.Task) []scraper.Record {
	r.mu.Lock()
	r.got = append(r.got, tasks...)
	r.mu.Unlock()
	records := make([]scraper.Record, len(tasks))
	for i, task := range tasks {
		records[i] = scraper.Record{TaskID: task.TaskID, URL: task.URL, Status: scraper.StatusCompleted}
	}
	if r.done != nil {
		r.once.Do(func() { close(r.done) })
	}
	return records
}

func (r *signalRunner) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls := make([]string, len(r.got))
	for i, task := range r.got {
		urls[i] = task.URL
	}
	return urls
}

type notifierFunc func(report job.Report) error

func (f notifierFunc) Notify(_ context.Context, report job.Report) error { return f(report) }

func newTestServer(t *testing.T, runner job.BatchRunner) (*Server, *memory.SnapshotStore) {
	t.Helper()
	store := memory.NewSnapshotStore()
	mgr := job.NewManager(store, runner, nil, nil, stubClock{}, &seqIDs{}, zap.NewNop())
	return NewServer(mgr, &seqIDs{}, config.Config{}, zap.NewNop()), store
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &signalRunner{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSubmitBatchAccepted(t *testing.T) {
	t.Parallel()
	runner := &signalRunner{done: make(chan struct{})}
	srv, store := newTestServer(t, runner)

	body := `{"items":[{"url":"https://shop.example/p/1","urlId":"p1","label":"tv"},{"productUrl":"https://shop.example/p/2","urlId":"p2"}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
		Total  int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.Equal(t, "pending", resp.Status)
	require.Equal(t, 2, resp.Total)

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was never executed")
	}
	require.Eventually(t, func() bool {
		snap, err := store.Latest(context.Background(), resp.JobID)
		return err == nil && snap.Status == job.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"https://shop.example/p/1", "https://shop.example/p/2"}, runner.urls())
}

func TestSubmitBatchBareArray(t *testing.T) {
	t.Parallel()
	runner := &signalRunner{done: make(chan struct{})}
	srv, _ := newTestServer(t, runner)

	body := `[{"url":"https://shop.example/p/1","urlId":"p1"}]`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was never executed")
	}
}

func TestSubmitBatchRejectsEmptyAndInvalid(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &signalRunner{})

	cases := map[string]string{
		"invalid json": `{"items": [`,
		"no items":     `{"items": []}`,
		"no urls":      `{"items": [{"label": "missing url"}]}`,
		"no ids":       `{"items": [{"url": "https://shop.example/p/1"}]}`,
	}
	for name, body := range cases {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &signalRunner{})

	snap := job.Snapshot{
		JobID:     "job-42",
		Status:    job.StatusPartial,
		Total:     3,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Append(context.Background(), snap))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got job.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "job-42", got.JobID)
	require.Equal(t, job.StatusPartial, got.Status)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()
	store := memory.NewSnapshotStore()
	mgr := job.NewManager(store, &signalRunner{}, nil, nil, stubClock{}, &seqIDs{}, zap.NewNop())
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	srv := NewServer(mgr, &seqIDs{}, cfg, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil)
	req.Header.Set("X-API-Key", "sekrit")
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookURLBuildsRequestNotifier(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &signalRunner{})

	notified := make(chan string, 1)
	srv.newNotifier = func(url string) job.Notifier {
		return notifierFunc(func(job.Report) error {
			notified <- url
			return nil
		})
	}

	body := `{"items":[{"url":"https://shop.example/p/1","urlId":"p1"}],"webhookUrl":"https://hooks.example/app"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case url := <-notified:
		require.Equal(t, "https://hooks.example/app", url)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook notifier was never invoked")
	}
}
