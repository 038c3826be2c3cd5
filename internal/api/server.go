// Package api exposes the HTTP interface for the scrape service.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/batch"
	"github.com/elberrd/pricewatch/internal/config"
	"github.com/elberrd/pricewatch/internal/job"
	"github.com/elberrd/pricewatch/internal/metrics"
	"github.com/elberrd/pricewatch/internal/scraper"
)

// Server wires HTTP handlers to the job manager.
type Server struct {
	router chi.Router
	jobs   *job.Manager
	ids    scraper.IDGenerator
	logger *zap.Logger
	cfg    config.Config

	// newNotifier builds a notifier for a caller-supplied webhook URL.
	newNotifier func(url string) job.Notifier
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs *job.Manager, ids scraper.IDGenerator, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:   jobs,
		ids:    ids,
		logger: logger,
		cfg:    cfg,
	}
	s.newNotifier = func(url string) job.Notifier {
		return job.NewWebhookNotifier(url, cfg.Webhook.Secret, nil, logger)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(ids))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/batches", s.submitBatch)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type batchRequest struct {
	Items      []map[string]any `json:"items"`
	WebhookURL string           `json:"webhookUrl"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatchRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	tasks := batch.Normalize(req.Items, s.logger)
	if len(tasks) == 0 {
		writeError(w, http.StatusBadRequest, "no valid items: each item needs a url and an id")
		return
	}

	snap, err := s.jobs.Create(r.Context(), len(tasks))
	if err != nil {
		s.logger.Error("job creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	mgr := s.jobs
	if req.WebhookURL != "" {
		mgr = mgr.WithNotifier(s.newNotifier(req.WebhookURL))
	}
	// The batch outlives the request; detach from its cancellation.
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := mgr.Execute(runCtx, snap, tasks); err != nil {
			s.logger.Error("batch execution failed",
				zap.String("job_id", snap.JobID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  snap.JobID,
		"status": snap.Status,
		"total":  len(tasks),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read job")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// decodeBatchRequest accepts either {"items": [...]} or a bare JSON
// array of items.
func decodeBatchRequest(body io.Reader) (batchRequest, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 10<<20))
	if err != nil {
		return batchRequest{}, fmt.Errorf("reading request body: %w", err)
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return batchRequest{}, fmt.Errorf("decoding item array: %w", err)
		}
		return batchRequest{Items: items}, nil
	}
	var req batchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return batchRequest{}, fmt.Errorf("decoding request: %w", err)
	}
	return req, nil
}

type requestIDKey struct{}

func requestIDMiddleware(ids scraper.IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := ids.NewID()
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
