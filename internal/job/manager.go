// Package job tracks batch job lifecycle through append-only snapshots
// and reports terminal outcomes.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/batch"
	"github.com/elberrd/pricewatch/internal/ingest"
	"github.com/elberrd/pricewatch/internal/metrics"
	"github.com/elberrd/pricewatch/internal/scraper"
)

// JobStatus is a job's lifecycle state.
type JobStatus string

// Lifecycle states. A job lands on exactly one of the three terminal
// states: completed when every task succeeded, failed when every task
// failed, partial otherwise.
const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusPartial    JobStatus = "partial"
	StatusFailed     JobStatus = "failed"
)

// Snapshot is one immutable observation of a job's state. Snapshots are
// append-only; the latest updatedAt wins when reading.
type Snapshot struct {
	JobID           string         `json:"jobId"`
	Status          JobStatus      `json:"status"`
	Total           int            `json:"total"`
	SuccessfulCount int            `json:"successfulCount"`
	FailedCount     int            `json:"failedCount"`
	WithScreenshots int            `json:"withScreenshots"`
	ByMethod        map[string]int `json:"byMethod,omitempty"`
	Error           string         `json:"error,omitempty"`
	WebhookError    string         `json:"webhookError,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	DurationMs      int64          `json:"durationMs,omitempty"`
}

// SnapshotStore persists job snapshots.
type SnapshotStore interface {
	Append(ctx context.Context, snapshot Snapshot) error
	Latest(ctx context.Context, jobID string) (Snapshot, error)
}

// ErrJobNotFound is returned by SnapshotStore.Latest for unknown jobs.
var ErrJobNotFound = fmt.Errorf("job not found")

// BatchRunner fans tasks out and returns one record per task.
type BatchRunner interface {
	RunBatch(ctx context.Context, tasks []scraper.Task) []scraper.Record
}

// TelemetrySink buffers terminal records for the analytics pipeline.
type TelemetrySink interface {
	Add(ctx context.Context, records ...ingest.TelemetryRecord)
	Flush(ctx context.Context)
}

// Notifier delivers the terminal job report. Best effort.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// Report is the terminal payload sent to the webhook.
type Report struct {
	JobID      string        `json:"jobId"`
	Status     JobStatus     `json:"status"`
	Summary    batch.Summary `json:"summary"`
	Alerts     []PriceAlert  `json:"alerts,omitempty"`
	DurationMs int64         `json:"durationMs"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Manager owns the job lifecycle: snapshot writes, batch execution,
// telemetry handoff, and terminal notification.
type Manager struct {
	store    SnapshotStore
	runner   BatchRunner
	sink     TelemetrySink
	notifier Notifier
	clock    scraper.Clock
	ids      scraper.IDGenerator
	logger   *zap.Logger
}

// NewManager constructs a Manager. sink and notifier may be nil.
func NewManager(
	store SnapshotStore,
	runner BatchRunner,
	sink TelemetrySink,
	notifier Notifier,
	clock scraper.Clock,
	ids scraper.IDGenerator,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		runner:   runner,
		sink:     sink,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// WithNotifier returns a copy of the manager that delivers terminal
// reports through n instead of the configured notifier. Used for
// per-request webhook destinations.
func (m *Manager) WithNotifier(n Notifier) *Manager {
	clone := *m
	clone.notifier = n
	return &clone
}

// Create registers a new pending job and returns its first snapshot.
func (m *Manager) Create(ctx context.Context, total int) (Snapshot, error) {
	now := m.clock.Now()
	snap := Snapshot{
		JobID:     m.ids.NewID(),
		Status:    StatusPending,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Append(ctx, snap); err != nil {
		return Snapshot{}, fmt.Errorf("registering job: %w", err)
	}
	return snap, nil
}

// Get returns the latest snapshot for a job.
func (m *Manager) Get(ctx context.Context, jobID string) (Snapshot, error) {
	return m.store.Latest(ctx, jobID)
}

// Execute runs the job's tasks to completion and writes the terminal
// snapshot. A panic anywhere in the batch pipeline is recorded as a
// failed job and then surfaced to the caller as an error.
func (m *Manager) Execute(ctx context.Context, snap Snapshot, tasks []scraper.Task) (final Snapshot, err error) {
	started := m.clock.Now()
	snap.Status = StatusProcessing
	snap.StartedAt = &started
	snap.UpdatedAt = started
	if appendErr := m.store.Append(ctx, snap); appendErr != nil {
		m.logger.Warn("could not record processing snapshot",
			zap.String("job_id", snap.JobID),
			zap.Error(appendErr),
		)
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job execution panicked",
				zap.String("job_id", snap.JobID),
				zap.Any("panic", r),
			)
			var finishErr error
			final, finishErr = m.finish(ctx, snap, started, batch.Summary{Total: snap.Total, Failed: snap.Total},
				nil, fmt.Sprintf("job panicked: %v", r))
			err = errors.Join(fmt.Errorf("job execution panicked: %v", r), finishErr)
		}
	}()

	records := m.runner.RunBatch(ctx, tasks)
	summary := batch.Summarize(records)

	if m.sink != nil {
		m.sink.Add(ctx, ingest.FromRecords(snap.JobID, records)...)
		m.sink.Flush(ctx)
	}

	return m.finish(ctx, snap, started, summary, records, "")
}

func (m *Manager) finish(
	ctx context.Context,
	snap Snapshot,
	started time.Time,
	summary batch.Summary,
	records []scraper.Record,
	failure string,
) (Snapshot, error) {
	now := m.clock.Now()
	snap.Status = terminalStatus(summary)
	snap.SuccessfulCount = summary.Successful
	snap.FailedCount = summary.Failed
	snap.WithScreenshots = summary.WithScreenshots
	snap.ByMethod = summary.ByMethod
	snap.Error = failure
	snap.UpdatedAt = now
	snap.CompletedAt = &now
	snap.DurationMs = now.Sub(started).Milliseconds()

	if err := m.store.Append(ctx, snap); err != nil {
		return snap, fmt.Errorf("recording terminal snapshot: %w", err)
	}

	metrics.ObserveJob(string(snap.Status), now.Sub(started))
	m.logger.Info("job finished",
		zap.String("job_id", snap.JobID),
		zap.String("status", string(snap.Status)),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int64("duration_ms", snap.DurationMs),
	)

	if m.notifier != nil {
		report := Report{
			JobID:      snap.JobID,
			Status:     snap.Status,
			Summary:    summary,
			Alerts:     ComputeAlerts(records),
			DurationMs: snap.DurationMs,
			FinishedAt: now,
		}
		if err := m.notifier.Notify(ctx, report); err != nil {
			m.logger.Warn("webhook notification failed",
				zap.String("job_id", snap.JobID),
				zap.Error(err),
			)
			// The delivery failure is recorded on the job but never
			// changes its terminal status and is never retried.
			snap.WebhookError = err.Error()
			snap.UpdatedAt = m.clock.Now()
			if appendErr := m.store.Append(ctx, snap); appendErr != nil {
				m.logger.Warn("could not record webhook failure",
					zap.String("job_id", snap.JobID),
					zap.Error(appendErr),
				)
			}
		}
	}
	return snap, nil
}

// terminalStatus maps counts to the terminal state. failed only when
// every task failed; partial for any mixed outcome.
func terminalStatus(summary batch.Summary) JobStatus {
	switch {
	case summary.Total == 0:
		return StatusCompleted
	case summary.Failed == 0:
		return StatusCompleted
	case summary.Failed == summary.Total:
		return StatusFailed
	default:
		return StatusPartial
	}
}
