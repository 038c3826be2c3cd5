package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/elberrd/pricewatch/internal/job"
)

func TestAppendInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "job_snapshots")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	completed := now.Add(30 * time.Second)

	snap := job.Snapshot{
		JobID:           "job-1",
		Status:          job.StatusPartial,
		Total:           3,
		SuccessfulCount: 2,
		FailedCount:     1,
		WithScreenshots: 1,
		ByMethod:        map[string]int{"firecrawl": 2},
		CreatedAt:       now,
		UpdatedAt:       completed,
		StartedAt:       &now,
		CompletedAt:     &completed,
		DurationMs:      30000,
	}

	mock.ExpectExec("INSERT INTO job_snapshots").
		WithArgs(
			snap.JobID,
			"partial",
			snap.Total,
			snap.SuccessfulCount,
			snap.FailedCount,
			snap.WithScreenshots,
			[]byte(`{"firecrawl":2}`),
			snap.Error,
			snap.CreatedAt,
			snap.UpdatedAt,
			snap.StartedAt,
			snap.CompletedAt,
			snap.DurationMs,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Append(context.Background(), snap)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRequiresJobID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "job_snapshots")
	require.NoError(t, err)

	err = store.Append(context.Background(), job.Snapshot{})
	require.ErrorContains(t, err, "job id")
}

func TestLatestReturnsNewestSnapshot(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "job_snapshots")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"job_id", "status", "total", "successful_count", "failed_count",
		"with_screenshots", "by_method", "error", "created_at",
		"updated_at", "started_at", "completed_at", "duration_ms",
	}).AddRow(
		"job-1", "completed", 2, 2, 0,
		1, []byte(`{"unlocker":2}`), "", now,
		now.Add(time.Minute), &now, nil, int64(60000),
	)

	mock.ExpectQuery("SELECT").
		WithArgs("job-1").
		WillReturnRows(rows)

	snap, err := store.Latest(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, snap.Status)
	require.Equal(t, 2, snap.SuccessfulCount)
	require.Equal(t, map[string]int{"unlocker": 2}, snap.ByMethod)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestUnknownJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "job_snapshots")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Latest(context.Background(), "missing")
	require.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestInvalidTableNameRejected(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewSnapshotStoreWithPool(mock, "job_snapshots; DROP TABLE")
	require.Error(t, err)
}
