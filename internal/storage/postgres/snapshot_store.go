// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elberrd/pricewatch/internal/job"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SnapshotStoreConfig controls the Postgres connection pool used for
// job snapshot rows.
type SnapshotStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SnapshotStore appends job snapshots to Postgres. Rows are never
// updated; reads take the newest updated_at per job.
type SnapshotStore struct {
	pool  querier
	table string
}

// NewSnapshotStore creates a Postgres-backed SnapshotStore using the
// provided config.
func NewSnapshotStore(ctx context.Context, cfg SnapshotStoreConfig) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "job_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SnapshotStore{pool: pool, table: table}, nil
}

// NewSnapshotStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewSnapshotStoreWithPool(pool querier, table string) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "job_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Append inserts one snapshot row.
func (s *SnapshotStore) Append(ctx context.Context, snap job.Snapshot) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if snap.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	byMethodJSON, err := json.Marshal(normalizeByMethod(snap.ByMethod))
	if err != nil {
		return fmt.Errorf("marshal method counts: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	status,
	total,
	successful_count,
	failed_count,
	with_screenshots,
	by_method,
	error,
	created_at,
	updated_at,
	started_at,
	completed_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		snap.JobID,
		string(snap.Status),
		snap.Total,
		snap.SuccessfulCount,
		snap.FailedCount,
		snap.WithScreenshots,
		byMethodJSON,
		snap.Error,
		snap.CreatedAt,
		snap.UpdatedAt,
		snap.StartedAt,
		snap.CompletedAt,
		snap.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the job's newest snapshot by updated_at.
func (s *SnapshotStore) Latest(ctx context.Context, jobID string) (job.Snapshot, error) {
	if s == nil || s.pool == nil {
		return job.Snapshot{}, fmt.Errorf("snapshot store is not configured")
	}
	query := fmt.Sprintf(`
SELECT
	job_id,
	status,
	total,
	successful_count,
	failed_count,
	with_screenshots,
	by_method,
	error,
	created_at,
	updated_at,
	started_at,
	completed_at,
	duration_ms
FROM %s
WHERE job_id = $1
ORDER BY updated_at DESC
LIMIT 1`, s.table)

	var snap job.Snapshot
	var status string
	var byMethodJSON []byte
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&snap.JobID,
		&status,
		&snap.Total,
		&snap.SuccessfulCount,
		&snap.FailedCount,
		&snap.WithScreenshots,
		&byMethodJSON,
		&snap.Error,
		&snap.CreatedAt,
		&snap.UpdatedAt,
		&snap.StartedAt,
		&snap.CompletedAt,
		&snap.DurationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Snapshot{}, job.ErrJobNotFound
	}
	if err != nil {
		return job.Snapshot{}, fmt.Errorf("query latest snapshot: %w", err)
	}
	snap.Status = job.JobStatus(status)
	if len(byMethodJSON) > 0 {
		if err := json.Unmarshal(byMethodJSON, &snap.ByMethod); err != nil {
			return job.Snapshot{}, fmt.Errorf("decode method counts: %w", err)
		}
	}
	if len(snap.ByMethod) == 0 {
		snap.ByMethod = nil
	}
	return snap, nil
}

func normalizeByMethod(m map[string]int) map[string]int {
	if len(m) == 0 {
		return map[string]int{}
	}
	return m
}
