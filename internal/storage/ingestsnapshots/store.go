// Package ingestsnapshots mirrors job snapshots into the analytics
// sink over the same NDJSON transport as scrape telemetry.
package ingestsnapshots

import (
	"context"

	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/ingest"
	"github.com/elberrd/pricewatch/internal/job"
)

// Sender posts snapshot rows to the sink.
type Sender interface {
	SendRows(ctx context.Context, rows []any) (ingest.Response, error)
}

// Store wraps a local snapshot store and forwards every append to the
// analytics sink. The local store stays the source of truth for reads;
// sink delivery is best effort, matching telemetry's accepted-loss
// design.
type Store struct {
	local  job.SnapshotStore
	sender Sender
	logger *zap.Logger
}

// New builds a Store around local and sender.
func New(local job.SnapshotStore, sender Sender, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{local: local, sender: sender, logger: logger}
}

// Append persists the snapshot locally, then mirrors it to the sink.
// A sink failure is logged and dropped; the append still succeeds.
func (s *Store) Append(ctx context.Context, snapshot job.Snapshot) error {
	if err := s.local.Append(ctx, snapshot); err != nil {
		return err
	}
	if _, err := s.sender.SendRows(ctx, []any{snapshot}); err != nil {
		s.logger.Warn("snapshot mirror to sink failed",
			zap.String("job_id", snapshot.JobID),
			zap.String("status", string(snapshot.Status)),
			zap.Error(err),
		)
	}
	return nil
}

// Latest reads from the local store.
func (s *Store) Latest(ctx context.Context, jobID string) (job.Snapshot, error) {
	return s.local.Latest(ctx, jobID)
}
