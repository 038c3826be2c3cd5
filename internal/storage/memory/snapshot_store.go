package memory

import (
	"context"
	"sync"

	"github.com/elberrd/pricewatch/internal/job"
)

// SnapshotStore keeps job snapshots in-memory, append-only. The latest
// updatedAt wins on read, matching the durable stores.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]job.Snapshot
}

// NewSnapshotStore constructs a SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string][]job.Snapshot),
	}
}

// Append records one snapshot.
func (s *SnapshotStore) Append(_ context.Context, snap job.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.JobID] = append(s.snapshots[snap.JobID], snap)
	return nil
}

// Latest returns the job's newest snapshot by UpdatedAt.
func (s *SnapshotStore) Latest(_ context.Context, jobID string) (job.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[jobID]
	if len(history) == 0 {
		return job.Snapshot{}, job.ErrJobNotFound
	}
	latest := history[0]
	for _, snap := range history[1:] {
		if !snap.UpdatedAt.Before(latest.UpdatedAt) {
			latest = snap
		}
	}
	return latest, nil
}

// History returns every snapshot appended for a job, in insertion
// order. Test helper.
func (s *SnapshotStore) History(jobID string) []job.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[jobID]
	out := make([]job.Snapshot, len(history))
	copy(out, history)
	return out
}
