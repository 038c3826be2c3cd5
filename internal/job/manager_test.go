package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/ingest"
	"github.com/elberrd/pricewatch/internal/scraper"
)

type memStore struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (s *memStore) Append(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *memStore) Latest(_ context.Context, jobID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Snapshot
	for i := range s.snapshots {
		snap := &s.snapshots[i]
		if snap.JobID != jobID {
			continue
		}
		if latest == nil || snap.UpdatedAt.After(latest.UpdatedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return Snapshot{}, ErrJobNotFound
	}
	return *latest, nil
}

type fixedRunner struct {
	records []scraper.Record
	panics  bool
}

func (r *fixedRunner) RunBatch(_ context.Context, _ []scraper.Task) []scraper.Record {
	if r.panics {
		panic("scheduler blew up")
	}
	return r.records
}

type captureSink struct {
	added   []ingest.TelemetryRecord
	flushes int
}

func (s *captureSink) Add(_ context.Context, records ...ingest.TelemetryRecord) {
	s.added = append(s.added, records...)
}

func (s *captureSink) Flush(_ context.Context) { s.flushes++ }

type captureNotifier struct {
	reports []Report
	err     error
}

func (n *captureNotifier) Notify(_ context.Context, report Report) error {
	n.reports = append(n.reports, report)
	return n.err
}

type tickClock struct {
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixedIDs struct{ id string }

func (g fixedIDs) NewID() string { return g.id }

func completedRecord(id string) scraper.Record {
	return scraper.Record{TaskID: id, Status: scraper.StatusCompleted, Method: "firecrawl"}
}

func failedRecord(id string) scraper.Record {
	return scraper.Record{TaskID: id, Status: scraper.StatusError, Method: scraper.MethodNone}
}

func TestManager_LifecycleToCompleted(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	sink := &captureSink{}
	notifier := &captureNotifier{}
	runner := &fixedRunner{records: []scraper.Record{completedRecord("t1"), completedRecord("t2")}}
	m := NewManager(store, runner, sink, notifier,
		&tickClock{now: time.Unix(1700000000, 0).UTC()}, fixedIDs{id: "job-abc"}, zap.NewNop())

	snap, err := m.Create(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "job-abc", snap.JobID)
	require.Equal(t, StatusPending, snap.Status)

	final, err := m.Execute(context.Background(), snap, []scraper.Task{{TaskID: "t1"}, {TaskID: "t2"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, 2, final.SuccessfulCount)
	require.Zero(t, final.FailedCount)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	require.Positive(t, final.DurationMs)

	// pending, processing, terminal.
	require.Len(t, store.snapshots, 3)
	require.Equal(t, StatusProcessing, store.snapshots[1].Status)

	latest, err := m.Get(context.Background(), "job-abc")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, latest.Status)

	require.Len(t, sink.added, 2)
	require.Equal(t, "job-abc", sink.added[0].JobID)
	require.Equal(t, 1, sink.flushes)

	require.Len(t, notifier.reports, 1)
	require.Equal(t, StatusCompleted, notifier.reports[0].Status)
}

func TestManager_PartialAndFailedStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		records []scraper.Record
		want    JobStatus
	}{
		{"mixed is partial", []scraper.Record{completedRecord("a"), failedRecord("b")}, StatusPartial},
		{"all failed is failed", []scraper.Record{failedRecord("a"), failedRecord("b")}, StatusFailed},
		{"all succeeded is completed", []scraper.Record{completedRecord("a")}, StatusCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &memStore{}
			m := NewManager(store, &fixedRunner{records: tc.records}, nil, nil,
				&tickClock{now: time.Unix(1700000000, 0).UTC()}, fixedIDs{id: "job-x"}, zap.NewNop())

			snap, err := m.Create(context.Background(), len(tc.records))
			require.NoError(t, err)
			final, err := m.Execute(context.Background(), snap, nil)
			require.NoError(t, err)
			require.Equal(t, tc.want, final.Status)
		})
	}
}

func TestManager_PanicBecomesFailedJob(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	m := NewManager(store, &fixedRunner{panics: true}, nil, nil,
		&tickClock{now: time.Unix(1700000000, 0).UTC()}, fixedIDs{id: "job-p"}, zap.NewNop())

	snap, err := m.Create(context.Background(), 3)
	require.NoError(t, err)
	final, err := m.Execute(context.Background(), snap, nil)
	require.ErrorContains(t, err, "panicked")

	// The failed snapshot is persisted before the error surfaces.
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, 3, final.FailedCount)
	require.Contains(t, final.Error, "panicked")

	stored, err := store.Latest(context.Background(), "job-p")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
}

func TestManager_NotifierFailureDoesNotFailJob(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	notifier := &captureNotifier{err: errors.New("webhook unreachable")}
	m := NewManager(store, &fixedRunner{records: []scraper.Record{completedRecord("t1")}}, nil, notifier,
		&tickClock{now: time.Unix(1700000000, 0).UTC()}, fixedIDs{id: "job-n"}, zap.NewNop())

	snap, err := m.Create(context.Background(), 1)
	require.NoError(t, err)
	final, err := m.Execute(context.Background(), snap, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)

	// The failure is recorded on a follow-up snapshot.
	latest, err := store.Latest(context.Background(), "job-n")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, latest.Status)
	require.Equal(t, "webhook unreachable", latest.WebhookError)
}

func TestMemStore_LatestUnknownJob(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	_, err := store.Latest(context.Background(), "nope")
	require.ErrorIs(t, err, ErrJobNotFound)
}
