package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/scraper"
)

type fakeSender struct {
	mu       sync.Mutex
	calls    int
	batches  [][]TelemetryRecord
	outcomes []error
	delays   []time.Time
}

func (s *fakeSender) Send(_ context.Context, records []TelemetryRecord) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	s.batches = append(s.batches, records)
	s.delays = append(s.delays, time.Now())
	if idx < len(s.outcomes) && s.outcomes[idx] != nil {
		return Response{}, s.outcomes[idx]
	}
	return Response{SuccessfulRows: len(records)}, nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastBackoff() scraper.BackoffPolicy {
	return scraper.BackoffPolicy{Base: time.Millisecond, Max: 5 * time.Millisecond}
}

func rows(n int) []TelemetryRecord {
	out := make([]TelemetryRecord, n)
	for i := range out {
		out[i] = TelemetryRecord{JobID: "job-1", Record: scraper.Record{TaskID: "t", Status: scraper.StatusCompleted}}
	}
	return out
}

func TestBatcher_FlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	b := NewBatcher(sender, BatcherConfig{
		BatchSize:     3,
		FlushInterval: time.Hour,
		MaxRetries:    1,
		Backoff:       fastBackoff(),
	}, zap.NewNop())
	defer b.Close(context.Background())

	b.Add(context.Background(), rows(2)...)
	require.Zero(t, sender.callCount())

	b.Add(context.Background(), rows(1)...)
	require.Equal(t, 1, sender.callCount())
	require.Len(t, sender.batches[0], 3)

	stats := b.Stats()
	require.Equal(t, 1, stats.BatchesSent)
	require.Equal(t, 3, stats.RowsAccepted)
}

func TestBatcher_IdleFlush(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	b := NewBatcher(sender, BatcherConfig{
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
		MaxRetries:    1,
		Backoff:       fastBackoff(),
	}, zap.NewNop())
	defer b.Close(context.Background())

	b.Add(context.Background(), rows(2)...)

	require.Eventually(t, func() bool {
		return sender.callCount() == 1
	}, time.Second, 5*time.Millisecond)
	require.Len(t, sender.batches[0], 2)
}

func TestBatcher_IdleFlushWaitsForLastAdd(t *testing.T) {
	t.Parallel()

	const interval = 300 * time.Millisecond

	sender := &fakeSender{}
	b := NewBatcher(sender, BatcherConfig{
		BatchSize:     100,
		FlushInterval: interval,
		MaxRetries:    1,
		Backoff:       fastBackoff(),
	}, zap.NewNop())
	defer b.Close(context.Background())

	// Add late in the interval; the idle timer must restart from the
	// add, not from batcher start.
	time.Sleep(interval - 50*time.Millisecond)
	added := time.Now()
	b.Add(context.Background(), rows(1)...)

	require.Eventually(t, func() bool {
		return sender.callCount() == 1
	}, 3*time.Second, 5*time.Millisecond)

	sender.mu.Lock()
	flushedAt := sender.delays[0]
	sender.mu.Unlock()
	require.GreaterOrEqual(t, flushedAt.Sub(added), interval,
		"idle flush fired before a full interval had passed since the add")
}

func TestBatcher_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{outcomes: []error{
		errors.New("connection reset"),
		&RateLimitError{RetryAfter: 10 * time.Millisecond},
		nil,
	}}
	b := NewBatcher(sender, BatcherConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxRetries:    5,
		Backoff:       fastBackoff(),
	}, zap.NewNop())
	defer b.Close(context.Background())

	b.Add(context.Background(), rows(2)...)

	require.Equal(t, 3, sender.callCount())
	stats := b.Stats()
	require.Equal(t, 1, stats.BatchesSent)
	require.Equal(t, 2, stats.Retries)
	require.Zero(t, stats.BatchesDropped)
	// Retry-After from the second failure spaces the third attempt.
	require.GreaterOrEqual(t, sender.delays[2].Sub(sender.delays[1]), 10*time.Millisecond)
}

func TestBatcher_DropsBatchAfterRetryBudget(t *testing.T) {
	t.Parallel()

	permanent := errors.New("sink down")
	sender := &fakeSender{outcomes: []error{permanent, permanent, permanent, permanent}}
	b := NewBatcher(sender, BatcherConfig{
		BatchSize:     1,
		FlushInterval: time.Hour,
		MaxRetries:    3,
		Backoff:       fastBackoff(),
	}, zap.NewNop())
	defer b.Close(context.Background())

	b.Add(context.Background(), rows(1)...)

	// MaxRetries counts total attempts: one initial try plus two retries.
	require.Equal(t, 3, sender.callCount())
	stats := b.Stats()
	require.Equal(t, 1, stats.BatchesDropped)
	require.Equal(t, 2, stats.Retries)
	require.Zero(t, stats.BatchesSent)
}

func TestBatcher_CloseFlushesRemainder(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	b := NewBatcher(sender, BatcherConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxRetries:    1,
		Backoff:       fastBackoff(),
	}, zap.NewNop())

	b.Add(context.Background(), rows(4)...)
	stats := b.Close(context.Background())

	require.Equal(t, 1, sender.callCount())
	require.Equal(t, 4, stats.RowsAccepted)
}

func TestBatcher_QuarantineIsCounted(t *testing.T) {
	t.Parallel()

	sender := &quarantineSender{}
	b := NewBatcher(sender, BatcherConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxRetries:    1,
		Backoff:       fastBackoff(),
	}, zap.NewNop())
	defer b.Close(context.Background())

	b.Add(context.Background(), rows(2)...)

	stats := b.Stats()
	require.Equal(t, 1, stats.RowsAccepted)
	require.Equal(t, 1, stats.RowsQuarantined)
}

type quarantineSender struct{}

func (quarantineSender) Send(_ context.Context, records []TelemetryRecord) (Response, error) {
	return Response{SuccessfulRows: len(records) - 1, QuarantinedRows: 1}, nil
}
