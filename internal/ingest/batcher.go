package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/metrics"
	"github.com/elberrd/pricewatch/internal/scraper"
)

// Sender delivers one batch of telemetry rows.
type Sender interface {
	Send(ctx context.Context, records []TelemetryRecord) (Response, error)
}

// BatcherConfig tunes buffering and delivery behavior.
type BatcherConfig struct {
	// BatchSize triggers an immediate flush when the buffer reaches it.
	BatchSize int
	// FlushInterval flushes a non-empty buffer that has sat idle.
	FlushInterval time.Duration
	// MaxRetries is the total number of delivery attempts per batch.
	MaxRetries int
	// Backoff spaces delivery retries.
	Backoff scraper.BackoffPolicy
}

// Stats is the batcher's lifetime accounting.
type Stats struct {
	RowsAccepted    int
	RowsQuarantined int
	BatchesSent     int
	BatchesDropped  int
	Retries         int
}

// Batcher buffers telemetry rows and delivers them in batches with
// retry. Delivery failures never propagate to scrape work; a batch that
// exhausts its retries is dropped and counted.
type Batcher struct {
	sender Sender
	cfg    BatcherConfig
	logger *zap.Logger

	mu      sync.Mutex
	buf     []TelemetryRecord
	lastAdd time.Time
	stats   Stats

	stop chan struct{}
	done chan struct{}
}

// NewBatcher starts a Batcher and its background idle-flush loop.
func NewBatcher(sender Sender, cfg BatcherConfig, logger *zap.Logger) *Batcher {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = scraper.DefaultBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Batcher{
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		lastAdd: time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.idleFlushLoop()
	return b
}

// Add buffers rows and flushes synchronously when the buffer reaches
// the batch size.
func (b *Batcher) Add(ctx context.Context, records ...TelemetryRecord) {
	b.mu.Lock()
	b.buf = append(b.buf, records...)
	b.lastAdd = time.Now()
	var batch []TelemetryRecord
	if len(b.buf) >= b.cfg.BatchSize {
		batch = b.takeLocked()
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		b.deliver(ctx, batch)
	}
}

// Flush sends any buffered rows immediately.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.deliver(ctx, batch)
	}
}

// Close stops the idle-flush loop, delivers the remaining buffer, and
// logs lifetime stats. Safe to call once.
func (b *Batcher) Close(ctx context.Context) Stats {
	close(b.stop)
	<-b.done

	b.Flush(ctx)

	b.mu.Lock()
	stats := b.stats
	b.mu.Unlock()

	b.logger.Info("ingestion batcher closed",
		zap.Int("rows_accepted", stats.RowsAccepted),
		zap.Int("rows_quarantined", stats.RowsQuarantined),
		zap.Int("batches_sent", stats.BatchesSent),
		zap.Int("batches_dropped", stats.BatchesDropped),
		zap.Int("retries", stats.Retries),
	)
	return stats
}

// Stats returns a copy of the lifetime counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Batcher) takeLocked() []TelemetryRecord {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = nil
	return batch
}

func (b *Batcher) idleFlushLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			var batch []TelemetryRecord
			// Idle means no Add for a full interval, so a fresh row
			// always gets at least FlushInterval in the buffer.
			if len(b.buf) > 0 && time.Since(b.lastAdd) >= b.cfg.FlushInterval {
				batch = b.takeLocked()
			}
			b.mu.Unlock()
			if len(batch) > 0 {
				b.deliver(context.Background(), batch)
			}
		}
	}
}

// deliver attempts the batch up to MaxRetries times. A Retry-After hint
// from the sink overrides the computed backoff delay.
func (b *Batcher) deliver(ctx context.Context, batch []TelemetryRecord) {
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		resp, err := b.sender.Send(ctx, batch)
		if err == nil {
			b.mu.Lock()
			b.stats.BatchesSent++
			b.stats.RowsAccepted += resp.SuccessfulRows
			b.stats.RowsQuarantined += resp.QuarantinedRows
			b.mu.Unlock()
			metrics.ObserveIngestRows(resp.SuccessfulRows, resp.QuarantinedRows)
			if resp.QuarantinedRows > 0 {
				b.logger.Warn("sink quarantined rows",
					zap.Int("quarantined", resp.QuarantinedRows),
					zap.Int("accepted", resp.SuccessfulRows),
				)
			}
			return
		}

		if attempt == b.cfg.MaxRetries {
			break
		}

		delay := b.cfg.Backoff.Delay(attempt)
		var rateLimited *RateLimitError
		if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
			delay = rateLimited.RetryAfter
		}
		b.mu.Lock()
		b.stats.Retries++
		b.mu.Unlock()
		b.logger.Warn("batch delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("rows", len(batch)),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			b.dropBatch(batch, ctx.Err())
			return
		case <-time.After(delay):
		}
	}

	b.dropBatch(batch, errors.New("retry budget exhausted"))
}

func (b *Batcher) dropBatch(batch []TelemetryRecord, cause error) {
	b.mu.Lock()
	b.stats.BatchesDropped++
	b.mu.Unlock()
	metrics.ObserveIngestBatchDropped()
	b.logger.Error("dropping telemetry batch",
		zap.Int("rows", len(batch)),
		zap.Error(cause),
	)
}
