package batch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/elberrd/pricewatch/internal/scraper"
)

// Runner executes a single scrape task to completion.
type Runner interface {
	Run(ctx context.Context, task scraper.Task) scraper.Record
}

// Scheduler fans a batch of tasks out to a Runner under a fixed
// concurrency cap. Results come back in submission order regardless of
// completion order.
type Scheduler struct {
	runner      Runner
	concurrency int64
	logger      *zap.Logger
}

// NewScheduler constructs a Scheduler. Concurrency values below one are
// clamped to one.
func NewScheduler(runner Runner, concurrency int, logger *zap.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:      runner,
		concurrency: int64(concurrency),
		logger:      logger,
	}
}

// RunBatch executes all tasks and returns one record per task, index
// aligned with the input. A panicking task yields a synthetic error
// record instead of taking the batch down.
func (s *Scheduler) RunBatch(ctx context.Context, tasks []scraper.Task) []scraper.Record {
	records := make([]scraper.Record, len(tasks))
	sem := semaphore.NewWeighted(s.concurrency)
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: mark the remaining tasks failed without
			// running them.
			for j := i; j < len(tasks); j++ {
				records[j] = cancelledRecord(tasks[j], err)
			}
			break
		}
		wg.Add(1)
		go func(idx int, task scraper.Task) {
			defer wg.Done()
			defer sem.Release(1)
			records[idx] = s.runOne(ctx, task)
		}(i, task)
	}

	wg.Wait()
	return records
}

func (s *Scheduler) runOne(ctx context.Context, task scraper.Task) (record scraper.Record) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked",
				zap.String("task_id", task.TaskID),
				zap.String("url", task.URL),
				zap.Any("panic", r),
			)
			record = panicRecord(task, r)
		}
	}()
	return s.runner.Run(ctx, task)
}

func panicRecord(task scraper.Task, cause any) scraper.Record {
	return scraper.Record{
		TaskID:       task.TaskID,
		URL:          task.URL,
		Status:       scraper.StatusError,
		Method:       scraper.MethodNone,
		ErrorMessage: fmt.Sprintf("task panicked: %v", cause),
		Overrides:    task.Overrides,
	}
}

func cancelledRecord(task scraper.Task, err error) scraper.Record {
	return scraper.Record{
		TaskID:       task.TaskID,
		URL:          task.URL,
		Status:       scraper.StatusError,
		Method:       scraper.MethodNone,
		ErrorMessage: fmt.Sprintf("batch cancelled: %v", err),
		Overrides:    task.Overrides,
	}
}
