package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/metrics"
)

// Orchestrator drives one task through an ordered provider list with
// per-provider retry budgets, producing the task's result record.
type Orchestrator struct {
	profiles  map[string]Profile
	router    Router
	extractor Extractor
	artifacts ArtifactProcessor
	clock     Clock
	logger    *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	profiles []Profile,
	router Router,
	extractor Extractor,
	artifacts ArtifactProcessor,
	clock Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	return &Orchestrator{
		profiles:  byName,
		router:    router,
		extractor: extractor,
		artifacts: artifacts,
		clock:     clock,
		logger:    logger,
	}
}

// Run executes the fallback state machine for a single task. Provider
// attempts are strictly sequential; the first attempt whose extraction
// yields a usable price terminates the task.
func (o *Orchestrator) Run(ctx context.Context, task Task) Record {
	start := o.clock.Now()
	record := Record{
		TaskID:    task.TaskID,
		URL:       task.URL,
		Status:    StatusError,
		ScrapedAt: start,
		Overrides: task.Overrides,
	}

	order := FilterBudgets(o.router.Order(task), o.profiles)
	if len(order) == 0 {
		cfgErr := &ConfigError{Reason: "no providers with a positive retry budget"}
		record.ErrorMessage = cfgErr.Error()
		record.Method = MethodNone
		record.DurationMs = o.clock.Now().Sub(start).Milliseconds()
		o.logger.Error("task has no routable providers",
			zap.String("task_id", task.TaskID),
			zap.String("url", task.URL),
		)
		return record
	}

	var lastErr string
	var lastScreenshotURL string

	for _, name := range order {
		profile := o.profiles[name]
		result, fetched := o.fetchWithBudget(ctx, task, profile, &record, &lastErr)
		if !fetched {
			continue
		}

		screenshotURL := o.processScreenshot(ctx, task, name, result, &record)
		if screenshotURL != "" {
			lastScreenshotURL = screenshotURL
		}

		fields, err := o.extractor.Extract(ctx, result.HTML, task.URL)
		if err == nil && HasPrice(fields) {
			record.Status = StatusCompleted
			record.Method = name
			record.Fields = fields
			record.ScreenshotURL = screenshotURL
			if len(record.Errors) == 0 {
				record.Errors = nil
			}
			record.DurationMs = o.clock.Now().Sub(start).Milliseconds()
			metrics.ObserveTask(task.URL, name, string(StatusCompleted), time.Duration(record.DurationMs)*time.Millisecond)
			o.logger.Info("task completed",
				zap.String("task_id", task.TaskID),
				zap.String("provider", name),
				zap.Int("attempts", len(record.Attempts)),
			)
			return record
		}

		// Extraction failure abandons this provider without re-fetching.
		msg := "could not extract price"
		if err != nil {
			msg = err.Error()
		}
		record.Errors = append(record.Errors, AttemptError{
			Provider:  "gemini",
			Operation: "extract",
			Message:   msg,
		})
		lastErr = msg
		o.logger.Warn("extraction failed, advancing provider",
			zap.String("task_id", task.TaskID),
			zap.String("provider", name),
			zap.String("error", msg),
		)
	}

	record.Status = StatusError
	record.Method = MethodNone
	record.ScreenshotURL = lastScreenshotURL
	if lastErr == "" {
		lastErr = "all providers failed"
	}
	record.ErrorMessage = lastErr
	record.DurationMs = o.clock.Now().Sub(start).Milliseconds()
	metrics.ObserveTask(task.URL, MethodNone, string(StatusError), time.Duration(record.DurationMs)*time.Millisecond)
	o.logger.Warn("task exhausted all providers",
		zap.String("task_id", task.TaskID),
		zap.String("url", task.URL),
		zap.Int("attempts", len(record.Attempts)),
	)
	return record
}

// fetchWithBudget runs up to RetryBudget sequential fetch attempts for
// one provider. It returns the fetched payload and true on success;
// retries never continue past a successful fetch.
func (o *Orchestrator) fetchWithBudget(
	ctx context.Context,
	task Task,
	profile Profile,
	record *Record,
	lastErr *string,
) (FetchResult, bool) {
	for retry := 0; retry < profile.RetryBudget; retry++ {
		if retry == 0 {
			record.Attempts = append(record.Attempts, profile.Name)
		} else {
			record.Attempts = append(record.Attempts, fmt.Sprintf("%s (retry %d)", profile.Name, retry))
		}
		metrics.ObserveAttempt(profile.Name)

		result, err := profile.Provider.Fetch(ctx, task.URL)
		if err == nil {
			o.logger.Debug("fetch succeeded",
				zap.String("task_id", task.TaskID),
				zap.String("provider", profile.Name),
				zap.Int("html_bytes", len(result.HTML)),
			)
			return result, true
		}

		record.Errors = append(record.Errors, AttemptError{
			Provider:  profile.Name,
			Operation: "fetch",
			Message:   err.Error(),
		})
		*lastErr = err.Error()
		o.logger.Warn("fetch attempt failed",
			zap.String("task_id", task.TaskID),
			zap.String("provider", profile.Name),
			zap.Int("retry", retry),
			zap.Error(err),
		)
		if !IsRetryableFetch(err) {
			break
		}
	}
	return FetchResult{}, false
}

// processScreenshot recompresses and uploads a screenshot when the
// provider produced one. Failures are logged into the record but never
// fail the task.
func (o *Orchestrator) processScreenshot(
	ctx context.Context,
	task Task,
	providerName string,
	result FetchResult,
	record *Record,
) string {
	if len(result.Screenshot) == 0 || o.artifacts == nil {
		return ""
	}
	url, err := o.artifacts.Process(ctx, task.TaskID, result.Screenshot)
	if err != nil {
		record.Errors = append(record.Errors, AttemptError{
			Provider:  providerName,
			Operation: "screenshot",
			Message:   err.Error(),
		})
		o.logger.Warn("screenshot processing failed",
			zap.String("task_id", task.TaskID),
			zap.String("provider", providerName),
			zap.Error(err),
		)
		return ""
	}
	return url
}
