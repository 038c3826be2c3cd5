// Package batch schedules concurrent scrape tasks and aggregates their
// results into a batch summary.
package batch

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/scraper"
)

// Normalize converts loosely shaped request items into Tasks. Items
// missing a URL or an id are dropped with a warning. Unrecognized keys
// are preserved as overrides so they survive into the final record.
func Normalize(items []map[string]any, logger *zap.Logger) []scraper.Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	tasks := make([]scraper.Task, 0, len(items))
	for i, item := range items {
		url := firstString(item, "url", "productUrl", "product_url")
		if url == "" {
			logger.Warn("dropping batch item without a URL", zap.Int("index", i))
			continue
		}
		taskID := firstString(item, "urlId", "url_id", "taskId", "task_id", "id")
		if taskID == "" {
			logger.Warn("dropping batch item without an id",
				zap.Int("index", i),
				zap.String("url", url),
			)
			continue
		}

		task := scraper.Task{
			TaskID:            taskID,
			URL:               url,
			PreferredProvider: firstString(item, "method", "provider", "preferredProvider"),
		}

		overrides := make(map[string]any)
		for k, v := range item {
			if consumedKey(k) {
				continue
			}
			overrides[k] = v
		}
		if len(overrides) > 0 {
			task.Overrides = overrides
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func consumedKey(k string) bool {
	switch k {
	case "url", "productUrl", "product_url",
		"urlId", "url_id", "taskId", "task_id", "id",
		"method", "provider", "preferredProvider":
		return true
	}
	return false
}

func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := item[k]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case fmt.Stringer:
			if str := s.String(); str != "" {
				return str
			}
		}
	}
	return ""
}
