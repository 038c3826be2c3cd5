// Package scraper defines core types shared across subsystems.
package scraper

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status represents the terminal outcome of a scrape task.
type Status string

// Task status values written to the result record.
const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// MethodNone marks a record whose providers were all exhausted.
const MethodNone = "none"

// Canonical provider names used in routing and attempt logs.
const (
	ProviderFirecrawl = "firecrawl"
	ProviderUnlocker  = "unlocker"
	ProviderHeadless  = "headless"
)

// Task is one unit of scrape work. Immutable once scheduled.
type Task struct {
	TaskID            string         `json:"taskId"`
	URL               string         `json:"url"`
	PreferredProvider string         `json:"preferredProvider,omitempty"`
	Overrides         map[string]any `json:"overrides,omitempty"`
}

// Profile binds a provider to its per-task retry budget. A budget of
// zero removes the provider from routing entirely.
type Profile struct {
	Name        string
	RetryBudget int
	Provider    Provider
}

// FetchResult is the payload returned by a provider attempt.
type FetchResult struct {
	HTML       string
	Screenshot []byte
}

// AttemptError captures one failed operation during a task's lifetime.
type AttemptError struct {
	Provider  string `json:"provider"`
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

// Record accumulates the outcome of a single task. Append-only while the
// task runs; finalized exactly once by the orchestrator.
type Record struct {
	TaskID        string         `json:"taskId"`
	URL           string         `json:"url"`
	Status        Status         `json:"status"`
	Fields        map[string]any `json:"fields,omitempty"`
	ScreenshotURL string         `json:"screenshotUrl,omitempty"`
	Method        string         `json:"method,omitempty"`
	Attempts      []string       `json:"attempts,omitempty"`
	Errors        []AttemptError `json:"errors,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	ScrapedAt     time.Time      `json:"scrapedAt"`
	DurationMs    int64          `json:"durationMs"`
	Overrides     map[string]any `json:"-"`
}

// FinalFields merges scraped fields with the task's override fields.
// Overrides always win on key collision.
func (r Record) FinalFields() map[string]any {
	merged := make(map[string]any, len(r.Fields)+len(r.Overrides))
	for k, v := range r.Fields {
		merged[k] = v
	}
	for k, v := range r.Overrides {
		merged[k] = v
	}
	return merged
}

// PriceField reads a numeric field from a schema-tolerant field map.
// Upstream extraction may hand back float64, int, json.Number, or a
// numeric string depending on the source document.
func PriceField(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// HasPrice reports whether the extracted fields carry a usable price,
// which is the success criterion for a scrape attempt.
func HasPrice(fields map[string]any) bool {
	if _, ok := PriceField(fields, "currentPrice"); ok {
		return true
	}
	_, ok := PriceField(fields, "originalPrice")
	return ok
}
