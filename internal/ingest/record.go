// Package ingest delivers scrape telemetry to the analytics sink in
// gzip-compressed NDJSON batches.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/elberrd/pricewatch/internal/scraper"
)

// TelemetryRecord is one row bound for the analytics sink. Scraped and
// override fields are flattened to the top level of the JSON object
// alongside the fixed telemetry keys.
type TelemetryRecord struct {
	JobID  string
	Record scraper.Record
}

// FromRecords wraps terminal batch records for ingestion.
func FromRecords(jobID string, records []scraper.Record) []TelemetryRecord {
	out := make([]TelemetryRecord, len(records))
	for i, r := range records {
		out[i] = TelemetryRecord{JobID: jobID, Record: r}
	}
	return out
}

// MarshalJSON flattens the record into a single JSON object. Fixed keys
// win over field keys on collision.
func (t TelemetryRecord) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any)
	for k, v := range t.Record.FinalFields() {
		obj[k] = v
	}

	obj["jobId"] = t.JobID
	obj["urlId"] = t.Record.TaskID
	obj["productUrl"] = t.Record.URL
	obj["status"] = t.Record.Status
	obj["scrapedAt"] = t.Record.ScrapedAt.UTC().Format(time.RFC3339)
	obj["method"] = t.Record.Method
	if len(t.Record.Attempts) > 0 {
		obj["attempts"] = t.Record.Attempts
	}
	if len(t.Record.Errors) > 0 {
		obj["errors"] = t.Record.Errors
	}
	if t.Record.ErrorMessage != "" {
		obj["errorMessage"] = t.Record.ErrorMessage
	}
	if t.Record.ScreenshotURL != "" {
		obj["screenshotUrl"] = t.Record.ScreenshotURL
	}
	if t.Record.DurationMs > 0 {
		obj["durationMs"] = t.Record.DurationMs
	}
	return json.Marshal(obj)
}
