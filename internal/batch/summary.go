package batch

import "github.com/elberrd/pricewatch/internal/scraper"

// Summary aggregates batch outcomes for logging, webhooks, and the job
// snapshot.
type Summary struct {
	Total           int            `json:"total"`
	Successful      int            `json:"successful"`
	Failed          int            `json:"failed"`
	WithScreenshots int            `json:"withScreenshots"`
	ByMethod        map[string]int `json:"byMethod"`
}

// Summarize tallies terminal records into a Summary.
func Summarize(records []scraper.Record) Summary {
	s := Summary{
		Total:    len(records),
		ByMethod: make(map[string]int),
	}
	for _, r := range records {
		if r.Status == scraper.StatusCompleted {
			s.Successful++
		} else {
			s.Failed++
		}
		if r.ScreenshotURL != "" {
			s.WithScreenshots++
		}
		if r.Method != "" && r.Method != scraper.MethodNone {
			s.ByMethod[r.Method]++
		}
	}
	return s
}
