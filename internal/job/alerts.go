package job

import (
	"github.com/elberrd/pricewatch/internal/scraper"
)

// Alert type values emitted when a scraped price crosses a task's
// configured band.
const (
	AlertMinBreach = "min_breach"
	AlertMaxBreach = "max_breach"
)

// PriceAlert flags one task whose scraped price breached its limit.
// The field names are part of the webhook contract.
type PriceAlert struct {
	TaskID           string  `json:"urlId"`
	URL              string  `json:"productUrl"`
	Type             string  `json:"type"`
	CurrentPrice     float64 `json:"currentPrice"`
	PriceLimit       float64 `json:"priceLimit"`
	BreachAmount     float64 `json:"breachAmount"`
	BreachPercentage float64 `json:"breachPercentage"`
}

// ComputeAlerts scans completed records for price band breaches. A task
// participates when its overrides carry minPrice or maxPrice and do not
// explicitly disable alerts.
func ComputeAlerts(records []scraper.Record) []PriceAlert {
	var alerts []PriceAlert
	for _, r := range records {
		if r.Status != scraper.StatusCompleted {
			continue
		}
		if !alertsEnabled(r.Overrides) {
			continue
		}
		price, ok := scraper.PriceField(r.FinalFields(), "currentPrice")
		if !ok {
			continue
		}

		if min, ok := scraper.PriceField(r.Overrides, "minPrice"); ok && price < min {
			amount := min - price
			alerts = append(alerts, PriceAlert{
				TaskID:           r.TaskID,
				URL:              r.URL,
				Type:             AlertMinBreach,
				CurrentPrice:     price,
				PriceLimit:       min,
				BreachAmount:     amount,
				BreachPercentage: amount / min * 100,
			})
		}
		if max, ok := scraper.PriceField(r.Overrides, "maxPrice"); ok && price > max {
			amount := price - max
			alerts = append(alerts, PriceAlert{
				TaskID:           r.TaskID,
				URL:              r.URL,
				Type:             AlertMaxBreach,
				CurrentPrice:     price,
				PriceLimit:       max,
				BreachAmount:     amount,
				BreachPercentage: amount / max * 100,
			})
		}
	}
	return alerts
}

func alertsEnabled(overrides map[string]any) bool {
	v, ok := overrides["alertsEnabled"]
	if !ok {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != "false"
	default:
		return true
	}
}
