package scraper

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes jittered exponential delays between delivery
// attempts. Pure and side-effect free so callers can unit test retry
// schedules in isolation.
type BackoffPolicy struct {
	Base           time.Duration
	Max            time.Duration
	JitterFraction float64
}

// DefaultBackoff returns the policy used by the ingestion batcher.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:           time.Second,
		Max:            30 * time.Second,
		JitterFraction: 0.3,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// min(base*2^(attempt-1), max) scaled by a random factor in
// [1, 1+jitterFraction).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	if p.JitterFraction > 0 {
		delay *= 1 + rand.Float64()*p.JitterFraction
	}
	return time.Duration(delay)
}
