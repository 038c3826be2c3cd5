package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffPolicy_DelayBounds(t *testing.T) {
	t.Parallel()

	p := DefaultBackoff()
	for attempt := 1; attempt <= 8; attempt++ {
		base := time.Duration(float64(time.Second) * float64(int64(1)<<uint(attempt-1)))
		if base > p.Max {
			base = p.Max
		}
		upper := time.Duration(float64(base) * (1 + p.JitterFraction))

		for i := 0; i < 50; i++ {
			got := p.Delay(attempt)
			require.GreaterOrEqual(t, got, base, "attempt %d", attempt)
			require.LessOrEqual(t, got, upper, "attempt %d", attempt)
		}
	}
}

func TestBackoffPolicy_CapsAtMax(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Base: time.Second, Max: 30 * time.Second}
	require.Equal(t, 30*time.Second, p.Delay(10))
	require.Equal(t, time.Second, p.Delay(0))
}
