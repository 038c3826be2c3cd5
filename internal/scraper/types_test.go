package scraper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriceField_ToleratesNumericForms(t *testing.T) {
	t.Parallel()

	fields := map[string]any{
		"f64":     19.9,
		"f32":     float32(5.5),
		"int":     42,
		"int64":   int64(7),
		"num":     json.Number("129.90"),
		"str":     "89.5",
		"badStr":  "R$ 10",
		"nothing": nil,
	}

	v, ok := PriceField(fields, "f64")
	require.True(t, ok)
	require.InEpsilon(t, 19.9, v, 1e-9)

	v, ok = PriceField(fields, "f32")
	require.True(t, ok)
	require.InEpsilon(t, 5.5, v, 1e-6)

	v, ok = PriceField(fields, "int")
	require.True(t, ok)
	require.Equal(t, 42.0, v)

	v, ok = PriceField(fields, "num")
	require.True(t, ok)
	require.InEpsilon(t, 129.90, v, 1e-9)

	v, ok = PriceField(fields, "str")
	require.True(t, ok)
	require.InEpsilon(t, 89.5, v, 1e-9)

	_, ok = PriceField(fields, "badStr")
	require.False(t, ok)
	_, ok = PriceField(fields, "nothing")
	require.False(t, ok)
	_, ok = PriceField(fields, "missing")
	require.False(t, ok)
}

func TestHasPrice(t *testing.T) {
	t.Parallel()

	require.True(t, HasPrice(map[string]any{"currentPrice": 10.0}))
	require.True(t, HasPrice(map[string]any{"originalPrice": "25.00"}))
	require.False(t, HasPrice(map[string]any{"productTitle": "gadget"}))
	require.False(t, HasPrice(nil))
}
