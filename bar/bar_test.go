package bar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheUpsertReplacesDuplicateOpenTime(t *testing.T) {
	c := NewCache()
	c.Upsert("BTCUSDT", "1m", Bar{OpenTimeMs: 1000, Close: 10})
	c.Upsert("BTCUSDT", "1m", Bar{OpenTimeMs: 1000, Close: 11})

	require.Equal(t, 1, c.Len("BTCUSDT", "1m"))
	require.Equal(t, 11.0, c.Bars("BTCUSDT", "1m")[0].Close)
}

func TestCacheBoundAndTrim(t *testing.T) {
	c := NewCache()
	for i := 0; i < maxBars; i++ {
		c.Upsert("ETHUSDT", "1m", Bar{OpenTimeMs: int64(i), Close: float64(i)})
	}
	require.LessOrEqual(t, c.Len("ETHUSDT", "1m"), maxBars)

	// one more push past the bound triggers the trim to exactly trimToLen
	c.Upsert("ETHUSDT", "1m", Bar{OpenTimeMs: int64(maxBars + 100), Close: 1})
	require.Equal(t, trimToLen, c.Len("ETHUSDT", "1m"))
}

func TestFromKline(t *testing.T) {
	raw := []any{
		float64(1620000000000), "100.5", "101.2", "99.8", "100.9", "1234.5",
		float64(1620000059999), "123456.7", float64(42), "600.1", "60123.4", "0",
	}
	b, err := FromKline(raw)
	require.NoError(t, err)
	require.Equal(t, int64(1620000000000), b.OpenTimeMs)
	require.Equal(t, 100.5, b.Open)
	require.Equal(t, int64(42), b.Trades)
}

func TestFromKlineRejectsShortPayload(t *testing.T) {
	_, err := FromKline([]any{float64(1)})
	require.Error(t, err)
}
