package orderblock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"perpengine/bar"
)

func makeBar(i int, open, high, low, close float64) bar.Bar {
	return bar.Bar{OpenTimeMs: int64(i), Open: open, High: high, Low: low, Close: close, Volume: 100}
}

func TestDetectBullishBOS(t *testing.T) {
	var bars []bar.Bar
	// build a range, a down candle (source), then an impulsive breakout
	for i := 0; i < 10; i++ {
		bars = append(bars, makeBar(i, 100, 101, 99, 100))
	}
	bars = append(bars, makeBar(10, 100, 100.2, 95, 96)) // down candle -> OB source
	for i := 11; i < 20; i++ {
		bars = append(bars, makeBar(i, 100, 101, 99, 100))
	}
	bars = append(bars, makeBar(20, 100, 108, 100, 107)) // impulsive breakout close

	zones := Detect(bars, 5, 3, 0.5, 300)
	var sawBull bool
	for _, z := range zones {
		if z.Side == Bull {
			sawBull = true
		}
	}
	require.True(t, sawBull, "expected at least one bullish order block")
}

func TestZoneExpiryByMaxAge(t *testing.T) {
	var bars []bar.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, makeBar(i, 100, 101, 99, 100))
	}
	bars = append(bars, makeBar(10, 100, 100.2, 95, 96))
	for i := 11; i < 20; i++ {
		bars = append(bars, makeBar(i, 100, 101, 99, 100))
	}
	bars = append(bars, makeBar(20, 100, 108, 100, 107))
	for i := 21; i < 400; i++ {
		bars = append(bars, makeBar(i, 100, 101, 99, 100))
	}

	zones := Detect(bars, 5, 3, 0.5, 50)
	require.Empty(t, zones, "zones older than max_age should be dropped")
}

func TestRetestHitsOverlap(t *testing.T) {
	z := Zone{Low: 100, High: 101}
	bars := []bar.Bar{{High: 100.5, Low: 99.9}}
	require.True(t, RetestHits(bars, z, 0, 0.001))

	bars2 := []bar.Bar{{High: 90, Low: 80}}
	require.False(t, RetestHits(bars2, z, 0, 0.001))
}
