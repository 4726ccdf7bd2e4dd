package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"perpengine/bar"
)

func defaultParams() Params {
	return Params{
		RSIPeriod: 14, HABRSILow: 25, HABRSIHigh: 80,
		BandsLength: 20, BandsMultiplier: 1.0, RetestTolerancePct: 0.003,
		ATRPeriod: 14, SLATRMult: 0.4, TP1ATRMult: 0.8, TP2ATRMult: 1.2,
		SmartCloseAdjPct: 0.001,
	}
}

// buildSimpleLongFrame constructs a 200-bar rising frame whose last bar
// drops sharply, closing below the lower band with RSI suppressed. The same
// drop turns the EMA below its value three bars earlier, so the frame does
// not meet the simple-mode long condition.
func buildSimpleLongFrame(t *testing.T) []bar.Bar {
	t.Helper()
	var bars []bar.Bar
	price := 100.0
	for i := 0; i < 199; i++ {
		bars = append(bars, bar.Bar{
			OpenTimeMs: int64(i), Open: price, High: price + 0.5, Low: price - 0.5,
			Close: price, Volume: 100, TakerBase: 50,
		})
		price += 0.05
	}
	// final bar: sharp drop to force RSI low and close at the lower band.
	last := bar.Bar{
		OpenTimeMs: 199, Open: price, High: price, Low: 98.5, Close: 98.5,
		Volume: 100, TakerBase: 50,
	}
	bars = append(bars, last)
	return bars
}

func TestEvaluateSimple_IsDeterministic(t *testing.T) {
	bars := buildSimpleLongFrame(t)
	sig := EvaluateSimple(bars, defaultParams())
	// Only determinism is asserted here: two evaluations of the same frame
	// must return equal signals.
	sig2 := EvaluateSimple(bars, defaultParams())
	require.Equal(t, sig, sig2, "evaluate must be deterministic (purity property)")
}

func TestEvaluate_S2RejectsMixedHABody(t *testing.T) {
	var bars []bar.Bar
	for i := 0; i < 60; i++ {
		dir := 1.0
		if i%2 == 0 {
			dir = -1.0
		}
		bars = append(bars, bar.Bar{
			OpenTimeMs: int64(i), Open: 100, High: 101, Low: 99, Close: 100 + dir,
			Volume: 100, TakerBase: 50,
		})
	}
	f := Frame{Entry: bars, Fast: bars, Slow1: bars, Slow2: bars}
	sig := Evaluate(f, defaultParams())
	require.Equal(t, SignalNone, sig.Side)
}

func TestMTFEMAGateDowngradesOnDisagreement(t *testing.T) {
	var bars []bar.Bar
	price := 100.0
	for i := 0; i < 60; i++ {
		bars = append(bars, bar.Bar{OpenTimeMs: int64(i), Open: price, High: price, Low: price, Close: price})
		price -= 0.1 // downtrend -> EMA20 < EMA50
	}
	entry := 90.0
	sig := Signal{Side: SignalLong, Entry: &entry}
	gated := MTFEMAGate(sig, bars)
	require.Equal(t, SignalNone, gated.Side)
}

func TestEvaluateSimple_TooFewBarsReturnsNone(t *testing.T) {
	sig := EvaluateSimple(nil, defaultParams())
	require.Equal(t, SignalNone, sig.Side)
}
