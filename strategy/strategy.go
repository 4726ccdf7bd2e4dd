// Package strategy evaluates bar frames into a tri-valued trading signal:
// EvaluateSimple runs a single-timeframe EMA/ATR-band check; Evaluate runs
// the four-timeframe, eight-gate confirmation stack. Both are pure and
// deterministic over their input frames.
package strategy

import (
	"math"

	"perpengine/bar"
	"perpengine/indicator"
	"perpengine/indicator/orderblock"
)

// Side tags a Signal's direction. The zero value SignalNone carries no
// price fields, which is this codebase's rendition of a tagged union in
// the absence of a sum-type language feature.
type Side int

const (
	SignalNone Side = iota
	SignalLong
	SignalShort
)

// Signal is the strategy evaluator's output. Entry/SL/TP1/TP2 are nil
// unless Side is SignalLong or SignalShort.
type Signal struct {
	Side  Side
	Entry *float64
	SL    *float64
	TP1   *float64
	TP2   *float64
}

func none() Signal { return Signal{Side: SignalNone} }

func ptr(v float64) *float64 { return &v }

// Params is an immutable snapshot of the strategy's tunables, built once
// from config.Config at startup.
type Params struct {
	RSIPeriod          int
	HABRSILow          float64
	HABRSIHigh         float64
	BandsLength        int
	BandsMultiplier    float64
	RetestTolerancePct float64
	ATRPeriod          int
	SLATRMult          float64
	TP1ATRMult         float64
	TP2ATRMult         float64
	SmartCloseAdjPct   float64

	OBEnabled    bool
	OBLookback   int
	OBImpulseATR float64
	OBRetestTol  float64
}

const obSwingLookback = 3

// EvaluateSimple implements the single-timeframe EMA+/-ATR band check.
func EvaluateSimple(bars []bar.Bar, p Params) Signal {
	minLen := p.BandsLength + 10
	if minLen < 50 {
		minLen = 50
	}
	if len(bars) < minLen {
		return none()
	}

	length := p.BandsLength
	if length < 10 {
		length = 10
	}
	if length > 200 {
		length = 200
	}

	closes := indicator.Closes(bars)
	ema := indicator.EMA(closes, length)
	atr := indicator.ATR(bars, p.ATRPeriod)
	rsi := indicator.RSI(closes, p.RSIPeriod)

	i := len(bars) - 1
	if i < 3 || math.IsNaN(atr[i]) || math.IsNaN(rsi[i]) {
		return none()
	}
	price := closes[i]
	atrVal := atr[i]
	upper := ema[i] + p.BandsMultiplier*atrVal
	lower := ema[i] - p.BandsMultiplier*atrVal
	emaSlopeUp := ema[i] > ema[i-3]
	emaSlopeDn := ema[i] < ema[i-3]
	rsiVal := rsi[i]

	if price <= lower && rsiVal <= p.HABRSILow && emaSlopeUp {
		if p.OBEnabled && !obConfirms(bars, p, orderblock.Bull) {
			return none()
		}
		entry := price
		sl := entry - p.SLATRMult*atrVal
		tp1 := entry + p.TP1ATRMult*atrVal
		tp2 := entry + p.TP2ATRMult*atrVal
		return Signal{Side: SignalLong, Entry: ptr(entry), SL: ptr(sl), TP1: ptr(tp1), TP2: ptr(tp2)}
	}

	if price >= upper && rsiVal >= p.HABRSIHigh && emaSlopeDn {
		if p.OBEnabled && !obConfirms(bars, p, orderblock.Bear) {
			return none()
		}
		entry := price
		sl := entry + p.SLATRMult*atrVal
		tp1 := entry - p.TP1ATRMult*atrVal
		tp2 := entry - p.TP2ATRMult*atrVal
		return Signal{Side: SignalShort, Entry: ptr(entry), SL: ptr(sl), TP1: ptr(tp1), TP2: ptr(tp2)}
	}

	return none()
}

func obConfirms(bars []bar.Bar, p Params, side orderblock.Side) bool {
	look := bars
	if len(look) > p.OBLookback {
		look = look[len(look)-p.OBLookback:]
	}
	zones := orderblock.Detect(look, p.ATRPeriod, obSwingLookback, p.OBImpulseATR, p.OBLookback)
	i := len(look) - 1
	for _, z := range zones {
		if z.Side == side && orderblock.RetestHits(look, z, i, p.OBRetestTol) {
			return true
		}
	}
	return false
}

// Frame bundles the four timeframes Evaluate needs.
type Frame struct {
	Entry []bar.Bar // 1m
	Fast  []bar.Bar // 5m
	Slow1 []bar.Bar // 15m
	Slow2 []bar.Bar // 1h
}

// Evaluate implements the four-timeframe, eight-gate advanced strategy.
func Evaluate(f Frame, p Params) Signal {
	bars := f.Entry
	if len(bars) < 50 {
		return none()
	}
	i := len(bars) - 1
	if i < 2 {
		return none()
	}

	closes := indicator.Closes(bars)
	ha := indicator.ComputeHeikinAshi(bars)
	rsi := indicator.RSI(closes, p.RSIPeriod)
	atr := indicator.ATR(bars, p.ATRPeriod)
	bands := indicator.ComputeBands(closes, p.BandsLength, p.BandsMultiplier)
	ssl := indicator.ComputeSSL(bars, 10)
	st := indicator.ComputeSupertrend(bars, 10, 3.0)

	if math.IsNaN(atr[i]) || math.IsNaN(rsi[i]) || math.IsNaN(bands.Lower[i]) {
		return none()
	}

	// Gate 1: last three HA bodies all same direction.
	bodySum := ha.BodyDir[i] + ha.BodyDir[i-1] + ha.BodyDir[i-2]
	if bodySum != 3 && bodySum != -3 {
		return none()
	}

	// Gate 2: taker flow.
	flowDir := indicator.TakerFlowDirection(bars, 3)

	touchedLower := bars[i].Low <= bands.Lower[i]
	touchedUpper := bars[i].High >= bands.Upper[i]
	retestLowerOK := retestOK(bars[i].Close, bands.Lower[i], p.RetestTolerancePct)
	retestUpperOK := retestOK(bars[i].Close, bands.Upper[i], p.RetestTolerancePct)

	rsiVal := rsi[i]

	mtfUp, mtfDn := mtfRSIMonotone(f.Fast, f.Slow1, f.Slow2, p.RSIPeriod)

	sslDir := ssl.Dir[i]
	stDir := st.Dir[i]

	atrVal := atr[i]
	price := bars[i].Close

	if bodySum == 3 && flowDir >= 0 && touchedLower && retestLowerOK &&
		rsiVal <= p.HABRSILow && mtfUp && sslDir > 0 && stDir > 0 &&
		(!p.OBEnabled || obConfirms(bars, p, orderblock.Bull)) {
		entry := price
		sl := math.Max(price-p.SLATRMult*atrVal, bars[i].Low)
		tp1 := price + p.TP1ATRMult*atrVal
		tp2 := price + p.TP2ATRMult*atrVal
		return Signal{Side: SignalLong, Entry: ptr(entry), SL: ptr(sl), TP1: ptr(tp1), TP2: ptr(tp2)}
	}

	if bodySum == -3 && flowDir <= 0 && touchedUpper && retestUpperOK &&
		rsiVal >= p.HABRSIHigh && mtfDn && sslDir < 0 && stDir < 0 &&
		(!p.OBEnabled || obConfirms(bars, p, orderblock.Bear)) {
		entry := price
		sl := math.Min(price+p.SLATRMult*atrVal, bars[i].High)
		tp1 := price - p.TP1ATRMult*atrVal
		tp2 := price - p.TP2ATRMult*atrVal
		return Signal{Side: SignalShort, Entry: ptr(entry), SL: ptr(sl), TP1: ptr(tp1), TP2: ptr(tp2)}
	}

	return none()
}

func retestOK(price, band, tolPct float64) bool {
	if band == 0 {
		return false
	}
	denom := math.Max(band, 1e-9)
	return math.Abs(price-band)/denom <= tolPct
}

// mtfRSIMonotone reports whether RSI on each of the three higher
// timeframes is non-decreasing (mtfUp) or non-increasing (mtfDn) over the
// last-vs-3-bars-back comparison.
func mtfRSIMonotone(fast, slow1, slow2 []bar.Bar, period int) (up, dn bool) {
	check := func(bars []bar.Bar) (bool, bool, bool) {
		if len(bars) < 4 {
			return false, false, false
		}
		rsi := indicator.RSI(indicator.Closes(bars), period)
		last := len(rsi) - 1
		if math.IsNaN(rsi[last]) || math.IsNaN(rsi[last-3]) {
			return false, false, false
		}
		return true, rsi[last] >= rsi[last-3], rsi[last] <= rsi[last-3]
	}
	okF, upF, dnF := check(fast)
	okS1, upS1, dnS1 := check(slow1)
	okS2, upS2, dnS2 := check(slow2)
	if !okF || !okS1 || !okS2 {
		return false, false
	}
	return upF && upS1 && upS2, dnF && dnS1 && dnS2
}

// MTFEMAGate implements the optional post-signal filter: on the fast
// timeframe, require EMA20>EMA50 for a long signal, EMA20<EMA50 for short.
// A signal that fails the gate is downgraded to SignalNone.
func MTFEMAGate(sig Signal, fastBars []bar.Bar) Signal {
	if sig.Side == SignalNone || len(fastBars) < 50 {
		return sig
	}
	closes := indicator.Closes(fastBars)
	ema20 := indicator.EMA(closes, 20)
	ema50 := indicator.EMA(closes, 50)
	i := len(closes) - 1
	switch sig.Side {
	case SignalLong:
		if !(ema20[i] > ema50[i]) {
			return none()
		}
	case SignalShort:
		if !(ema20[i] < ema50[i]) {
			return none()
		}
	}
	return sig
}
