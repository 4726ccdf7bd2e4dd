// Package indicator implements pure numerical functions over bar series:
// RSI, ATR, Heikin-Ashi, Bollinger-style bands, SSL Channel, Supertrend,
// EMA, and taker-flow direction. Every function is deterministic and does
// no I/O; warmup windows are filled with math.NaN().
package indicator

import (
	"math"

	"perpengine/bar"
)

// Closes extracts the close price series from bars.
func Closes(bars []bar.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// RSI computes the Wilder-style relative strength index over period n.
// The first n entries are NaN.
func RSI(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(closes) <= n || n <= 0 {
		return out
	}
	deltas := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		deltas[i] = closes[i] - closes[i-1]
	}
	for i := n; i < len(closes); i++ {
		var gainSum, lossSum float64
		for j := i - n + 1; j <= i; j++ {
			d := deltas[j]
			if d > 0 {
				gainSum += d
			} else {
				lossSum += -d
			}
		}
		gain := gainSum / float64(n)
		loss := lossSum / float64(n)
		rs := gain / (loss + 1e-12)
		out[i] = 100.0 - (100.0 / (1.0 + rs))
	}
	return out
}

// TrueRange computes per-bar True Range: max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(bars []bar.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			out[i] = b.High - b.Low
			continue
		}
		prevClose := bars[i-1].Close
		tr := b.High - b.Low
		if v := math.Abs(b.High - prevClose); v > tr {
			tr = v
		}
		if v := math.Abs(b.Low - prevClose); v > tr {
			tr = v
		}
		out[i] = tr
	}
	return out
}

// ATR is the rolling mean of True Range over period n. First n-1 entries NaN.
func ATR(bars []bar.Bar, n int) []float64 {
	tr := TrueRange(bars)
	out := rollingMean(tr, n)
	return out
}

func rollingMean(series []float64, n int) []float64 {
	out := make([]float64, len(series))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 {
		return out
	}
	var sum float64
	for i, v := range series {
		sum += v
		if i >= n {
			sum -= series[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA is the exponential moving average with span length, adjust=false
// semantics (each step: ema = prev + (2/(length+1))*(x-prev), seeded with
// the first observation).
func EMA(closes []float64, length int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	alpha := 2.0 / (float64(length) + 1.0)
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = out[i-1] + alpha*(closes[i]-out[i-1])
	}
	return out
}

// HeikinAshi holds the smoothed-candle series aligned to the input bars.
type HeikinAshi struct {
	Close   []float64
	Open    []float64
	High    []float64
	Low     []float64
	BodyDir []int // +1 bullish body, -1 bearish body, 0 doji
}

// ComputeHeikinAshi derives Heikin-Ashi candles from raw bars.
func ComputeHeikinAshi(bars []bar.Bar) HeikinAshi {
	n := len(bars)
	ha := HeikinAshi{
		Close:   make([]float64, n),
		Open:    make([]float64, n),
		High:    make([]float64, n),
		Low:     make([]float64, n),
		BodyDir: make([]int, n),
	}
	for i, b := range bars {
		ha.Close[i] = (b.Open + b.High + b.Low + b.Close) / 4.0
	}
	if n == 0 {
		return ha
	}
	ha.Open[0] = bars[0].Open
	for i := 1; i < n; i++ {
		ha.Open[i] = (ha.Open[i-1] + ha.Close[i-1]) / 2.0
	}
	for i, b := range bars {
		ha.High[i] = max3(b.High, ha.Open[i], ha.Close[i])
		ha.Low[i] = min3(b.Low, ha.Open[i], ha.Close[i])
		switch {
		case ha.Close[i] > ha.Open[i]:
			ha.BodyDir[i] = 1
		case ha.Close[i] < ha.Open[i]:
			ha.BodyDir[i] = -1
		default:
			ha.BodyDir[i] = 0
		}
	}
	return ha
}

func max3(a, b, c float64) float64 { return math.Max(a, math.Max(b, c)) }
func min3(a, b, c float64) float64 { return math.Min(a, math.Min(b, c)) }

// Bands holds the Bollinger-style band series (SMA mid, population-stddev
// based upper/lower).
type Bands struct {
	Mid   []float64
	Upper []float64
	Lower []float64
}

// ComputeBands computes SMA(close,length) +/- mult*populationStdDev(close,length).
func ComputeBands(closes []float64, length int, mult float64) Bands {
	n := len(closes)
	mid := rollingMean(closes, length)
	std := make([]float64, n)
	for i := range std {
		std[i] = math.NaN()
	}
	for i := length - 1; i < n; i++ {
		m := mid[i]
		var sq float64
		for j := i - length + 1; j <= i; j++ {
			d := closes[j] - m
			sq += d * d
		}
		std[i] = math.Sqrt(sq / float64(length))
	}
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := 0; i < n; i++ {
		upper[i] = mid[i] + mult*std[i]
		lower[i] = mid[i] - mult*std[i]
	}
	return Bands{Mid: mid, Upper: upper, Lower: lower}
}

// SSL holds the SSL Channel series.
type SSL struct {
	Up  []float64
	Dn  []float64
	Dir []int // +1 bull, -1 bear, 0 undetermined (warmup only)
}

// ComputeSSL computes the classic SSL Channel: direction flips to +1 when
// close crosses above SMA(high,length), -1 when it crosses below
// SMA(low,length), else carries the previous direction.
func ComputeSSL(bars []bar.Bar, length int) SSL {
	n := len(bars)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	smaHi := rollingMean(highs, length)
	smaLo := rollingMean(lows, length)

	dir := make([]int, n)
	prev := 0
	for i := 0; i < n; i++ {
		switch {
		case !math.IsNaN(smaHi[i]) && closes[i] > smaHi[i]:
			dir[i] = 1
		case !math.IsNaN(smaLo[i]) && closes[i] < smaLo[i]:
			dir[i] = -1
		default:
			dir[i] = prev
		}
		prev = dir[i]
	}

	up := make([]float64, n)
	dn := make([]float64, n)
	sslDir := make([]int, n)
	for i := 0; i < n; i++ {
		if dir[i] < 0 {
			up[i] = smaLo[i]
			dn[i] = smaHi[i]
		} else {
			up[i] = smaHi[i]
			dn[i] = smaLo[i]
		}
		switch {
		case up[i] > dn[i]:
			sslDir[i] = 1
		case up[i] < dn[i]:
			sslDir[i] = -1
		default:
			sslDir[i] = 0
		}
	}
	return SSL{Up: up, Dn: dn, Dir: sslDir}
}

// Supertrend holds the Supertrend trend-line and direction series.
type Supertrend struct {
	Trend []float64
	Dir   []int // +1 up, -1 down
}

// ComputeSupertrend implements the standard ATR-band algorithm with
// monotone final-band carrying and direction flips on band break.
func ComputeSupertrend(bars []bar.Bar, period int, mult float64) Supertrend {
	n := len(bars)
	tr := TrueRange(bars)
	atr := rollingMean(tr, period)

	upperband := make([]float64, n)
	lowerband := make([]float64, n)
	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)
	trend := make([]float64, n)
	dir := make([]int, n)

	for i, b := range bars {
		hl2 := (b.High + b.Low) / 2.0
		upperband[i] = hl2 + mult*atr[i]
		lowerband[i] = hl2 - mult*atr[i]
	}

	for i := 0; i < n; i++ {
		if i == 0 {
			finalUpper[i] = upperband[i]
			finalLower[i] = lowerband[i]
			dir[i] = 1
			trend[i] = math.NaN()
			continue
		}
		if bars[i-1].Close > finalUpper[i-1] {
			finalUpper[i] = math.Min(upperband[i], finalUpper[i-1])
		} else {
			finalUpper[i] = upperband[i]
		}
		if bars[i-1].Close < finalLower[i-1] {
			finalLower[i] = math.Max(lowerband[i], finalLower[i-1])
		} else {
			finalLower[i] = lowerband[i]
		}

		switch {
		case bars[i].Close > finalUpper[i-1]:
			dir[i] = 1
		case bars[i].Close < finalLower[i-1]:
			dir[i] = -1
		default:
			dir[i] = dir[i-1]
			if dir[i] > 0 && finalLower[i] < finalLower[i-1] {
				finalLower[i] = finalLower[i-1]
			}
			if dir[i] < 0 && finalUpper[i] > finalUpper[i-1] {
				finalUpper[i] = finalUpper[i-1]
			}
		}

		if dir[i] > 0 {
			trend[i] = finalLower[i]
		} else {
			trend[i] = finalUpper[i]
		}
	}
	return Supertrend{Trend: trend, Dir: dir}
}

// TakerFlowDirection aggregates the last n bars' taker-buy-fraction vs
// price-direction signal: +1 if (takerBase/volume>0.5 AND close rose),
// -1 if the mirror, 0 if mixed; the aggregate must hit +-(n-1) to report a
// non-zero direction.
func TakerFlowDirection(bars []bar.Bar, n int) int {
	if len(bars) < n+1 {
		return 0
	}
	start := len(bars) - n
	sum := 0
	for i := start; i < len(bars); i++ {
		if i < 1 {
			continue
		}
		vol := bars[i].Volume + 1e-12
		frac := bars[i].TakerBase / vol
		priceDir := sign(bars[i].Close - bars[i-1].Close)
		switch {
		case frac > 0.5 && priceDir > 0:
			sum += 1
		case frac < 0.5 && priceDir < 0:
			sum -= 1
		}
	}
	switch {
	case sum >= n-1:
		return 1
	case sum <= -(n - 1):
		return -1
	default:
		return 0
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
