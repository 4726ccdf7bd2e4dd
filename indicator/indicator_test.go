package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"perpengine/bar"
)

func synthBars(closes []float64) []bar.Bar {
	bars := make([]bar.Bar, len(closes))
	for i, c := range closes {
		bars[i] = bar.Bar{
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: 100, TakerBase: 60, OpenTimeMs: int64(i),
		}
	}
	return bars
}

func TestRSIWarmupIsNaN(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	r := RSI(closes, 14)
	for i := 0; i < 14; i++ {
		require.True(t, math.IsNaN(r[i]))
	}
	require.False(t, math.IsNaN(r[14]))
	// strictly rising closes -> RSI should be pinned near 100
	require.InDelta(t, 100.0, r[len(r)-1], 1.0)
}

func TestATRConstantRangeBars(t *testing.T) {
	bars := synthBars([]float64{100, 101, 102, 103, 104, 105})
	a := ATR(bars, 3)
	require.True(t, math.IsNaN(a[0]))
	require.False(t, math.IsNaN(a[2]))
}

func TestHeikinAshiBodyDirSign(t *testing.T) {
	bars := synthBars([]float64{100, 101, 102, 103})
	ha := ComputeHeikinAshi(bars)
	for _, d := range ha.BodyDir[1:] {
		require.Equal(t, 1, d)
	}
}

func TestSupertrendDirectionIsPlusOrMinusOne(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.3
	}
	bars := synthBars(closes)
	st := ComputeSupertrend(bars, 10, 3.0)
	for _, d := range st.Dir {
		require.Contains(t, []int{1, -1}, d)
	}
}

func TestTakerFlowDirectionAggregate(t *testing.T) {
	closes := []float64{100, 101, 102, 103}
	bars := synthBars(closes) // all rising, taker_base/volume=0.6>0.5
	require.Equal(t, 1, TakerFlowDirection(bars, 3))
}

func TestBandsSymmetricAroundMid(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	b := ComputeBands(closes, 20, 2.0)
	i := len(closes) - 1
	require.InDelta(t, 100.0, b.Mid[i], 1e-9)
	require.InDelta(t, 100.0, b.Upper[i], 1e-9)
	require.InDelta(t, 100.0, b.Lower[i], 1e-9)
}
