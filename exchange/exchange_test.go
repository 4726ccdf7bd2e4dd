package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestQuantisePriceIsIdempotent(t *testing.T) {
	sf := SymbolFilters{
		TickSize:          decimal.NewFromFloat(0.01),
		PricePrecision:    2,
		StepSize:          decimal.NewFromFloat(0.001),
		QuantityPrecision: 3,
	}
	once := quantisePrice(sf, 123.4567)
	twiceInput, err := decimal.NewFromString(once)
	require.NoError(t, err)
	twice := quantisePrice(sf, twiceInput.InexactFloat64())
	require.Equal(t, once, twice, "format_price(format_price(x)) must equal format_price(x)")
}

func TestQuantiseQtyIsIdempotentAndNeverRoundsUp(t *testing.T) {
	sf := SymbolFilters{StepSize: decimal.NewFromFloat(0.5), QuantityPrecision: 1}
	once := quantiseQty(sf, 10.7)
	require.Equal(t, "10.5", once)

	twiceInput, err := decimal.NewFromString(once)
	require.NoError(t, err)
	twice := quantiseQty(sf, twiceInput.InexactFloat64())
	require.Equal(t, once, twice)
}

func TestClientOrderIDFormat(t *testing.T) {
	id := ClientOrderID("BTCUSDT", "SL")
	require.Contains(t, id, "BTCUSDT-SL-")
}

func TestWithRetryExhaustsAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), "test_op", RetryBudget{MaxRetry: 3, BackoffMs: 1}, func(ctx context.Context) (int, error) {
		calls++
		return 0, assertErr
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetrySucceedsOnFirstTry(t *testing.T) {
	start := time.Now()
	v, err := withRetry(context.Background(), "test_op", RetryBudget{MaxRetry: 3, BackoffMs: 400}, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

var assertErr = &staticErr{"boom"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
