// Package exchange is the typed wrapper around the exchange's raw
// REST/WebSocket SDK (github.com/adshao/go-binance/v2/futures): retry with
// exponential backoff, client-order-id construction, symbol filter
// caching, and decimal price/quantity quantisation. The underlying SDK
// itself is the out-of-scope collaborator; everything in this file is the
// in-scope adapter around it.
package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"perpengine/logx"
	"perpengine/metrics"
)

// RetryBudget bounds a retried operation.
type RetryBudget struct {
	MaxRetry  int
	BackoffMs int
}

// Adapter wraps a futures.Client with the engine's retry, quantisation,
// and symbol-universe conveniences.
type Adapter struct {
	client *futures.Client
	log    *logx.Logger

	mu      sync.RWMutex
	filters map[string]SymbolFilters
}

// SymbolFilters holds the quantisation rules for one symbol.
type SymbolFilters struct {
	TickSize         decimal.Decimal
	StepSize         decimal.Decimal
	QuantityPrecision int32
	PricePrecision    int32
	MinNotional       decimal.Decimal
}

// New builds an Adapter around a fresh futures REST/WS client.
func New(apiKey, apiSecret string) *Adapter {
	return &Adapter{
		client:  futures.NewClient(apiKey, apiSecret),
		log:     logx.New("exchange"),
		filters: make(map[string]SymbolFilters),
	}
}

// withRetry runs fn up to budget.MaxRetry times with exponential backoff
// (factor 1.5). Matches the original's _retry exactly: it sleeps after
// every failed attempt, including the last, before surfacing the error.
// op names the call for the exchange_call_duration_seconds/retries_total
// metrics.
func withRetry[T any](ctx context.Context, op string, budget RetryBudget, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	max := budget.MaxRetry
	if max <= 0 {
		max = 1
	}
	start := time.Now()
	for i := 0; i < max; i++ {
		v, err := fn(ctx)
		if err == nil {
			metrics.RecordExchangeCall(op, time.Since(start).Seconds(), i)
			return v, nil
		}
		lastErr = err
		delay := time.Duration(float64(budget.BackoffMs)*1000*pow15(i)) * time.Microsecond
		select {
		case <-ctx.Done():
			metrics.RecordExchangeCall(op, time.Since(start).Seconds(), i)
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	metrics.RecordExchangeCall(op, time.Since(start).Seconds(), max-1)
	return zero, lastErr
}

func pow15(i int) float64 {
	v := 1.0
	for n := 0; n < i; n++ {
		v *= 1.5
	}
	return v
}

// ClientOrderID builds the idempotency key {symbol}-{tag}-{unix_millis}.
// Tags used across the engine: MKT, SL, TP1, TP2, SLBE, SLTR, FLAT, MAKER.
func ClientOrderID(symbol, tag string) string {
	return fmt.Sprintf("%s-%s-%d", symbol, tag, time.Now().UnixMilli())
}

// LoadSymbolFilters fetches and caches quantisation rules for symbol,
// invalidated by the orchestrator's symbol-refresh loop calling
// InvalidateFilters.
func (a *Adapter) LoadSymbolFilters(ctx context.Context, symbol string, budget RetryBudget) (SymbolFilters, error) {
	a.mu.RLock()
	f, ok := a.filters[symbol]
	a.mu.RUnlock()
	if ok {
		return f, nil
	}

	info, err := withRetry(ctx, "load_exchange_info", budget, func(ctx context.Context) (*futures.ExchangeInfo, error) {
		return a.client.NewExchangeInfoService().Do(ctx)
	})
	if err != nil {
		return SymbolFilters{}, fmt.Errorf("exchange: load exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		sf := SymbolFilters{QuantityPrecision: int32(s.QuantityPrecision), PricePrecision: int32(s.PricePrecision)}
		for _, filt := range s.Filters {
			switch filt["filterType"] {
			case "PRICE_FILTER":
				sf.TickSize = decimalOrZero(filt["tickSize"])
			case "LOT_SIZE":
				sf.StepSize = decimalOrZero(filt["stepSize"])
			case "MIN_NOTIONAL":
				sf.MinNotional = decimalOrZero(filt["notional"])
			}
		}
		a.mu.Lock()
		a.filters[symbol] = sf
		a.mu.Unlock()
		return sf, nil
	}
	return SymbolFilters{}, fmt.Errorf("exchange: symbol %s not found in exchange info", symbol)
}

func decimalOrZero(v any) decimal.Decimal {
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// InvalidateFilters drops the cached filter set for symbol.
func (a *Adapter) InvalidateFilters(symbol string) {
	a.mu.Lock()
	delete(a.filters, symbol)
	a.mu.Unlock()
}

// quantisePrice snaps price to sf's tick size and fixes decimal precision.
// Pure function, split out of FormatPrice for unit testing without network
// access.
func quantisePrice(sf SymbolFilters, price float64) string {
	p := decimal.NewFromFloat(price)
	if sf.TickSize.IsPositive() {
		p = p.DivRound(sf.TickSize, 0).Mul(sf.TickSize)
	}
	return p.StringFixed(sf.PricePrecision)
}

// quantiseQty snaps qty down to sf's step size and fixes decimal precision.
func quantiseQty(sf SymbolFilters, qty float64) string {
	q := decimal.NewFromFloat(qty)
	if sf.StepSize.IsPositive() {
		q = q.Div(sf.StepSize).Floor().Mul(sf.StepSize)
	}
	return q.StringFixed(sf.QuantityPrecision)
}

// FormatPrice snaps price to the symbol's tick size and fixes decimal
// precision.
func (a *Adapter) FormatPrice(ctx context.Context, symbol string, price float64, budget RetryBudget) (string, error) {
	sf, err := a.LoadSymbolFilters(ctx, symbol, budget)
	if err != nil {
		return "", err
	}
	return quantisePrice(sf, price), nil
}

// FormatQty snaps quantity to the symbol's step size and fixes decimal
// precision.
func (a *Adapter) FormatQty(ctx context.Context, symbol string, qty float64, budget RetryBudget) (string, error) {
	sf, err := a.LoadSymbolFilters(ctx, symbol, budget)
	if err != nil {
		return "", err
	}
	return quantiseQty(sf, qty), nil
}

// MinNotionalOK reports whether price*qty satisfies the symbol's minimum
// notional (true if the filter is unknown/zero).
func (a *Adapter) MinNotionalOK(ctx context.Context, symbol string, price, qty float64, budget RetryBudget) (bool, error) {
	sf, err := a.LoadSymbolFilters(ctx, symbol, budget)
	if err != nil {
		return false, err
	}
	if !sf.MinNotional.IsPositive() {
		return true, nil
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty))
	return notional.GreaterThanOrEqual(sf.MinNotional), nil
}

// SetLeverage is best-effort; failures are logged, never surfaced.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) {
	_, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		a.log.Warnf("set leverage %s -> %d failed: %v", symbol, leverage, err)
	}
}

// PlaceMarketOrder submits a MARKET order with the given idempotency id.
func (a *Adapter) PlaceMarketOrder(ctx context.Context, symbol string, side futures.SideType, qty string, reduceOnly bool, clientID string, budget RetryBudget) (*futures.CreateOrderResponse, error) {
	return withRetry(ctx, "place_market_order", budget, func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		svc := a.client.NewCreateOrderService().
			Symbol(symbol).Side(side).Type(futures.OrderTypeMarket).
			Quantity(qty).NewClientOrderID(clientID)
		if reduceOnly {
			svc = svc.ReduceOnly(true)
		}
		return svc.Do(ctx)
	})
}

// PlaceStopMarket submits a STOP_MARKET order, closePosition=true,
// workingType=CONTRACT_PRICE. The reduceOnly flag is not sent;
// closePosition=true closes the whole position when triggered.
func (a *Adapter) PlaceStopMarket(ctx context.Context, symbol string, side futures.SideType, stopPrice, clientID string, budget RetryBudget) (*futures.CreateOrderResponse, error) {
	return withRetry(ctx, "place_stop_market", budget, func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		return a.client.NewCreateOrderService().
			Symbol(symbol).Side(side).Type(futures.OrderTypeStopMarket).
			StopPrice(stopPrice).ClosePosition(true).
			WorkingType(futures.WorkingTypeContractPrice).
			NewClientOrderID(clientID).
			Do(ctx)
	})
}

// PlaceTakeProfitMarket submits a TAKE_PROFIT_MARKET order, reduceOnly=true.
func (a *Adapter) PlaceTakeProfitMarket(ctx context.Context, symbol string, side futures.SideType, stopPrice, qty, clientID string, budget RetryBudget) (*futures.CreateOrderResponse, error) {
	return withRetry(ctx, "place_take_profit_market", budget, func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		return a.client.NewCreateOrderService().
			Symbol(symbol).Side(side).Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(stopPrice).Quantity(qty).ReduceOnly(true).
			WorkingType(futures.WorkingTypeContractPrice).
			NewClientOrderID(clientID).
			Do(ctx)
	})
}

// PlacePostOnlyLimit submits a post-only (GTX) limit order used for the
// maker-entry attempt.
func (a *Adapter) PlacePostOnlyLimit(ctx context.Context, symbol string, side futures.SideType, price, qty, clientID string, budget RetryBudget) (*futures.CreateOrderResponse, error) {
	return withRetry(ctx, "place_post_only_limit", budget, func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		return a.client.NewCreateOrderService().
			Symbol(symbol).Side(side).Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTX).
			Price(price).Quantity(qty).
			NewClientOrderID(clientID).
			Do(ctx)
	})
}

// CancelOrder cancels a single order by id.
func (a *Adapter) CancelOrder(ctx context.Context, symbol string, orderID int64, budget RetryBudget) error {
	_, err := withRetry(ctx, "cancel_order", budget, func(ctx context.Context) (*futures.CancelOrderResponse, error) {
		return a.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	})
	return err
}

// CancelOpenOrders cancels every open order for symbol.
func (a *Adapter) CancelOpenOrders(ctx context.Context, symbol string, budget RetryBudget) error {
	_, err := withRetry(ctx, "cancel_open_orders", budget, func(ctx context.Context) (struct{}, error) {
		err := a.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
		return struct{}{}, err
	})
	return err
}

// OpenOrders lists open orders for symbol.
func (a *Adapter) OpenOrders(ctx context.Context, symbol string, budget RetryBudget) ([]*futures.Order, error) {
	return withRetry(ctx, "open_orders", budget, func(ctx context.Context) ([]*futures.Order, error) {
		return a.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	})
}

// PositionRisk reports the current position for symbol, or every open
// position across the account when symbol is empty.
func (a *Adapter) PositionRisk(ctx context.Context, symbol string, budget RetryBudget) ([]*futures.PositionRisk, error) {
	return withRetry(ctx, "position_risk", budget, func(ctx context.Context) ([]*futures.PositionRisk, error) {
		svc := a.client.NewGetPositionRiskService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		return svc.Do(ctx)
	})
}

// IncomeHistory reports realised income entries for the account.
func (a *Adapter) IncomeHistory(ctx context.Context, startMs, endMs int64, budget RetryBudget) ([]*futures.IncomeHistory, error) {
	return withRetry(ctx, "income_history", budget, func(ctx context.Context) ([]*futures.IncomeHistory, error) {
		svc := a.client.NewGetIncomeHistoryService()
		if startMs > 0 {
			svc = svc.StartTime(startMs)
		}
		if endMs > 0 {
			svc = svc.EndTime(endMs)
		}
		return svc.Do(ctx)
	})
}

// Klines fetches up to limit raw klines for (symbol, interval).
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int, budget RetryBudget) ([]*futures.Kline, error) {
	return withRetry(ctx, "klines", budget, func(ctx context.Context) ([]*futures.Kline, error) {
		return a.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	})
}

// KlinesRange iterates klines in chunks of limit, advancing by the last
// close time + 1ms and sleeping 100ms between pages to stay within rate
// limits.
func (a *Adapter) KlinesRange(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int, budget RetryBudget) ([]*futures.Kline, error) {
	var out []*futures.Kline
	start := startMs
	for {
		batch, err := withRetry(ctx, "klines_range", budget, func(ctx context.Context) ([]*futures.Kline, error) {
			return a.client.NewKlinesService().Symbol(symbol).Interval(interval).
				StartTime(start).EndTime(endMs).Limit(limit).Do(ctx)
		})
		if err != nil {
			return out, err
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
		lastClose := batch[len(batch)-1].CloseTime
		if lastClose >= endMs {
			break
		}
		start = lastClose + 1
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return out, nil
}

// ticker24h is the subset of the 24h ticker payload the universe selector needs.
type ticker24h struct {
	Symbol      string
	QuoteVolume float64
	LastPrice   float64
}

// TopUSDTPerpSymbols returns up to n USDT-quoted perpetual symbols sorted
// by 24h quote volume, excluding `exclude`, preferring symbols priced at
// or below preferLowPriceMax ahead of those in (preferLowPriceMax, priceMax].
func (a *Adapter) TopUSDTPerpSymbols(ctx context.Context, n int, exclude []string, priceMax, preferLowPriceMax float64, budget RetryBudget) ([]string, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		excluded[s] = true
	}

	tickers, err := withRetry(ctx, "top_symbols", budget, func(ctx context.Context) ([]*futures.PriceChangeStats, error) {
		return a.client.NewListPriceChangeStatsService().Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: top symbols: %w", err)
	}

	var filtered []ticker24h
	for _, t := range tickers {
		if !hasUSDTSuffix(t.Symbol) || excluded[t.Symbol] {
			continue
		}
		qv, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		last, _ := strconv.ParseFloat(t.LastPrice, 64)
		filtered = append(filtered, ticker24h{Symbol: t.Symbol, QuoteVolume: qv, LastPrice: last})
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].QuoteVolume > filtered[j].QuoteVolume })

	var low, mid []string
	for _, t := range filtered {
		switch {
		case t.LastPrice > 0 && t.LastPrice <= preferLowPriceMax:
			low = append(low, t.Symbol)
		case t.LastPrice > preferLowPriceMax && t.LastPrice <= priceMax:
			mid = append(mid, t.Symbol)
		}
	}
	out := append(low, mid...)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func hasUSDTSuffix(s string) bool {
	return len(s) > 4 && s[len(s)-4:] == "USDT"
}

// NewListenKey creates a user-data-stream listen key.
func (a *Adapter) NewListenKey(ctx context.Context) (string, error) {
	return a.client.NewStartUserStreamService().Do(ctx)
}

// KeepAliveListenKey refreshes the listen key's TTL.
func (a *Adapter) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return a.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
}

// AccountSummary reports total wallet balance and total unrealized PnL
// across the futures account, used for the periodic account gauges.
func (a *Adapter) AccountSummary(ctx context.Context, budget RetryBudget) (equity, unrealizedPnL float64, err error) {
	acct, err := withRetry(ctx, "account_summary", budget, func(ctx context.Context) (*futures.Account, error) {
		return a.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return 0, 0, err
	}
	equity, _ = strconv.ParseFloat(acct.TotalWalletBalance, 64)
	unrealizedPnL, _ = strconv.ParseFloat(acct.TotalUnrealizedProfit, 64)
	return equity, unrealizedPnL, nil
}

// ServerTime is used by the startup/periodic clock-drift check.
func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	return a.client.NewServerTimeService().Do(ctx)
}

// ClockDriftMs reports the absolute difference between the exchange's
// server time and the local clock, in milliseconds.
func (a *Adapter) ClockDriftMs(ctx context.Context) (int64, error) {
	serverMs, err := a.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	drift := time.Now().UnixMilli() - serverMs
	if drift < 0 {
		drift = -drift
	}
	return drift, nil
}

// RawClient exposes the underlying futures SDK client for collaborators
// that need it directly, such as userstream.Stream's listen-key calls.
func (a *Adapter) RawClient() *futures.Client { return a.client }

// JitteredClientOrderID avoids id collisions when two calls land in the
// same millisecond (e.g. a breakeven lock and a trailing update both
// replacing the same symbol's SL in the same bar-loop tick).
func JitteredClientOrderID(symbol, tag string) string {
	return fmt.Sprintf("%s-%s-%d%02d", symbol, tag, time.Now().UnixMilli(), rand.Intn(100))
}
