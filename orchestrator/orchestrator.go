// Package orchestrator wires the bar stream, user stream, strategy
// evaluator, exchange adapter, position manager, and command surface into
// four concurrent loops: bar loop, user-event loop, symbol-refresh loop,
// command loop. A single mutex guards every piece of state those loops
// share rather than fine-grained locking.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"perpengine/bar"
	"perpengine/command"
	"perpengine/config"
	"perpengine/exchange"
	"perpengine/indicator"
	"perpengine/logx"
	"perpengine/marketstream"
	"perpengine/metrics"
	"perpengine/position"
	"perpengine/statestore"
	"perpengine/strategy"
	"perpengine/userstream"
)

// Engine owns every long-running loop and the shared state those loops
// mutate.
type Engine struct {
	cfg *config.Config
	log *logx.Logger

	ex    *exchange.Adapter
	ms    *marketstream.Stream
	us    *userstream.Stream
	cmds  command.Source
	bars  *bar.Cache
	store *statestore.JSONStore
	ledg  *statestore.Ledger

	budget exchange.RetryBudget

	mu          sync.Mutex
	positions   *position.Manager
	paused      bool
	dailyTrades int
	cooldown    map[cooldownKey]time.Time
	symbols     []string

	startTime time.Time
	wg        sync.WaitGroup
}

type cooldownKey struct {
	Symbol string
	Side   string
}

// New builds an Engine from its collaborators. cfg.Paused seeds the
// initial pause state.
func New(cfg *config.Config, ex *exchange.Adapter, ms *marketstream.Stream, us *userstream.Stream, cmds command.Source, store *statestore.JSONStore, ledg *statestore.Ledger) *Engine {
	return &Engine{
		cfg:   cfg,
		log:   logx.New("orchestrator"),
		ex:    ex,
		ms:    ms,
		us:    us,
		cmds:  cmds,
		bars:  bar.NewCache(),
		store: store,
		ledg:  ledg,
		budget: exchange.RetryBudget{
			MaxRetry:  cfg.OrderRetryMax,
			BackoffMs: cfg.OrderRetryBackoffMs,
		},
		positions: position.NewManager(),
		paused:    cfg.Paused,
		cooldown:  make(map[cooldownKey]time.Time),
		startTime: time.Now(),
	}
}

func (e *Engine) strategyParams() strategy.Params {
	c := e.cfg
	return strategy.Params{
		RSIPeriod:          c.RSIPeriod,
		HABRSILow:          c.HABRSILow,
		HABRSIHigh:         c.HABRSIHigh,
		BandsLength:        c.BandsLength,
		BandsMultiplier:    c.BandsMultiplier,
		RetestTolerancePct: c.RetestTolerancePct,
		ATRPeriod:          c.ATRPeriod,
		SLATRMult:          c.SLATRMult,
		TP1ATRMult:         c.TP1ATRMult,
		TP2ATRMult:         c.TP2ATRMult,
		SmartCloseAdjPct:   c.SmartCloseAdjPct,
		OBEnabled:          c.OBEnabled,
		OBLookback:         c.OBLookback,
		OBImpulseATR:       c.OBImpulseATR,
		OBRetestTol:        c.OBRetestTol,
	}
}

// Run restores prior state, selects the initial symbol universe, opens
// both websockets, and blocks running the four loops until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.restoreState()

	symbols, err := e.ex.TopUSDTPerpSymbols(ctx, 30, e.cfg.ExcludeSymbols, e.cfg.PreferredPriceMax, e.cfg.LowPricePriorityMax, e.budget)
	if err != nil {
		return fmt.Errorf("orchestrator: initial symbol selection: %w", err)
	}
	if len(symbols) > e.cfg.MaxConcurrentSymbols {
		symbols = symbols[:e.cfg.MaxConcurrentSymbols]
	}
	e.mu.Lock()
	e.symbols = symbols
	e.mu.Unlock()

	timeframes := []string{e.cfg.EntryTimeframe, e.cfg.MTFFast, e.cfg.MTFSlow1, e.cfg.MTFSlow2}
	if err := e.ms.Subscribe(symbols, timeframes); err != nil {
		return fmt.Errorf("orchestrator: subscribe market stream: %w", err)
	}
	if err := e.us.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: start user stream: %w", err)
	}

	e.wg.Add(4)
	go e.barLoop(ctx)
	go e.userEventLoop(ctx)
	go e.symbolRefreshLoop(ctx)
	go e.commandLoop(ctx)
	go e.us.RunKeepalive(ctx)

	e.wg.Wait()
	return ctx.Err()
}

func (e *Engine) restoreState() {
	snap := e.store.Load()
	e.mu.Lock()
	for _, st := range snap.Active {
		cp := st
		e.positions.Put(&cp)
	}
	e.mu.Unlock()
}

func (e *Engine) persistState() {
	e.mu.Lock()
	snap := statestore.Snapshot{Active: make(map[string]position.State, e.positions.Count())}
	for _, sym := range e.positions.Symbols() {
		snap.Active[sym] = *e.positions.Get(sym)
	}
	e.mu.Unlock()
	if err := e.store.Save(snap); err != nil {
		e.log.Warnf("persist state failed: %v", err)
	}
}

// barLoop awaits closed bars, upserts them into the cache, applies
// trailing/breakeven, and on a fresh signal runs the full entry sequence.
func (e *Engine) barLoop(ctx context.Context) {
	defer e.wg.Done()
	params := e.strategyParams()
	for {
		select {
		case <-ctx.Done():
			return
		case cb, ok := <-e.ms.Events():
			if !ok {
				return
			}
			start := time.Now()
			e.bars.Upsert(cb.Symbol, cb.Timeframe, cb.Bar)
			if cb.Timeframe == e.cfg.EntryTimeframe {
				e.onEntryTimeframeBar(ctx, cb.Symbol, cb.Bar.Close, params)
			}
			metrics.RecordBarLoopDuration(cb.Symbol, time.Since(start).Seconds())
		}
	}
}

func (e *Engine) onEntryTimeframeBar(ctx context.Context, symbol string, closePrice float64, params strategy.Params) {
	e.mu.Lock()
	hasPosition := e.positions.Get(symbol) != nil
	paused := e.paused
	dailyTrades := e.dailyTrades
	e.mu.Unlock()

	if e.cfg.TrailingEnabled && hasPosition {
		e.applyBreakevenAndTrailing(ctx, symbol, closePrice)
	}

	if paused || dailyTrades >= e.cfg.MaxDailyTrades {
		return
	}

	frame := strategy.Frame{
		Entry: e.bars.Bars(symbol, e.cfg.EntryTimeframe),
		Fast:  e.bars.Bars(symbol, e.cfg.MTFFast),
		Slow1: e.bars.Bars(symbol, e.cfg.MTFSlow1),
		Slow2: e.bars.Bars(symbol, e.cfg.MTFSlow2),
	}
	if min4(len(frame.Entry), len(frame.Fast), len(frame.Slow1), len(frame.Slow2)) < 50 {
		return
	}

	var sig strategy.Signal
	if e.cfg.SimpleMode {
		sig = strategy.EvaluateSimple(frame.Entry, params)
	} else {
		sig = strategy.Evaluate(frame, params)
	}
	if e.cfg.MTFEMAFilter {
		sig = strategy.MTFEMAGate(sig, frame.Fast)
	}
	if sig.Side == strategy.SignalNone || sig.Entry == nil || sig.SL == nil || sig.TP1 == nil || sig.TP2 == nil {
		return
	}

	side := "BUY"
	if sig.Side == strategy.SignalShort {
		side = "SELL"
	}
	if !e.riskGateOK(symbol, side) {
		return
	}

	atrSnapshot := lastATR(frame.Entry, params.ATRPeriod)
	e.enterPosition(ctx, symbol, side, sig, closePrice, atrSnapshot)
}

// lastATR returns the most recent non-NaN ATR value for bars, the ATR
// snapshot the position state machine pins at entry and never recomputes.
func lastATR(bars []bar.Bar, period int) float64 {
	atr := indicator.ATR(bars, period)
	for i := len(atr) - 1; i >= 0; i-- {
		if !math.IsNaN(atr[i]) {
			return atr[i]
		}
	}
	return 0
}

// sizeQty implements the two sizing formulas: "fixed" notional-per-trade,
// and "atr" risk-per-trade divided by stop distance. Pure function, split
// out for unit testing without a live exchange adapter.
func sizeQty(mode string, orderUSDTSize, riskUSDTPerTrade, leverage, price, stopDist float64) float64 {
	if mode == "atr" {
		if stopDist <= 0 {
			stopDist = 1e-9
		}
		return (riskUSDTPerTrade * leverage) / stopDist
	}
	return (orderUSDTSize * leverage) / maxF(price, 1e-9)
}

func min4(a, b, c, d int) int {
	m := a
	for _, v := range []int{b, c, d} {
		if v < m {
			m = v
		}
	}
	return m
}

// riskGateOK checks every entry gate besides paused and daily_trades,
// which the caller already checked.
func (e *Engine) riskGateOK(symbol, side string) bool {
	e.mu.Lock()
	openPositions := e.positions.Count()
	already := e.positions.Get(symbol) != nil
	last, hasCooldown := e.cooldown[cooldownKey{Symbol: symbol, Side: side}]
	e.mu.Unlock()

	if already {
		return false
	}
	if openPositions >= e.cfg.MaxOpenPositions {
		return false
	}
	if hasCooldown && cooldownActive(last, time.Now(), e.cfg.CooldownBars) {
		return false
	}

	ctx := context.Background()
	if e.ledg != nil {
		streak, err := e.ledg.RecentLosingStreak(ctx, e.cfg.MaxLosingStreak+5)
		if err == nil && streak >= e.cfg.MaxLosingStreak {
			return false
		}
		today := time.Now().UTC().Format("2006-01-02")
		dailyPnL, err := e.ledg.DailyRealizedPnL(ctx, today)
		if err == nil && dailyPnL <= -e.cfg.DailyDDLimitUSDT {
			return false
		}
	}
	return true
}

// cooldownActive reports whether a cooldown started at last is still in
// effect at now, given cooldownBars minutes. COOLDOWN_BARS is treated as
// minutes despite its name.
func cooldownActive(last, now time.Time, cooldownBars int) bool {
	return now.Sub(last) < time.Duration(cooldownBars)*time.Minute
}

// enterPosition runs the entry sequence: maker attempt, sizing,
// min-notional check, leverage, then MARKET, SL, TP1, TP2 in that order.
func (e *Engine) enterPosition(ctx context.Context, symbol, side string, sig strategy.Signal, price, atrSnapshot float64) {
	sideType := futures.SideTypeBuy
	slSideType := futures.SideTypeSell
	if side == "SELL" {
		sideType = futures.SideTypeSell
		slSideType = futures.SideTypeBuy
	}

	e.attemptMakerEntry(ctx, symbol, sideType, price)

	stopDist := *sig.Entry - *sig.SL
	if stopDist < 0 {
		stopDist = -stopDist
	}
	rawQty := sizeQty(e.cfg.SizingMode, e.cfg.OrderUSDTSize, e.cfg.RiskUSDTPerTrade, float64(e.cfg.Leverage), price, stopDist)

	qtyStr, err := e.ex.FormatQty(ctx, symbol, rawQty, e.budget)
	if err != nil {
		e.log.Warnf("format qty %s failed: %v", symbol, err)
		return
	}
	ok, err := e.ex.MinNotionalOK(ctx, symbol, price, rawQty, e.budget)
	if err != nil || !ok {
		return
	}

	e.ex.SetLeverage(ctx, symbol, e.cfg.Leverage)

	slPriceStr, err := e.ex.FormatPrice(ctx, symbol, *sig.SL, e.budget)
	if err != nil {
		e.log.Warnf("format sl price %s failed: %v", symbol, err)
		return
	}
	tp1PriceStr, err := e.ex.FormatPrice(ctx, symbol, *sig.TP1, e.budget)
	if err != nil {
		return
	}
	tp2PriceStr, err := e.ex.FormatPrice(ctx, symbol, *sig.TP2, e.budget)
	if err != nil {
		return
	}
	tpQtyStr, err := e.ex.FormatQty(ctx, symbol, rawQty/2.0, e.budget)
	if err != nil {
		return
	}

	if _, err := e.ex.PlaceMarketOrder(ctx, symbol, sideType, qtyStr, false, exchange.ClientOrderID(symbol, "MKT"), e.budget); err != nil {
		e.log.Warnf("market entry %s failed: %v", symbol, err)
		return
	}
	slResp, err := e.ex.PlaceStopMarket(ctx, symbol, slSideType, slPriceStr, exchange.ClientOrderID(symbol, "SL"), e.budget)
	if err != nil {
		e.log.Warnf("SL placement %s failed; position open without a stop-loss order, which is not re-placed automatically: %v", symbol, err)
	}
	if _, err := e.ex.PlaceTakeProfitMarket(ctx, symbol, slSideType, tp1PriceStr, tpQtyStr, exchange.ClientOrderID(symbol, "TP1"), e.budget); err != nil {
		e.log.Warnf("TP1 placement %s failed: %v", symbol, err)
	}
	if _, err := e.ex.PlaceTakeProfitMarket(ctx, symbol, slSideType, tp2PriceStr, tpQtyStr, exchange.ClientOrderID(symbol, "TP2"), e.budget); err != nil {
		e.log.Warnf("TP2 placement %s failed: %v", symbol, err)
	}

	var slOrderID int64
	if slResp != nil {
		slOrderID = slResp.OrderID
	}
	slSide := position.Buy
	if side == "SELL" {
		slSide = position.Sell
	}
	slPriceVal, _ := parseOrZero(slPriceStr)
	st := position.NewOnEntry(symbol, slSide, *sig.Entry, atrSnapshot, slPriceVal, slOrderID)

	e.mu.Lock()
	e.positions.Put(st)
	e.dailyTrades++
	e.cooldown[cooldownKey{Symbol: symbol, Side: side}] = time.Now()
	openCount := e.positions.Count()
	dailyTrades := e.dailyTrades
	e.mu.Unlock()

	if e.ledg != nil {
		_, _ = e.ledg.IncrementDailyTrades(ctx, time.Now().UTC().Format("2006-01-02"))
	}
	metrics.SetOpenPositionsCount(openCount)
	e.reportRiskMetrics(ctx, dailyTrades)
	e.persistState()
	e.log.Infof("entered %s %s qty=%s entry=%.6f sl=%s", symbol, side, qtyStr, *sig.Entry, slPriceStr)
}

func sideLabel(s position.Side) string {
	if s == position.Sell {
		return "SELL"
	}
	return "BUY"
}

// reportRiskMetrics mirrors the engine's in-memory daily trade count and
// the ledger-derived losing streak onto the daily_trade_count/losing_streak
// gauges.
func (e *Engine) reportRiskMetrics(ctx context.Context, dailyTrades int) {
	streak := 0
	if e.ledg != nil {
		if s, err := e.ledg.RecentLosingStreak(ctx, e.cfg.MaxLosingStreak+5); err == nil {
			streak = s
		}
	}
	metrics.UpdateRiskMetrics(dailyTrades, streak)
}

// attemptMakerEntry implements the supplemented maker-entry feature
// faithfully, including its known defect: the post-only order's id is
// never retained, so it cannot be cancelled after MakerWaitSeconds and is
// left resting at the exchange.
func (e *Engine) attemptMakerEntry(ctx context.Context, symbol string, side futures.SideType, price float64) {
	offset := e.cfg.MakerOffsetBps / 10000.0
	best := price * (1 - offset)
	if side == futures.SideTypeSell {
		best = price * (1 + offset)
	}
	makerPx, err := e.ex.FormatPrice(ctx, symbol, best, e.budget)
	if err != nil {
		return
	}
	qtyGuess := e.cfg.OrderUSDTSize * float64(e.cfg.Leverage) / maxF(price, 1e-9)
	qtyStr, err := e.ex.FormatQty(ctx, symbol, qtyGuess, e.budget)
	if err != nil {
		return
	}
	_, _ = e.ex.PlacePostOnlyLimit(ctx, symbol, side, makerPx, qtyStr, exchange.ClientOrderID(symbol, "MAKER"), e.budget)
	time.Sleep(time.Duration(e.cfg.MakerWaitSeconds * float64(time.Second)))
}

// applyBreakevenAndTrailing checks and, if due, applies the breakeven lock
// and ATR trailing stop for symbol's open position. st is never mutated or
// read lock-free: every read of shared position fields and every mutation
// (ApplyBreakeven/ApplyTrailing) happens under e.mu, snapshotted into a
// local copy before the network call and re-fetched from the live *State
// afterward, since the user-event loop may concurrently flip TP1Hit (or
// close the position outright) under the same mutex while a stop-replace
// call is in flight.
func (e *Engine) applyBreakevenAndTrailing(ctx context.Context, symbol string, closePrice float64) {
	e.mu.Lock()
	live := e.positions.Get(symbol)
	if live == nil {
		e.mu.Unlock()
		return
	}
	snap := *live
	e.mu.Unlock()

	slSide := futures.SideTypeSell
	if snap.Side == position.Sell {
		slSide = futures.SideTypeBuy
	}

	unrealized := closePrice - snap.Entry
	if snap.Side == position.Sell {
		unrealized = snap.Entry - closePrice
	}
	holdSeconds := time.Since(snap.EntryTime).Seconds()
	metrics.UpdatePositionMetrics(symbol, sideLabel(snap.Side), unrealized, holdSeconds)

	if fire, newSL := position.BreakevenCheck(&snap, closePrice, e.cfg.BETriggerATRMult, e.cfg.LockProfitATRMult); fire {
		if newOrderID, ok := e.replaceStop(ctx, symbol, snap.SLOrderID, slSide, newSL, "SLBE"); ok {
			e.mu.Lock()
			if live := e.positions.Get(symbol); live != nil {
				position.ApplyBreakeven(live, newSL, newOrderID)
				snap = *live
			}
			e.mu.Unlock()
			e.persistState()
		}
	}

	// Re-fetch the fields TrailingCheck depends on (TP1Hit, SLPrice,
	// SLOrderID) in case the user-event loop updated them concurrently.
	e.mu.Lock()
	live = e.positions.Get(symbol)
	if live == nil {
		e.mu.Unlock()
		return
	}
	snap.TP1Hit = live.TP1Hit
	snap.SLPrice = live.SLPrice
	snap.SLOrderID = live.SLOrderID
	e.mu.Unlock()

	if fire, newSL := position.TrailingCheck(&snap, closePrice, e.cfg.TrailATRMult); fire {
		if newOrderID, ok := e.replaceStop(ctx, symbol, snap.SLOrderID, slSide, newSL, "SLTR"); ok {
			e.mu.Lock()
			if live := e.positions.Get(symbol); live != nil {
				position.ApplyTrailing(live, newSL, newOrderID)
			}
			e.mu.Unlock()
			e.persistState()
		}
	}
}

// replaceStop cancels the currently live SL order (if any) and places a
// new one at newSL, returning the new order id. It touches no shared
// state directly; the caller applies the result under e.mu.
func (e *Engine) replaceStop(ctx context.Context, symbol string, slOrderID int64, slSide futures.SideType, newSL float64, tag string) (int64, bool) {
	if slOrderID != 0 {
		_ = e.ex.CancelOrder(ctx, symbol, slOrderID, e.budget)
	}
	newSLFmt, err := e.ex.FormatPrice(ctx, symbol, newSL, e.budget)
	if err != nil {
		return 0, false
	}
	resp, err := e.ex.PlaceStopMarket(ctx, symbol, slSide, newSLFmt, exchange.JitteredClientOrderID(symbol, tag), e.budget)
	if err != nil {
		e.log.Warnf("%s replace stop %s failed: %v", tag, symbol, err)
		return 0, false
	}
	return resp.OrderID, true
}

func parseOrZero(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// userEventLoop handles account updates, closing positions whose reported
// amount is (numerically) zero, and order fills of TAKE_PROFIT_MARKET
// type, which flip tp1_hit the first time they're observed.
func (e *Engine) userEventLoop(ctx context.Context) {
	defer e.wg.Done()
	lastDay := time.Now().UTC().Format("2006-01-02")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.us.Events():
			if !ok {
				return
			}
			today := time.Now().UTC().Format("2006-01-02")
			e.mu.Lock()
			if today != lastDay {
				e.dailyTrades = 0
				lastDay = today
			}
			e.mu.Unlock()

			switch ev.Kind {
			case userstream.KindAccountUpdate:
				for _, p := range ev.Positions {
					e.mu.Lock()
					closedState := e.positions.CloseIfZero(p.Symbol, p.Amount)
					openCount := e.positions.Count()
					e.mu.Unlock()
					if closedState != nil {
						metrics.ClearPositionMetrics(p.Symbol, sideLabel(closedState.Side))
						metrics.SetOpenPositionsCount(openCount)
						e.persistState()
					}
				}
			case userstream.KindOrderTradeUpdate:
				o := ev.OrderTradeUpdate
				if o.Status == "FILLED" && o.OrderType == "TAKE_PROFIT_MARKET" {
					e.mu.Lock()
					if st := e.positions.Get(o.Symbol); st != nil {
						position.MarkTP1Hit(st)
					}
					e.mu.Unlock()
				}
				if o.Status == "FILLED" && e.ledg != nil && o.RealizedPnL != 0 {
					if err := e.ledg.RecordFill(ctx, o.Symbol, o.Side, o.RealizedPnL, time.Now()); err != nil {
						e.log.Warnf("record fill %s failed: %v", o.Symbol, err)
					}
					metrics.RecordTrade(o.RealizedPnL > 0)
				}
			}
		}
	}
}

// symbolRefreshLoop periodically rebuilds the traded symbol universe and
// re-subscribes the market stream, per SymbolRefreshHours.
func (e *Engine) symbolRefreshLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.SymbolRefreshHours) * time.Hour
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if drift, err := e.ex.ClockDriftMs(ctx); err != nil {
				e.log.Warnf("periodic clock drift check failed: %v", err)
			} else if drift > int64(e.cfg.TimeDriftMaxMs) {
				e.log.Warnf("clock drift %dms exceeds threshold %dms; proceeding (warn-only)", drift, e.cfg.TimeDriftMaxMs)
			}

			symbols, err := e.ex.TopUSDTPerpSymbols(ctx, 30, e.cfg.ExcludeSymbols, e.cfg.PreferredPriceMax, e.cfg.LowPricePriorityMax, e.budget)
			if err != nil {
				e.log.Warnf("symbol refresh failed: %v", err)
				continue
			}
			if len(symbols) > e.cfg.MaxConcurrentSymbols {
				symbols = symbols[:e.cfg.MaxConcurrentSymbols]
			}
			timeframes := []string{e.cfg.EntryTimeframe, e.cfg.MTFFast, e.cfg.MTFSlow1, e.cfg.MTFSlow2}
			if err := e.ms.Subscribe(symbols, timeframes); err != nil {
				e.log.Warnf("symbol refresh resubscribe failed: %v", err)
				continue
			}
			e.mu.Lock()
			e.symbols = symbols
			e.mu.Unlock()
			e.log.Infof("symbols refreshed: %v", symbols)
		}
	}
}

// commandLoop polls the command source every PollSeconds and dispatches
// recognised, admin-authenticated commands.
func (e *Engine) commandLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.PollSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cmd := range e.cmds.Poll() {
				if e.cfg.AdminUserID != "" && !command.IsAdmin(cmd.AdminID, e.cfg.AdminUserID) {
					continue
				}
				e.dispatch(ctx, cmd)
			}
			e.reportAccountMetrics(ctx)
			metrics.UptimeSeconds.Set(time.Since(e.startTime).Seconds())
		}
	}
}

// reportAccountMetrics mirrors account equity, unrealized PnL, and the
// day's realised PnL onto the account gauges. Failures are logged and
// skipped, never surfaced: this is a best-effort observability tick, not
// part of the trading path.
func (e *Engine) reportAccountMetrics(ctx context.Context) {
	equity, unrealizedPnL, err := e.ex.AccountSummary(ctx, e.budget)
	if err != nil {
		e.log.Warnf("account summary failed: %v", err)
		return
	}
	var dailyPnL float64
	if e.ledg != nil {
		dailyPnL, _ = e.ledg.DailyRealizedPnL(ctx, time.Now().UTC().Format("2006-01-02"))
	}
	metrics.UpdateAccountMetrics(equity, unrealizedPnL, dailyPnL)
}

func (e *Engine) dispatch(ctx context.Context, cmd command.Command) {
	switch cmd.Name {
	case command.Pause:
		e.mu.Lock()
		e.paused = true
		e.mu.Unlock()
		metrics.SetEngineRunning(false)
	case command.Resume:
		e.mu.Lock()
		e.paused = false
		e.mu.Unlock()
		metrics.SetEngineRunning(true)
	case command.Status:
		e.log.Infof("status: run_mode=%s mode=%s lev=%dx size=%.2f", e.cfg.RunMode, modeName(e.cfg.SimpleMode), e.cfg.Leverage, e.cfg.OrderUSDTSize)
	case command.AutoCoins:
		symbols, err := e.ex.TopUSDTPerpSymbols(ctx, 30, e.cfg.ExcludeSymbols, e.cfg.PreferredPriceMax, e.cfg.LowPricePriorityMax, e.budget)
		if err != nil {
			e.log.Warnf("autocoins error: %v", err)
			return
		}
		e.log.Infof("auto symbols: %v", symbols)
	case command.Symbols:
		e.mu.Lock()
		syms := e.positions.Symbols()
		e.mu.Unlock()
		e.log.Infof("open positions: %v", syms)
	case command.Risk:
		e.log.Infof("risk: usdt_per_trade=%.2f leverage=%dx", e.cfg.RiskUSDTPerTrade, e.cfg.Leverage)
	case command.Flat:
		e.flattenAll(ctx)
	case command.SelfTest:
		e.selfTest(ctx)
	case command.Mode:
		if len(cmd.Args) == 1 {
			e.mu.Lock()
			e.cfg.SimpleMode = cmd.Args[0] == "simple"
			e.mu.Unlock()
		}
	case command.Size:
		if len(cmd.Args) == 1 {
			if v, err := parseOrZero(cmd.Args[0]); err == nil {
				e.mu.Lock()
				e.cfg.OrderUSDTSize = v
				e.mu.Unlock()
			}
		}
	case command.Lev:
		if len(cmd.Args) == 1 {
			var n int
			if _, err := fmt.Sscanf(cmd.Args[0], "%d", &n); err == nil {
				e.mu.Lock()
				e.cfg.Leverage = n
				e.mu.Unlock()
			}
		}
	}
}

func modeName(simple bool) string {
	if simple {
		return "simple"
	}
	return "advanced"
}

// flattenAll implements /flat: reduce-only market-closes every reported
// open position.
func (e *Engine) flattenAll(ctx context.Context) {
	risks, err := e.ex.PositionRisk(ctx, "", e.budget)
	if err != nil {
		e.log.Warnf("flat: position risk query failed: %v", err)
		return
	}
	for _, p := range risks {
		amt, _ := parseOrZero(p.PositionAmt)
		if amt > -1e-9 && amt < 1e-9 {
			continue
		}
		side := futures.SideTypeSell
		if amt < 0 {
			side = futures.SideTypeBuy
		}
		qtyStr, err := e.ex.FormatQty(ctx, p.Symbol, absF(amt), e.budget)
		if err != nil {
			continue
		}
		if _, err := e.ex.PlaceMarketOrder(ctx, p.Symbol, side, qtyStr, true, exchange.ClientOrderID(p.Symbol, "FLAT"), e.budget); err != nil {
			e.log.Warnf("flat %s failed: %v", p.Symbol, err)
		}
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// selfTest implements /selftest: a canary GTX limit order placed away
// from market, then explicitly cancelled after a short wait, proving
// order placement and cancellation both work without risking a fill.
// Unlike the bar loop's maker-entry attempt (attemptMakerEntry), this
// order's id IS retained and used to cancel it.
func (e *Engine) selfTest(ctx context.Context) {
	e.mu.Lock()
	symbols := e.symbols
	e.mu.Unlock()
	symbol := "BTCUSDT"
	if len(symbols) > 0 {
		symbol = symbols[0]
	}

	risks, err := e.ex.PositionRisk(ctx, symbol, e.budget)
	if err != nil || len(risks) == 0 {
		e.log.Warnf("selftest: mark price unavailable: %v", err)
		return
	}
	mark, _ := parseOrZero(risks[0].MarkPrice)
	if mark <= 0 {
		e.log.Warnf("selftest: invalid mark price for %s", symbol)
		return
	}

	qtyStr, err := e.ex.FormatQty(ctx, symbol, maxF(5.0/mark, 0.001), e.budget)
	if err != nil {
		return
	}
	limitPx, err := e.ex.FormatPrice(ctx, symbol, mark*(1-e.cfg.MakerOffsetBps/10000.0), e.budget)
	if err != nil {
		return
	}

	resp, err := e.ex.PlacePostOnlyLimit(ctx, symbol, futures.SideTypeBuy, limitPx, qtyStr, exchange.ClientOrderID(symbol, "selftest"), e.budget)
	if err != nil {
		e.log.Warnf("selftest: GTX order failed: %v", err)
		return
	}
	e.log.Infof("selftest: placed canary GTX %s BUY @%s on %s (orderId=%d)", qtyStr, limitPx, symbol, resp.OrderID)

	time.Sleep(2 * time.Second)
	if err := e.ex.CancelOrder(ctx, symbol, resp.OrderID, e.budget); err != nil {
		e.log.Warnf("selftest: cancel failed: %v", err)
		return
	}
	e.log.Infof("selftest: cancelled canary order on %s", symbol)
}
