package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for this engine's metrics.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// ============================================
	// Account Metrics
	// ============================================

	// EquityTotal tracks current account equity in USDT.
	EquityTotal = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "account",
			Name:      "equity_total",
			Help:      "Current total equity in USDT",
		},
	)

	// UnrealizedPnLTotal tracks unrealized P&L across all open positions.
	UnrealizedPnLTotal = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "account",
			Name:      "unrealized_pnl_total",
			Help:      "Unrealized P&L in USDT across all open positions",
		},
	)

	// RealizedPnLDaily tracks today's (UTC) realised P&L.
	RealizedPnLDaily = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "account",
			Name:      "realized_pnl_daily",
			Help:      "Realized P&L in USDT for the current UTC day",
		},
	)

	// ============================================
	// Trade Statistics
	// ============================================

	// TradesTotal counts closed trades by result.
	TradesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perpengine",
			Subsystem: "trader",
			Name:      "trades_total",
			Help:      "Total number of closed trades",
		},
		[]string{"result"}, // result: "win", "loss"
	)

	// DailyTradeCount tracks trades opened during the current UTC day,
	// mirrored from the orchestrator's in-memory counter.
	DailyTradeCount = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "trader",
			Name:      "daily_trade_count",
			Help:      "Number of trades opened so far in the current UTC day",
		},
	)

	// LosingStreak tracks the current consecutive-loss count used by the
	// risk gate.
	LosingStreak = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "trader",
			Name:      "losing_streak",
			Help:      "Current consecutive losing trade count",
		},
	)

	// ============================================
	// Position Metrics
	// ============================================

	// OpenPositionsCount tracks open position count.
	OpenPositionsCount = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "trader",
			Name:      "open_positions_count",
			Help:      "Number of open positions",
		},
	)

	// PositionUnrealizedPnL tracks per-position unrealized P&L.
	PositionUnrealizedPnL = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "position",
			Name:      "unrealized_pnl",
			Help:      "Unrealized P&L per position in USDT",
		},
		[]string{"symbol", "side"},
	)

	// PositionHoldDuration tracks how long a position has been held.
	PositionHoldDuration = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "position",
			Name:      "hold_duration_seconds",
			Help:      "Duration position has been held in seconds",
		},
		[]string{"symbol", "side"},
	)

	// ============================================
	// Loop / Exchange Latency
	// ============================================

	// BarLoopDuration tracks the bar-consumer loop's per-tick processing
	// time: strategy evaluation through order placement.
	BarLoopDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perpengine",
			Subsystem: "orchestrator",
			Name:      "bar_loop_duration_seconds",
			Help:      "Bar-consumer loop tick duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"symbol"},
	)

	// ExchangeCallDuration tracks exchange REST call latency, including
	// retries.
	ExchangeCallDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perpengine",
			Subsystem: "exchange",
			Name:      "call_duration_seconds",
			Help:      "Exchange REST call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)

	// ExchangeRetriesTotal counts retry attempts by operation.
	ExchangeRetriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perpengine",
			Subsystem: "exchange",
			Name:      "retries_total",
			Help:      "Total number of exchange call retries",
		},
		[]string{"op"},
	)

	// ============================================
	// System Metrics
	// ============================================

	// EngineRunning reports whether the engine's main loops are active.
	EngineRunning = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "system",
			Name:      "running",
			Help:      "Whether the engine is running (1) or paused (0)",
		},
	)

	// UptimeSeconds tracks process uptime in seconds.
	UptimeSeconds = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perpengine",
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
)

// UpdateAccountMetrics sets the account-level gauges.
func UpdateAccountMetrics(equity, unrealizedPnL, realizedPnLDaily float64) {
	mu.Lock()
	defer mu.Unlock()

	EquityTotal.Set(equity)
	UnrealizedPnLTotal.Set(unrealizedPnL)
	RealizedPnLDaily.Set(realizedPnLDaily)
}

// RecordTrade increments the trade-result counter.
func RecordTrade(isWin bool) {
	result := "loss"
	if isWin {
		result = "win"
	}
	TradesTotal.WithLabelValues(result).Inc()
}

// UpdateRiskMetrics mirrors the daily trade count and the ledger-derived
// losing streak the risk gates read.
func UpdateRiskMetrics(dailyTrades, losingStreak int) {
	mu.Lock()
	defer mu.Unlock()

	DailyTradeCount.Set(float64(dailyTrades))
	LosingStreak.Set(float64(losingStreak))
}

// UpdatePositionMetrics updates per-position gauges.
func UpdatePositionMetrics(symbol, side string, unrealizedPnL, holdDurationSeconds float64) {
	mu.Lock()
	defer mu.Unlock()

	PositionUnrealizedPnL.WithLabelValues(symbol, side).Set(unrealizedPnL)
	PositionHoldDuration.WithLabelValues(symbol, side).Set(holdDurationSeconds)
}

// ClearPositionMetrics removes metrics for a closed position.
func ClearPositionMetrics(symbol, side string) {
	mu.Lock()
	defer mu.Unlock()

	PositionUnrealizedPnL.DeleteLabelValues(symbol, side)
	PositionHoldDuration.DeleteLabelValues(symbol, side)
}

// RecordBarLoopDuration records one bar-consumer loop tick.
func RecordBarLoopDuration(symbol string, seconds float64) {
	BarLoopDuration.WithLabelValues(symbol).Observe(seconds)
}

// RecordExchangeCall records one exchange REST call's latency and retry
// count.
func RecordExchangeCall(op string, seconds float64, retries int) {
	ExchangeCallDuration.WithLabelValues(op).Observe(seconds)
	if retries > 0 {
		ExchangeRetriesTotal.WithLabelValues(op).Add(float64(retries))
	}
}

// SetOpenPositionsCount sets the open position gauge.
func SetOpenPositionsCount(count int) {
	OpenPositionsCount.Set(float64(count))
}

// SetEngineRunning sets whether the engine is actively trading (not
// paused).
func SetEngineRunning(running bool) {
	val := 0.0
	if running {
		val = 1.0
	}
	EngineRunning.Set(val)
}

// Init registers the default prometheus collectors.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
