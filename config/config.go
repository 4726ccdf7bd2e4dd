// Package config loads the engine's environment-based configuration. It
// is kept deliberately small, but its defaults are load-bearing for every
// other component.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is a snapshot of every tunable the engine recognises. It is built
// once at startup and shared by pointer; the command surface updates
// SimpleMode, OrderUSDTSize and Leverage in place on this struct under the
// orchestrator's single mutex. Paused only seeds the orchestrator's own
// pause flag, which /pause and /resume change instead of this field.
type Config struct {
	BinanceAPIKey    string
	BinanceAPISecret string

	Leverage            int
	OrderUSDTSize       float64
	MaxConcurrentSymbols int

	EntryTimeframe string
	MTFFast        string
	MTFSlow1       string
	MTFSlow2       string

	RSIPeriod           int
	HABRSILow           float64
	HABRSIHigh          float64
	BandsLength         int
	BandsMultiplier     float64
	RetestTolerancePct  float64
	ATRPeriod           int
	SLATRMult           float64
	TP1ATRMult          float64
	TP2ATRMult          float64
	SmartCloseAdjPct    float64

	SymbolRefreshHours  int
	ExcludeSymbols      []string
	PreferredPriceMax   float64
	LowPricePriorityMax float64

	CooldownBars int
	PollSeconds  int

	SimpleMode bool
	Paused     bool
	RunMode    string // LIVE | PAPER | BACKTEST

	TrailingEnabled  bool
	BETriggerATRMult float64
	LockProfitATRMult float64
	TrailATRMult     float64

	SizingMode        string // fixed | atr
	RiskUSDTPerTrade  float64

	StatePath string

	AdminUserID      string
	DailyDDLimitUSDT float64
	MaxLosingStreak  int
	MaxOpenPositions int
	MaxDailyTrades   int

	TimeDriftMaxMs      int
	OrderRetryMax       int
	OrderRetryBackoffMs int

	OBEnabled    bool
	OBLookback   int
	OBImpulseATR float64
	OBRetestTol  float64

	MakerOffsetBps   float64
	MakerWaitSeconds float64

	MTFEMAFilter bool

	CommandListenAddr string
}

// Load reads a .env file if present (errors ignored, matching godotenv's
// usual non-fatal use) and then builds a Config from the process
// environment, falling back to documented defaults wherever a variable is
// unset.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),

		Leverage:             getInt("LEVERAGE", 15),
		OrderUSDTSize:        getFloat("ORDER_USDT_SIZE", 20),
		MaxConcurrentSymbols: getInt("MAX_CONCURRENT_SYMBOLS", 8),

		EntryTimeframe: getStr("ENTRY_TIMEFRAME", "1m"),
		MTFFast:        getStr("MTF_FAST", "5m"),
		MTFSlow1:       getStr("MTF_SLOW_1", "15m"),
		MTFSlow2:       getStr("MTF_SLOW_2", "1h"),

		RSIPeriod:          getInt("RSI_PERIOD", 14),
		HABRSILow:          getFloat("HAB_RSI_LOW", 25),
		HABRSIHigh:         getFloat("HAB_RSI_HIGH", 80),
		BandsLength:        getInt("BANDS_LENGTH", 20),
		BandsMultiplier:    getFloat("BANDS_MULTIPLIER", 1.0),
		RetestTolerancePct: getFloat("RETEST_TOLERANCE_PCT", 0.003),
		ATRPeriod:          getInt("ATR_PERIOD", 14),
		SLATRMult:          getFloat("SL_ATR_MULT", 0.4),
		TP1ATRMult:         getFloat("TP1_ATR_MULT", 0.8),
		TP2ATRMult:         getFloat("TP2_ATR_MULT", 1.2),
		SmartCloseAdjPct:   getFloat("SMART_CLOSE_ADJ_PCT", 0.001),

		SymbolRefreshHours:  getInt("SYMBOL_REFRESH_HOURS", 6),
		ExcludeSymbols:      getList("EXCLUDE_SYMBOLS", "BNBUSDT,BTCUSDT,ETHUSDT,SOLUSDT"),
		PreferredPriceMax:   getFloat("PREFERRED_PRICE_MAX", 100),
		LowPricePriorityMax: getFloat("LOW_PRICE_PRIORITY_MAX", 1),

		CooldownBars: getInt("COOLDOWN_BARS", 3),
		PollSeconds:  getInt("POLL_SECONDS", 15),

		SimpleMode: getBool("SIMPLE_MODE", true),
		Paused:     getBool("PAUSED", false),
		RunMode:    getStr("RUN_MODE", "LIVE"),

		TrailingEnabled:   getBool("TRAILING_ENABLED", true),
		BETriggerATRMult:  getFloat("BE_TRIGGER_ATR_MULT", 0.8),
		LockProfitATRMult: getFloat("LOCK_PROFIT_ATR_MULT", 0.1),
		TrailATRMult:      getFloat("TRAIL_ATR_MULT", 1.0),

		SizingMode:       getStr("SIZING_MODE", "fixed"),
		RiskUSDTPerTrade: getFloat("RISK_USDT_PER_TRADE", 5),

		StatePath: getStr("STATE_PATH", "state.json"),

		AdminUserID:      getStr("ADMIN_USER_ID", ""),
		DailyDDLimitUSDT: getFloat("DAILY_DD_LIMIT_USDT", 10),
		MaxLosingStreak:  getInt("MAX_LOSING_STREAK", 3),
		MaxOpenPositions: getInt("MAX_OPEN_POSITIONS", 3),
		MaxDailyTrades:   getInt("MAX_DAILY_TRADES", 50),

		TimeDriftMaxMs:      getInt("TIME_DRIFT_MAX_MS", 1500),
		OrderRetryMax:       getInt("ORDER_RETRY_MAX", 3),
		OrderRetryBackoffMs: getInt("ORDER_RETRY_BACKOFF_MS", 400),

		OBEnabled:    getBool("OB_ENABLED", false),
		OBLookback:   getInt("OB_LOOKBACK", 300),
		OBImpulseATR: getFloat("OB_IMPULSE_ATR", 1.5),
		OBRetestTol:  getFloat("OB_RETEST_TOL", 0.001),

		MakerOffsetBps:   getFloat("MAKER_OFFSET_BPS", 5),
		MakerWaitSeconds: getFloat("MAKER_WAIT_SECONDS", 2),

		MTFEMAFilter: getBool("MTF_EMA_FILTER", false),

		CommandListenAddr: getStr("COMMAND_LISTEN_ADDR", ":8090"),
	}
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true")
	}
	return def
}

func getList(key, def string) []string {
	raw := getStr(key, def)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
