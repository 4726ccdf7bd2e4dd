// Package bar defines the closed-candle data model and the bounded
// in-memory per-(symbol,timeframe) cache that the orchestrator's bar loop
// feeds and the strategy evaluator reads from.
package bar

import "fmt"

// Bar is one closed candle. Field set matches the exchange's raw kline
// payload one-for-one so parsing is a straight positional decode.
type Bar struct {
	OpenTimeMs  int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	CloseTimeMs int64
	QuoteVolume float64
	Trades      int64
	TakerBase   float64
	TakerQuote  float64
}

// Key identifies a cache line.
type Key struct {
	Symbol    string
	Timeframe string
}

func (k Key) String() string { return k.Symbol + "@" + k.Timeframe }

const (
	maxBars   = 1200
	trimToLen = 800
)

// Cache is a bounded ring of closed bars per (symbol, timeframe), exclusively
// owned and mutated by the orchestrator's bar-consumer goroutine per the
// single-writer ownership rule; other goroutines only read snapshots
// returned by Bars.
type Cache struct {
	lines map[Key][]Bar
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{lines: make(map[Key][]Bar)}
}

// Upsert appends b to the (symbol, tf) line, replacing the last entry if
// OpenTimeMs matches (duplicate bar re-delivery), and trims the line to
// trimToLen once it exceeds maxBars.
func (c *Cache) Upsert(symbol, tf string, b Bar) {
	k := Key{Symbol: symbol, Timeframe: tf}
	line := c.lines[k]
	if n := len(line); n > 0 && line[n-1].OpenTimeMs == b.OpenTimeMs {
		line[n-1] = b
	} else {
		line = append(line, b)
	}
	if len(line) > maxBars {
		line = line[len(line)-trimToLen:]
	}
	c.lines[k] = line
}

// Bars returns the current slice for (symbol, tf). The returned slice is
// shared with the cache's backing array and must be treated as read-only
// by callers (append-heavy callers should copy).
func (c *Cache) Bars(symbol, tf string) []Bar {
	return c.lines[Key{Symbol: symbol, Timeframe: tf}]
}

// Len reports the number of bars currently cached for (symbol, tf).
func (c *Cache) Len(symbol, tf string) int {
	return len(c.lines[Key{Symbol: symbol, Timeframe: tf}])
}

// FromKline parses one raw Binance futures kline array
// ([openTime, open, high, low, close, volume, closeTime, quoteVolume,
// trades, takerBuyBase, takerBuyQuote, ignore]) into a Bar.
func FromKline(raw []any) (Bar, error) {
	if len(raw) < 11 {
		return Bar{}, fmt.Errorf("bar: invalid kline payload length %d", len(raw))
	}
	get := func(i int) (string, bool) {
		s, ok := raw[i].(string)
		return s, ok
	}
	num := func(i int) (float64, error) {
		s, ok := get(i)
		if !ok {
			return 0, fmt.Errorf("bar: field %d not a string", i)
		}
		var f float64
		_, err := fmt.Sscanf(s, "%f", &f)
		return f, err
	}
	openTime, ok := raw[0].(float64)
	if !ok {
		return Bar{}, fmt.Errorf("bar: open_time not numeric")
	}
	closeTime, ok := raw[6].(float64)
	if !ok {
		return Bar{}, fmt.Errorf("bar: close_time not numeric")
	}
	open, err := num(1)
	if err != nil {
		return Bar{}, err
	}
	high, err := num(2)
	if err != nil {
		return Bar{}, err
	}
	low, err := num(3)
	if err != nil {
		return Bar{}, err
	}
	closeP, err := num(4)
	if err != nil {
		return Bar{}, err
	}
	vol, err := num(5)
	if err != nil {
		return Bar{}, err
	}
	qv, err := num(7)
	if err != nil {
		return Bar{}, err
	}
	trades, ok := raw[8].(float64)
	if !ok {
		return Bar{}, fmt.Errorf("bar: trades not numeric")
	}
	takerBase, err := num(9)
	if err != nil {
		return Bar{}, err
	}
	takerQuote, err := num(10)
	if err != nil {
		return Bar{}, err
	}
	return Bar{
		OpenTimeMs:  int64(openTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		Volume:      vol,
		CloseTimeMs: int64(closeTime),
		QuoteVolume: qv,
		Trades:      int64(trades),
		TakerBase:   takerBase,
		TakerQuote:  takerQuote,
	}, nil
}
