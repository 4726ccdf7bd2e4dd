// Package marketstream subscribes to exchange kline websocket channels and
// emits closed-bar events on a single channel. It exposes an explicit
// Stop()/Subscribe() API on one long-lived supervisor instead of
// reconstructing the client on every symbol-universe change.
package marketstream

import (
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/futures"

	"perpengine/bar"
	"perpengine/logx"
)

// ClosedBar is one closed-candle event tagged with its symbol/timeframe.
type ClosedBar struct {
	Symbol    string
	Timeframe string
	Bar       bar.Bar
}

// Stream is a supervisor over one or more kline subscriptions. Events
// arrive on Events(); call Subscribe to change the (symbol, timeframe) set,
// which internally stops and restarts only the underlying websocket
// connections, never the Stream value itself. A connection error is only
// logged; a dropped connection is not reopened until the next Subscribe.
type Stream struct {
	log    *logx.Logger
	events chan ClosedBar

	mu    sync.Mutex
	stops []chan struct{}
}

// New creates a Stream with a bounded event channel (capacity 256); once
// full, the oldest pending event is dropped and a warning logged.
func New() *Stream {
	return &Stream{
		log:    logx.New("marketstream"),
		events: make(chan ClosedBar, 256),
	}
}

// Events returns the channel closed bars are delivered on.
func (s *Stream) Events() <-chan ClosedBar { return s.events }

// Subscribe stops any existing subscriptions and opens one kline websocket
// per (symbol, timeframe) pair.
func (s *Stream) Subscribe(symbols []string, timeframes []string) error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		for _, tf := range timeframes {
			stopC, err := s.subscribeOne(sym, tf)
			if err != nil {
				s.log.Warnf("subscribe %s@%s failed: %v", sym, tf, err)
				continue
			}
			s.stops = append(s.stops, stopC)
		}
	}
	return nil
}

func (s *Stream) subscribeOne(symbol, tf string) (chan struct{}, error) {
	handler := func(event *futures.WsKlineEvent) {
		if event.Kline.IsFinal {
			b, err := klineEventToBar(event)
			if err != nil {
				s.log.Warnf("malformed kline event for %s@%s: %v", symbol, tf, err)
				return
			}
			s.publish(ClosedBar{Symbol: symbol, Timeframe: tf, Bar: b})
		}
	}
	errHandler := func(err error) {
		s.log.Warnf("kline stream error %s@%s: %v", symbol, tf, err)
	}
	_, stopC, err := futures.WsKlineServe(symbol, tf, handler, errHandler)
	if err != nil {
		return nil, err
	}
	return stopC, nil
}

func (s *Stream) publish(cb ClosedBar) {
	select {
	case s.events <- cb:
	default:
		select {
		case <-s.events:
			s.log.Warnf("event queue full, dropped oldest closed bar for %s@%s", cb.Symbol, cb.Timeframe)
		default:
		}
		select {
		case s.events <- cb:
		default:
		}
	}
}

// Stop closes every active subscription. Safe to call when nothing is
// subscribed.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stopC := range s.stops {
		close(stopC)
	}
	s.stops = nil
}

func klineEventToBar(event *futures.WsKlineEvent) (bar.Bar, error) {
	k := event.Kline
	open, err := parseFloat(k.Open)
	if err != nil {
		return bar.Bar{}, err
	}
	high, err := parseFloat(k.High)
	if err != nil {
		return bar.Bar{}, err
	}
	low, err := parseFloat(k.Low)
	if err != nil {
		return bar.Bar{}, err
	}
	closeP, err := parseFloat(k.Close)
	if err != nil {
		return bar.Bar{}, err
	}
	vol, err := parseFloat(k.Volume)
	if err != nil {
		return bar.Bar{}, err
	}
	qv, err := parseFloat(k.QuoteVolume)
	if err != nil {
		return bar.Bar{}, err
	}
	takerBase, err := parseFloat(k.ActiveBuyVolume)
	if err != nil {
		return bar.Bar{}, err
	}
	takerQuote, err := parseFloat(k.ActiveBuyQuoteVolume)
	if err != nil {
		return bar.Bar{}, err
	}
	return bar.Bar{
		OpenTimeMs:  k.StartTime,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		Volume:      vol,
		CloseTimeMs: k.EndTime,
		QuoteVolume: qv,
		Trades:      k.TradeNum,
		TakerBase:   takerBase,
		TakerQuote:  takerQuote,
	}, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
