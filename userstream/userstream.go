// Package userstream owns the authenticated user-data websocket: listen
// key lifecycle (create, periodic keepalive) and decoding of account/order
// events into the tagged Event variant the Design Notes call for, in place
// of the raw untyped `e`/`a`/`P`/`o` map the exchange sends.
package userstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"perpengine/logx"
)

// Kind tags which variant an Event carries.
type Kind int

const (
	KindAccountUpdate Kind = iota
	KindOrderTradeUpdate
)

// PositionAmount is one symbol's updated position size from an
// ACCOUNT_UPDATE event.
type PositionAmount struct {
	Symbol string
	Amount float64
}

// OrderTradeUpdate is the decoded ORDER_TRADE_UPDATE fields this engine
// acts on.
type OrderTradeUpdate struct {
	Symbol      string
	OrderType   string
	Status      string
	ExecType    string
	Side        string
	RealizedPnL float64
}

// Event is the tagged variant decoded at the stream boundary.
type Event struct {
	Kind             Kind
	Positions        []PositionAmount
	OrderTradeUpdate OrderTradeUpdate
}

// Stream owns the listen key and the decoded event channel.
type Stream struct {
	client    *futures.Client
	log       *logx.Logger
	events    chan Event
	listenKey string
	stopC     chan struct{}
}

// New creates a Stream bound to client; call Start to open the websocket.
func New(client *futures.Client) *Stream {
	return &Stream{
		client: client,
		log:    logx.New("userstream"),
		events: make(chan Event, 256),
	}
}

// Events returns the channel decoded account/order events arrive on.
func (s *Stream) Events() <-chan Event { return s.events }

// Start creates a listen key and opens the user-data websocket.
func (s *Stream) Start(ctx context.Context) error {
	lk, err := s.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("userstream: create listen key: %w", err)
	}
	s.listenKey = lk

	handler := func(event *futures.WsUserDataEvent) {
		s.decode(event)
	}
	errHandler := func(err error) {
		s.log.Warnf("user stream error: %v", err)
	}
	_, stopC, err := futures.WsUserDataServe(lk, handler, errHandler)
	if err != nil {
		return fmt.Errorf("userstream: serve: %w", err)
	}
	s.stopC = stopC
	return nil
}

// Stop closes the underlying websocket. Safe to call if Start was never
// called.
func (s *Stream) Stop() {
	if s.stopC != nil {
		close(s.stopC)
		s.stopC = nil
	}
}

// RefreshListenKey keeps the listen key alive; on failure it restarts the
// stream from scratch.
func (s *Stream) RefreshListenKey(ctx context.Context) {
	if s.listenKey == "" {
		return
	}
	if err := s.client.NewKeepaliveUserStreamService().ListenKey(s.listenKey).Do(ctx); err != nil {
		s.log.Warnf("listen key keepalive failed, restarting stream: %v", err)
		s.Stop()
		if err := s.Start(ctx); err != nil {
			s.log.Errorf("user stream restart failed: %v", err)
		}
	}
}

func (s *Stream) decode(event *futures.WsUserDataEvent) {
	switch event.Event {
	case futures.UserDataEventTypeAccountUpdate:
		var positions []PositionAmount
		for _, p := range event.AccountUpdate.Positions {
			amt, _ := strconv.ParseFloat(p.Amount, 64)
			positions = append(positions, PositionAmount{Symbol: p.Symbol, Amount: amt})
		}
		s.publish(Event{Kind: KindAccountUpdate, Positions: positions})
	case futures.UserDataEventTypeOrderTradeUpdate:
		o := event.OrderTradeUpdate
		rp, _ := strconv.ParseFloat(o.RealizedPnL, 64)
		s.publish(Event{Kind: KindOrderTradeUpdate, OrderTradeUpdate: OrderTradeUpdate{
			Symbol:      o.Symbol,
			OrderType:   string(o.OriginalType),
			Status:      string(o.Status),
			ExecType:    string(o.ExecutionType),
			Side:        string(o.Side),
			RealizedPnL: rp,
		}})
	}
}

func (s *Stream) publish(e Event) {
	select {
	case s.events <- e:
	default:
		select {
		case <-s.events:
			s.log.Warnf("user event queue full, dropped oldest event")
		default:
		}
		select {
		case s.events <- e:
		default:
		}
	}
}

// keepaliveLoop is started by the orchestrator to refresh the listen key
// every 30 minutes, well within the exchange's 60-minute expiry.
func (s *Stream) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshListenKey(ctx)
		}
	}
}

// RunKeepalive starts the keepalive loop in the caller's goroutine
// (the orchestrator is expected to `go stream.RunKeepalive(ctx)`).
func (s *Stream) RunKeepalive(ctx context.Context) {
	s.keepaliveLoop(ctx)
}
