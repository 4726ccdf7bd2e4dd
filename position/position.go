// Package position implements the per-symbol position state machine:
// entry recording, breakeven lock (one-shot, monotone), ATR trailing
// (monotone, never widens), TP1-fill detection, and idempotent closure.
// Transition logic here is pure given the current State and an input bar
// or event; the orchestrator owns the map of States and the exchange
// calls a transition triggers.
package position

import "time"

// Side is the position's direction.
type Side int

const (
	Buy Side = iota
	Sell
)

// State is the per-symbol position record.
type State struct {
	Symbol    string
	Side      Side
	Entry     float64
	ATR       float64 // snapshot at entry; never recomputed
	SLOrderID int64
	SLPrice   float64
	BEDone    bool
	TP1Hit    bool
	EntryTime time.Time
}

// NewOnEntry builds the initial Open(tp1_hit=false, be_done=false) state.
func NewOnEntry(symbol string, side Side, entry, atr, slPrice float64, slOrderID int64) *State {
	return &State{
		Symbol:    symbol,
		Side:      side,
		Entry:     entry,
		ATR:       atr,
		SLOrderID: slOrderID,
		SLPrice:   slPrice,
		EntryTime: time.Now(),
	}
}

// BreakevenCheck reports whether the breakeven lock should fire on this
// closed bar's close price, and the new SL price to place if so. It never
// mutates st; the caller applies BEDone/SLPrice/SLOrderID only after the
// exchange call to replace the SL order succeeds.
func BreakevenCheck(st *State, closePrice, beTriggerATRMult, lockProfitATRMult float64) (fire bool, newSL float64) {
	if st.BEDone {
		return false, 0
	}
	switch st.Side {
	case Buy:
		trigger := st.Entry + beTriggerATRMult*st.ATR
		target := st.Entry + lockProfitATRMult*st.ATR
		if closePrice >= trigger && target > st.SLPrice {
			return true, target
		}
	case Sell:
		trigger := st.Entry - beTriggerATRMult*st.ATR
		target := st.Entry - lockProfitATRMult*st.ATR
		if closePrice <= trigger && target < st.SLPrice {
			return true, target
		}
	}
	return false, 0
}

// TrailingCheck reports whether the trailing stop should advance on this
// closed bar, and the new SL price if so. Only meaningful once TP1Hit is
// true; the new stop is strictly monotone (never widens).
func TrailingCheck(st *State, closePrice, trailATRMult float64) (fire bool, newSL float64) {
	if !st.TP1Hit {
		return false, 0
	}
	switch st.Side {
	case Buy:
		target := closePrice - trailATRMult*st.ATR
		if target > st.SLPrice {
			return true, target
		}
	case Sell:
		target := closePrice + trailATRMult*st.ATR
		if target < st.SLPrice {
			return true, target
		}
	}
	return false, 0
}

// ApplyBreakeven records a successful breakeven SL replacement.
func ApplyBreakeven(st *State, newSL float64, newOrderID int64) {
	st.SLPrice = newSL
	st.SLOrderID = newOrderID
	st.BEDone = true
}

// ApplyTrailing records a successful trailing SL replacement.
func ApplyTrailing(st *State, newSL float64, newOrderID int64) {
	st.SLPrice = newSL
	st.SLOrderID = newOrderID
}

// MarkTP1Hit flips the tp1_hit flag the first time a TAKE_PROFIT_MARKET
// fill is observed while it is false.
//
// Known limitation (documented, not fixed): the account/order event
// stream cannot distinguish TP1 from TP2: whichever take-profit fills
// first is treated as TP1. If TP2 fills first on a gap, this flag still
// flips and trailing begins, which may not match trader intent.
func MarkTP1Hit(st *State) {
	if !st.TP1Hit {
		st.TP1Hit = true
	}
}

// Manager owns the map of per-symbol states. All mutation happens under
// the orchestrator's single mutex; Manager itself does no locking.
type Manager struct {
	active map[string]*State
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{active: make(map[string]*State)}
}

// Get returns the state for symbol, or nil if absent.
func (m *Manager) Get(symbol string) *State { return m.active[symbol] }

// Put records st for symbol.
func (m *Manager) Put(st *State) { m.active[st.Symbol] = st }

// Count returns the number of open positions.
func (m *Manager) Count() int { return len(m.active) }

// Symbols returns every symbol with an open position.
func (m *Manager) Symbols() []string {
	out := make([]string, 0, len(m.active))
	for s := range m.active {
		out = append(out, s)
	}
	return out
}

// CloseIfZero drops the state for symbol if present and amount is
// (numerically) zero, returning the state as it stood just before removal
// so the caller can report final metrics against it. Calling this for a
// symbol whose state is already absent is a no-op, satisfying the
// idempotent-closure property.
func (m *Manager) CloseIfZero(symbol string, amount float64) (closedState *State) {
	st, ok := m.active[symbol]
	if !ok {
		return nil
	}
	const epsilon = 1e-9
	if amount < epsilon && amount > -epsilon {
		delete(m.active, symbol)
		return st
	}
	return nil
}
