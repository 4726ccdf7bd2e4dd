package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpengine/command"
	"perpengine/config"
	"perpengine/exchange"
	"perpengine/marketstream"
	"perpengine/position"
	"perpengine/statestore"
	"perpengine/userstream"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Load()
	cfg.MaxOpenPositions = 2
	cfg.MaxLosingStreak = 3
	cfg.CooldownBars = 3

	ex := exchange.New("", "")
	ms := marketstream.New()
	us := userstream.New(nil)
	cmds := command.NewHTTPSource("admin")
	store := statestore.NewJSONStore(t.TempDir() + "/state.json")

	return New(cfg, ex, ms, us, cmds, store, nil)
}

func TestSizeQtyFixedMode(t *testing.T) {
	qty := sizeQty("fixed", 20, 5, 10, 100, 2)
	require.InDelta(t, 2.0, qty, 1e-9) // 20*10/100
}

func TestSizeQtyATRMode(t *testing.T) {
	qty := sizeQty("atr", 20, 5, 10, 100, 2)
	require.InDelta(t, 25.0, qty, 1e-9) // 5*10/2
}

func TestSizeQtyATRModeGuardsZeroStopDist(t *testing.T) {
	qty := sizeQty("atr", 20, 5, 10, 100, 0)
	require.Greater(t, qty, 0.0)
}

func TestCooldownActive(t *testing.T) {
	now := time.Now()
	require.True(t, cooldownActive(now.Add(-1*time.Minute), now, 3))
	require.False(t, cooldownActive(now.Add(-4*time.Minute), now, 3))
}

func TestMin4(t *testing.T) {
	require.Equal(t, 2, min4(5, 2, 9, 7))
	require.Equal(t, 0, min4(0, 100, 100, 100))
}

// Testable Property 6: risk gate rejects entry when max open positions
// is already reached.
func TestRiskGateOKRejectsAtMaxOpenPositions(t *testing.T) {
	e := testEngine(t)
	e.positions.Put(&position.State{Symbol: "AUSDT"})
	e.positions.Put(&position.State{Symbol: "BUSDT"})

	require.False(t, e.riskGateOK("CUSDT", "BUY"))
}

func TestRiskGateOKRejectsWhenAlreadyOpenForSymbol(t *testing.T) {
	e := testEngine(t)
	e.positions.Put(&position.State{Symbol: "AUSDT"})

	require.False(t, e.riskGateOK("AUSDT", "BUY"))
}

func TestRiskGateOKRejectsDuringCooldown(t *testing.T) {
	e := testEngine(t)
	e.cooldown[cooldownKey{Symbol: "AUSDT", Side: "BUY"}] = time.Now()

	require.False(t, e.riskGateOK("AUSDT", "BUY"))
}

func TestRiskGateOKAllowsOutsideCooldownAndBelowCap(t *testing.T) {
	e := testEngine(t)
	e.cooldown[cooldownKey{Symbol: "AUSDT", Side: "BUY"}] = time.Now().Add(-1 * time.Hour)

	require.True(t, e.riskGateOK("AUSDT", "BUY"))
}

// Testable Property 7: risk gate rejects entry once the day's realised
// drawdown reaches the configured limit.
func TestRiskGateOKRejectsOnDailyDrawdownLimit(t *testing.T) {
	e := testEngine(t)
	e.cfg.DailyDDLimitUSDT = 10

	ledg, err := statestore.OpenLedger(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	defer ledg.Close()
	e.ledg = ledg

	ctx := t.Context()
	require.NoError(t, ledg.RecordFill(ctx, "AUSDT", "BUY", -12, time.Now().UTC()))

	require.False(t, e.riskGateOK("AUSDT", "BUY"))
}
