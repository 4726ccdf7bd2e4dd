package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpengine/position"
)

func TestJSONStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewJSONStore(path)

	empty := s.Load()
	require.Empty(t, empty.Active)

	snap := Snapshot{Active: map[string]position.State{
		"BTCUSDT": {Symbol: "BTCUSDT", Side: position.Buy, Entry: 50000, ATR: 100, SLPrice: 49600},
	}}
	require.NoError(t, s.Save(snap))

	got := s.Load()
	require.Len(t, got.Active, 1)
	require.Equal(t, 50000.0, got.Active["BTCUSDT"].Entry)
}

func TestJSONStoreCorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	s := NewJSONStore(path)
	snap := s.Load()
	require.NotNil(t, snap.Active)
	require.Empty(t, snap.Active)
}

func TestLedgerDailyTradesIncrement(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	n, err := l.IncrementDailyTrades(ctx, "2026-07-29")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = l.IncrementDailyTrades(ctx, "2026-07-29")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := l.DailyTrades(ctx, "2026-07-29")
	require.NoError(t, err)
	require.Equal(t, 2, got)

	other, err := l.DailyTrades(ctx, "2026-07-30")
	require.NoError(t, err)
	require.Equal(t, 0, other)
}

func TestLedgerRecentLosingStreak(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	require.NoError(t, l.RecordFill(ctx, "BTCUSDT", "BUY", 10, now))
	require.NoError(t, l.RecordFill(ctx, "BTCUSDT", "BUY", -5, now))
	require.NoError(t, l.RecordFill(ctx, "BTCUSDT", "BUY", -3, now))
	require.NoError(t, l.RecordFill(ctx, "BTCUSDT", "BUY", -1, now))

	streak, err := l.RecentLosingStreak(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 3, streak)
}

func TestLedgerDailyRealizedPnL(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	day1 := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.RecordFill(ctx, "BTCUSDT", "BUY", 10, day1))
	require.NoError(t, l.RecordFill(ctx, "BTCUSDT", "BUY", -15, day1))
	require.NoError(t, l.RecordFill(ctx, "BTCUSDT", "BUY", 100, day2))

	pnl, err := l.DailyRealizedPnL(ctx, "2026-07-29")
	require.NoError(t, err)
	require.Equal(t, -5.0, pnl)

	pnl, err = l.DailyRealizedPnL(ctx, "2026-08-01")
	require.NoError(t, err)
	require.Equal(t, 0.0, pnl)
}

func TestLedgerRecentLosingStreakZeroOnLeadingWin(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	require.NoError(t, l.RecordFill(ctx, "ETHUSDT", "SELL", -7, now))
	require.NoError(t, l.RecordFill(ctx, "ETHUSDT", "SELL", 4, now))

	streak, err := l.RecentLosingStreak(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, streak)
}
