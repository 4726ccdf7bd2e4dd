// Package statestore persists the engine's position snapshot and the
// trading ledger the risk gates read from, as two concrete types with no
// shared interface: JSONStore, a JSON file for the `{active: {...}}`
// document, and Ledger, an embedded sqlite database for the daily-trade counter
// and realised-PnL ledger a single JSON blob can't answer efficiently
// (losing-streak derivation needs ordered history).
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"perpengine/logx"
	"perpengine/position"
)

// Snapshot is the JSON document `{active: {<symbol>: PositionState}}`.
type Snapshot struct {
	Active map[string]position.State `json:"active"`
}

// JSONStore implements a single JSON document rewritten atomically.
// Corruption is treated as empty state rather than a fatal error.
type JSONStore struct {
	path string
	log  *logx.Logger
}

// NewJSONStore returns a JSONStore backed by path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path, log: logx.New("statestore")}
}

// Load reads the snapshot, returning an empty one on any error (missing
// file, corrupt JSON).
func (s *JSONStore) Load() Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{Active: map[string]position.State{}}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warnf("state file corrupt, treating as empty: %v", err)
		return Snapshot{Active: map[string]position.State{}}
	}
	if snap.Active == nil {
		snap.Active = map[string]position.State{}
	}
	return snap
}

// Save atomically rewrites the snapshot: write to a temp file, then
// rename over the target, so a crash mid-write never corrupts the
// existing document.
func (s *JSONStore) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("statestore: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("statestore: rename: %w", err)
	}
	return nil
}

// Ledger is the sqlite-backed trade journal and daily-counter store.
type Ledger struct {
	db  *sql.DB
	log *logx.Logger
}

// OpenLedger opens (creating if absent) the sqlite ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statestore: open ledger: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	realized_pnl REAL NOT NULL,
	occurred_at INTEGER NOT NULL,
	day TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_counters (
	day TEXT PRIMARY KEY,
	trades INTEGER NOT NULL DEFAULT 0
);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("statestore: migrate ledger: %w", err)
	}
	return &Ledger{db: db, log: logx.New("statestore")}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// RecordFill appends one realised-PnL event, used later to derive the
// losing-streak and daily-drawdown risk gates.
func (l *Ledger) RecordFill(ctx context.Context, symbol, side string, realizedPnL float64, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO fills (symbol, side, realized_pnl, occurred_at, day) VALUES (?, ?, ?, ?, ?)`,
		symbol, side, realizedPnL, at.Unix(), at.UTC().Format("2006-01-02"))
	return err
}

// DailyRealizedPnL sums realized PnL across fills recorded for the given
// UTC day, feeding the `daily_pnl > −daily_dd_limit` risk gate.
func (l *Ledger) DailyRealizedPnL(ctx context.Context, day string) (float64, error) {
	var sum sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `SELECT SUM(realized_pnl) FROM fills WHERE day = ?`, day).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Float64, nil
}

// IncrementDailyTrades increments today's (UTC) trade counter and returns
// the new count.
func (l *Ledger) IncrementDailyTrades(ctx context.Context, day string) (int, error) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO daily_counters (day, trades) VALUES (?, 1)
		 ON CONFLICT(day) DO UPDATE SET trades = trades + 1`, day)
	if err != nil {
		return 0, err
	}
	var n int
	err = l.db.QueryRowContext(ctx, `SELECT trades FROM daily_counters WHERE day = ?`, day).Scan(&n)
	return n, err
}

// DailyTrades reports today's (UTC) trade count without incrementing it.
func (l *Ledger) DailyTrades(ctx context.Context, day string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT trades FROM daily_counters WHERE day = ?`, day).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// RecentLosingStreak counts consecutive losses (realized_pnl < 0) in the
// most recent fills, most-recent-first, stopping at the first fill with
// realized_pnl >= 0.
func (l *Ledger) RecentLosingStreak(ctx context.Context, lookback int) (int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT realized_pnl FROM fills ORDER BY id DESC LIMIT ?`, lookback)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return streak, err
		}
		if pnl >= 0 {
			break
		}
		streak++
	}
	return streak, rows.Err()
}
