// Package store persists bars and run output. Bars, trade logs and equity
// curves live in Parquet files; runs, signals and reference data (market
// caps, earnings, group classification) live in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spotter/internal/domain"
	"spotter/internal/engine"
	"spotter/internal/pit"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves daily OHLCV bars.
type BarStore interface {
	// WriteBars merges bars into storage under market.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], ordered by date.
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all symbols with bar data in market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// ResultStore records backtest, rotation and scan output.
type ResultStore interface {
	SaveRun(ctx context.Context, run *Run) (int64, error)
	SaveTrades(ctx context.Context, runID int64, trades []TradeRow) error
	SaveRotations(ctx context.Context, runID int64, rotations []engine.Rotation) error
	SaveDailyValues(ctx context.Context, runID int64, values []engine.DailyValue) error
	SaveSignals(ctx context.Context, scanDate time.Time, signals []SignalRow) error
}

// ReferenceStore serves point-in-time reference data.
type ReferenceStore interface {
	LoadMarketCaps(ctx context.Context, symbols []string) (map[string]pit.Series, error)
	LoadEarnings(ctx context.Context, symbols []string) (map[string][]pit.Earnings, error)
	LoadGroups(ctx context.Context) (map[string]string, error)
}

// Run kinds.
const (
	RunBacktest = "backtest"
	RunRotation = "rotation"
)

// Run describes one backtest or rotation run.
type Run struct {
	ID        int64
	Kind      string
	Preset    string
	Params    string // JSON
	Summary   string // JSON
	StartedAt time.Time
	Duration  time.Duration
}

// TradeRow is a trade as stored: backtest trades leave Group empty and
// RankSlot zero.
type TradeRow struct {
	domain.Trade
	Group    string
	RankSlot int
}

// BacktestRows converts backtest trades.
func BacktestRows(trades []domain.Trade) []TradeRow {
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = TradeRow{Trade: t}
	}
	return rows
}

// RotationRows converts rotation trades.
func RotationRows(trades []engine.RotationTrade) []TradeRow {
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = TradeRow{Trade: t.Trade, Group: t.Group, RankSlot: t.RankSlot}
	}
	return rows
}

// SignalRow is a scored breakout signal.
type SignalRow struct {
	domain.Signal
	Score float64
}

// MarketCapRow is one market-cap observation.
type MarketCapRow struct {
	Symbol string
	Date   time.Time
	Value  float64
}

// EarningsRow is one quarterly report for a symbol.
type EarningsRow struct {
	Symbol string
	pit.Earnings
}

// GroupRow assigns a symbol to a group.
type GroupRow struct {
	Symbol string
	Group  string
}

// RowError is one rejected input row.
type RowError struct {
	Index int
	Key   string
	Err   error
}

// BatchError reports rows that were skipped while the rest of the batch
// was written. Connectivity and schema failures are never reported this
// way; they abort the batch and are returned directly.
type BatchError struct {
	Written int
	Rows    []RowError
}

func (e *BatchError) Error() string {
	if len(e.Rows) == 0 {
		return "batch: no rejected rows"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows rejected (%d written)", len(e.Rows), e.Written)
	for i, r := range e.Rows {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; row %d %s: %v", r.Index, r.Key, r.Err)
	}
	return b.String()
}

// batchResult returns nil when nothing was rejected.
func batchResult(written int, rejected []RowError) error {
	if len(rejected) == 0 {
		return nil
	}
	return &BatchError{Written: written, Rows: rejected}
}
