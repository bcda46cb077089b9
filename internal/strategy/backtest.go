package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"spotter/internal/domain"
	"spotter/internal/metrics"
)

var (
	errEmptySeries = errors.New("empty price series")
	errUnordered   = errors.New("bars not strictly increasing by date")
)

// BacktestResult holds the trades and bookkeeping of one backtest run.
type BacktestResult struct {
	Trades      []domain.Trade
	Instruments int
	Simulated   int
	Skipped     int // too little history after the start date
	Failed      int // bad series or a panic while simulating
	Stats       TradeStats
}

// Backtester fans the simulator out over a universe of instruments.
type Backtester struct {
	metrics *metrics.Recorder
	log     *slog.Logger
}

// NewBacktester creates a Backtester. rec may be nil.
func NewBacktester(rec *metrics.Recorder) *Backtester {
	return &Backtester{
		metrics: rec,
		log:     slog.Default().With("component", "backtester"),
	}
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeSimulated
	outcomeSkipped
	outcomeFailed
)

// Run validates p and simulates every instrument in universe on a bounded
// worker set. Instruments share nothing: each worker writes only its own
// result slot, and a failing instrument is logged and skipped. Trades are
// returned in symbol order so the output does not depend on scheduling.
//
// If ctx is cancelled, Run stops scheduling, waits for in-flight
// instruments and returns what completed together with ctx.Err().
func (bt *Backtester) Run(ctx context.Context, universe map[string][]domain.Bar, p Params) (*BacktestResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	defer bt.metrics.ObserveSince("backtest", time.Now())

	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	trades := make([][]domain.Trade, len(symbols))
	outcomes := make([]outcome, len(symbols))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out, res, err := bt.simulateOne(sym, universe[sym], p)
			if err != nil {
				bt.log.Error("instrument failed", "symbol", sym, "err", err)
			}
			trades[i], outcomes[i] = res, out
			return nil
		})
	}
	_ = g.Wait()

	result := &BacktestResult{Instruments: len(symbols)}
	for i := range symbols {
		switch outcomes[i] {
		case outcomeSimulated:
			result.Simulated++
			bt.metrics.RecordInstrument(metrics.OutcomeSimulated)
		case outcomeSkipped:
			result.Skipped++
			bt.metrics.RecordInstrument(metrics.OutcomeSkipped)
		case outcomeFailed:
			result.Failed++
			bt.metrics.RecordInstrument(metrics.OutcomeFailed)
		}
		for _, t := range trades[i] {
			bt.metrics.RecordTrade(string(t.ExitReason))
		}
		result.Trades = append(result.Trades, trades[i]...)
	}
	result.Stats = Summarize(result.Trades)

	bt.log.Info("backtest complete",
		"instruments", result.Instruments,
		"simulated", result.Simulated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"trades", len(result.Trades),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// simulateOne runs one instrument, converting a panic into an error so it
// cannot take down the run.
func (bt *Backtester) simulateOne(sym string, bars []domain.Bar, p Params) (out outcome, trades []domain.Trade, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, trades, err = outcomeFailed, nil, fmt.Errorf("panic: %v", r)
		}
	}()

	if len(bars) == 0 {
		return outcomeFailed, nil, errEmptySeries
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return outcomeFailed, nil, fmt.Errorf("%w at index %d", errUnordered, i)
		}
	}

	start := StartIndex(bars, p)
	if start >= len(bars)-1 {
		bt.log.Debug("insufficient history", "symbol", sym, "bars", len(bars), "start", start)
		return outcomeSkipped, nil, nil
	}

	trades = Simulate(bars, start, p)
	for i := range trades {
		trades[i].Symbol = sym
	}
	return outcomeSimulated, trades, nil
}

// StartIndex is the first bar on or after the configured start date, but
// never earlier than the history the detector needs.
func StartIndex(bars []domain.Bar, p Params) int {
	start := p.Start()
	idx := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(start)
	})
	return max(idx, p.MinHistory())
}
