// Package engine runs the group rotation portfolio: every day it ranks
// groups by how many of their instruments show strong relative strength,
// holds the leaders of the top groups, and rebalances only when the ranking
// of the top groups changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"spotter/internal/domain"
	"spotter/internal/metrics"
)

// ErrNoEligible is returned when no instrument has both a group and enough
// history after the start date.
var ErrNoEligible = errors.New("no eligible instruments")

// Rotation records one change of the ordered top-group list.
type Rotation struct {
	Date     time.Time
	Previous []string
	Current  []string
}

// RotationResult holds everything a rotation run produced.
type RotationResult struct {
	Params      RotationParams
	Eligible    int
	Trades      []RotationTrade
	Rotations   []Rotation
	DailyValues []DailyValue
	Performance Performance
}

// Engine runs rotation backtests.
type Engine struct {
	metrics *metrics.Recorder
	log     *slog.Logger
}

// NewEngine creates an Engine. rec may be nil.
func NewEngine(rec *metrics.Recorder) *Engine {
	return &Engine{
		metrics: rec,
		log:     slog.Default().With("component", "rotation"),
	}
}

// instrument is an eligible series with its walk pointer.
type instrument struct {
	symbol string
	group  string
	bars   []domain.Bar
	ptr    int
}

// candidate is an instrument active on the current date.
type candidate struct {
	symbol string
	group  string
	rs     int
	close  float64
}

type groupScore struct {
	name  string
	count int
	rsSum int
}

// Run simulates the rotation over universe. classification maps symbols to
// group names; instruments without a group are ignored.
func (e *Engine) Run(ctx context.Context, universe map[string][]domain.Bar, classification map[string]string, p RotationParams) (*RotationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	defer e.metrics.ObserveSince("rotation", time.Now())

	eligible := e.eligible(universe, classification, p)
	if len(eligible) == 0 {
		return nil, ErrNoEligible
	}
	dates := unionDates(eligible)

	e.log.Info("rotation starting",
		"eligible", len(eligible),
		"dates", len(dates),
		"alloc", p.AllocString(),
		"rs_period", p.RSPeriod,
		"threshold", p.Threshold,
	)

	res := &RotationResult{
		Params:      p,
		Eligible:    len(eligible),
		DailyValues: make([]DailyValue, 0, len(dates)),
	}
	pf := newPortfolio(p.InitialCapital)
	risk := NewRiskManager(p.MaxPositions())
	var current []string

	for di, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rotation cancelled at %s: %w", date.Format("2006-01-02"), err)
		}

		active := e.step(eligible, date, pf, p)
		if len(active) > 0 {
			ranked, byGroup := rankGroups(active, p.Slots())
			if !slices.Equal(ranked, current) {
				before := pf.value()
				closed := pf.liquidate(date, di, domain.ExitRebalance)
				res.Trades = append(res.Trades, closed...)
				for _, t := range closed {
					e.metrics.RecordTrade(string(t.ExitReason))
				}

				res.Rotations = append(res.Rotations, Rotation{
					Date:     date,
					Previous: slices.Clone(current),
					Current:  slices.Clone(ranked),
				})
				e.metrics.RecordRotation()
				e.log.Info("rotation",
					"date", date.Format("2006-01-02"),
					"from", current,
					"to", ranked,
				)

				n := pf.open(buyPlan(ranked, byGroup, p.Alloc), date, di)
				if err := risk.CheckRebalance(before, pf.value(), n); err != nil {
					return nil, fmt.Errorf("rebalance on %s: %w", date.Format("2006-01-02"), err)
				}
				current = ranked
			}
		}

		v := pf.value()
		res.DailyValues = append(res.DailyValues, DailyValue{Date: date, Value: v})
		e.metrics.RecordPortfolioValue(v)
	}

	last := len(dates) - 1
	closed := pf.liquidate(dates[last], last, domain.ExitOpen)
	res.Trades = append(res.Trades, closed...)
	for _, t := range closed {
		e.metrics.RecordTrade(string(t.ExitReason))
	}

	final := pf.value()
	res.Performance = Performance{
		InitialCapital: p.InitialCapital,
		FinalValue:     final,
		TotalReturnPct: totalReturnPct(p.InitialCapital, final),
		CAGRPct:        cagrPct(p.InitialCapital, final, dates[0], dates[last]),
		MaxDrawdownPct: maxDrawdownPct(res.DailyValues),
		Years:          yearsBetween(dates[0], dates[last]),
		Rotations:      len(res.Rotations),
	}

	e.log.Info("rotation complete",
		"final_value", final,
		"total_return_pct", res.Performance.TotalReturnPct,
		"rotations", len(res.Rotations),
		"trades", len(res.Trades),
	)
	return res, nil
}

// eligible returns the grouped instruments with usable history, sorted by
// symbol.
func (e *Engine) eligible(universe map[string][]domain.Bar, classification map[string]string, p RotationParams) []*instrument {
	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var out []*instrument
	for _, sym := range symbols {
		group := classification[sym]
		if group == "" {
			continue
		}
		bars := universe[sym]
		if !ordered(bars) {
			e.log.Error("skipping instrument", "symbol", sym, "error", "bars not strictly increasing by date")
			continue
		}
		start := startIndex(bars, p)
		if start >= len(bars)-1 {
			continue
		}
		out = append(out, &instrument{symbol: sym, group: group, bars: bars, ptr: start})
	}
	return out
}

// step advances every pointer to date, marks held positions, and returns
// the instruments whose RS on date meets the threshold.
func (e *Engine) step(eligible []*instrument, date time.Time, pf *portfolio, p RotationParams) []candidate {
	var active []candidate
	for _, in := range eligible {
		for in.ptr < len(in.bars) && in.bars[in.ptr].Timestamp.Before(date) {
			in.ptr++
		}
		if in.ptr >= len(in.bars) || !in.bars[in.ptr].Timestamp.Equal(date) {
			continue
		}
		b := in.bars[in.ptr]
		pf.mark(in.symbol, b.Close)

		rs, ok := b.RS(p.RSPeriod)
		if !ok || rs < p.Threshold || b.Close <= 0 {
			continue
		}
		active = append(active, candidate{symbol: in.symbol, group: in.group, rs: rs, close: b.Close})
	}
	return active
}

// rankGroups orders groups by active count, then RS sum, then name, and
// keeps the first k. It also returns the active instruments per group.
func rankGroups(active []candidate, k int) ([]string, map[string][]candidate) {
	byGroup := make(map[string][]candidate)
	scores := make(map[string]*groupScore)
	for _, c := range active {
		byGroup[c.group] = append(byGroup[c.group], c)
		s, ok := scores[c.group]
		if !ok {
			s = &groupScore{name: c.group}
			scores[c.group] = s
		}
		s.count++
		s.rsSum += c.rs
	}

	ranked := make([]*groupScore, 0, len(scores))
	for _, s := range scores {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.count != b.count {
			return a.count > b.count
		}
		if a.rsSum != b.rsSum {
			return a.rsSum > b.rsSum
		}
		return a.name < b.name
	})

	names := make([]string, 0, min(k, len(ranked)))
	for _, s := range ranked[:min(k, len(ranked))] {
		names = append(names, s.name)
	}
	return names, byGroup
}

// buyPlan picks alloc[i] instruments from the i-th ranked group by RS
// descending, ties by symbol.
func buyPlan(ranked []string, byGroup map[string][]candidate, alloc []int) []order {
	var orders []order
	for slot, group := range ranked {
		cands := slices.Clone(byGroup[group])
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].rs != cands[j].rs {
				return cands[i].rs > cands[j].rs
			}
			return cands[i].symbol < cands[j].symbol
		})
		for _, c := range cands[:min(alloc[slot], len(cands))] {
			orders = append(orders, order{symbol: c.symbol, group: group, rankSlot: slot + 1, price: c.close})
		}
	}
	return orders
}

// startIndex is the first bar on or after the start date, but never below
// MinHistory.
func startIndex(bars []domain.Bar, p RotationParams) int {
	start := p.Start()
	idx := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(start)
	})
	return max(idx, p.MinHistory)
}

func unionDates(eligible []*instrument) []time.Time {
	seen := make(map[int64]time.Time)
	for _, in := range eligible {
		for _, b := range in.bars[in.ptr:] {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		dates = append(dates, t)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func ordered(bars []domain.Bar) bool {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return false
		}
	}
	return true
}
