// Package scan runs the breakout detector over the most recent bars of a
// universe and stores the scored signals.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"spotter/internal/domain"
	"spotter/internal/metrics"
	"spotter/internal/store"
	"spotter/internal/strategy"
)

// UniverseLoader reads bars for many symbols.
type UniverseLoader interface {
	LoadUniverse(ctx context.Context, market domain.Market, opts store.UniverseOptions) (map[string][]domain.Bar, error)
}

// SignalSaver persists a scan's signals.
type SignalSaver interface {
	SaveSignals(ctx context.Context, scanDate time.Time, signals []store.SignalRow) error
}

// Config controls what a scan looks at.
type Config struct {
	Market       domain.Market
	LookbackDays int      // detect on the last LookbackDays bars, newest signal wins
	Symbols      []string // empty = every stored symbol
	Groups       map[string]string
	Benchmark    string // symbol for group strength, e.g. SPY
	Workers      int
}

// Scanner runs daily breakout scans.
type Scanner struct {
	bars    UniverseLoader
	signals SignalSaver
	params  strategy.Params
	cfg     Config
	metrics *metrics.Recorder
	log     *slog.Logger
}

// NewScanner validates p and returns a Scanner. signals and rec may be nil.
func NewScanner(bars UniverseLoader, signals SignalSaver, p strategy.Params, cfg Config, rec *metrics.Recorder) (*Scanner, error) {
	p = p.Clone()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 1
	}
	if cfg.Market == "" {
		cfg.Market = domain.MarketUS
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Scanner{
		bars:    bars,
		signals: signals,
		params:  p,
		cfg:     cfg,
		metrics: rec,
		log:     slog.Default().With("component", "scanner"),
	}, nil
}

// historyStart is the first date loaded for a scan as of asOf. A prior-rise
// search over all history (RiseLookbackDays 0) needs every stored bar, so
// the start is zero then. Otherwise the span covers the detector, the
// trend template and group strength, with room for weekends and holidays.
func (s *Scanner) historyStart(asOf time.Time) time.Time {
	p := s.params
	if p.BreakoutLookbackDays == 0 && p.RiseLookbackDays == 0 {
		return time.Time{}
	}
	bars := max(p.MinHistory(), DefaultStrengthDays)
	if p.BreakoutLookbackDays == 0 {
		// The rise window sits behind a peak up to ConsolMaxDays back.
		bars = max(bars, p.ConsolMaxDays+p.RiseLookbackDays)
	}
	if tt := p.TrendTemplate; tt != nil {
		bars = max(bars, tt.Week52Days+tt.MA200TrendDays+200)
	}
	bars += s.cfg.LookbackDays
	return asOf.AddDate(0, 0, -(bars*7/5 + 14))
}

// Scan detects breakouts on the last LookbackDays bars of every instrument
// up to asOf, scores them and saves them. Each instrument contributes at
// most its most recent signal. Signals come back best first.
func (s *Scanner) Scan(ctx context.Context, asOf time.Time) ([]store.SignalRow, error) {
	defer s.metrics.ObserveSince("scan", time.Now())

	universe, err := s.bars.LoadUniverse(ctx, s.cfg.Market, store.UniverseOptions{
		Symbols: s.cfg.Symbols,
		Start:   s.historyStart(asOf),
		End:     asOf,
		Enrich:  s.params.TrendTemplate != nil,
		Workers: s.cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("loading universe: %w", err)
	}

	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var strength map[string]float64
	if len(s.cfg.Groups) > 0 {
		strength = GroupStrength(universe, s.cfg.Groups, s.cfg.Benchmark, DefaultStrengthDays)
	}

	found := make([][]store.SignalRow, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, sym := range symbols {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			found[i] = s.scanOne(sym, universe[sym], strength)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []store.SignalRow
	for _, f := range found {
		rows = append(rows, f...)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].Date.Before(rows[j].Date)
	})

	if s.signals != nil {
		if err := s.signals.SaveSignals(ctx, asOf, rows); err != nil {
			return rows, fmt.Errorf("saving signals: %w", err)
		}
	}
	s.metrics.RecordSignals(len(rows))
	s.log.Info("scan complete",
		"as_of", asOf.Format("2006-01-02"),
		"instruments", len(symbols),
		"signals", len(rows),
	)
	return rows, nil
}

// scanOne runs the detector from the newest bar back over the last
// LookbackDays bars and keeps only the most recent signal. A panic is
// logged and yields no signal for that symbol.
func (s *Scanner) scanOne(sym string, bars []domain.Bar, strength map[string]float64) (rows []store.SignalRow) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scanning instrument", "symbol", sym, "panic", r)
			rows = nil
		}
	}()

	var gs *float64
	if group, ok := s.cfg.Groups[sym]; ok {
		if v, ok := strength[group]; ok {
			gs = &v
		}
	}

	for today := len(bars) - 1; today >= max(len(bars)-s.cfg.LookbackDays, 0); today-- {
		sig, ok := strategy.Detect(bars, today, s.params)
		if !ok {
			continue
		}
		sig.Symbol = sym
		score := Score(sig, ConsolidationRangePct(bars, today, sig), gs)
		return []store.SignalRow{{Signal: sig, Score: float64(score)}}
	}
	return nil
}
