// Package us gathers US equity daily bars from Alpaca and imports reference
// data (groups, market caps, earnings) from CSV files.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"spotter/internal/domain"
	"spotter/internal/gather"
	"spotter/internal/metrics"
	"spotter/internal/store"
	"spotter/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarSource fetches daily bars for many symbols in one call.
// *marketdata.Client satisfies it.
type BarSource interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DailyBarConfig controls a gathering pass.
type DailyBarConfig struct {
	StartDate       string   // first day fetched for a symbol not yet stored
	Symbols         []string // empty = discover every 1-4 letter symbol
	BatchSize       int      // symbols per API call
	MaxWorkers      int
	RateLimitPerMin int
	ProgressDir     string // where .tried-empty and .last-completed live
	Feed            string // "sip" unless set
}

// DailyBarGatherer fetches daily OHLCV bars for US equities via the Alpaca
// market-data API and merges them into the bar store. Symbols already
// stored are fetched from the day after the last finished pass; new
// symbols from StartDate.
type DailyBarGatherer struct {
	client  BarSource
	store   store.BarStore
	endDay  func(ctx context.Context) (time.Time, error)
	cfg     DailyBarConfig
	limiter *util.RateLimiter
	metrics *metrics.Recorder
	log     *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer. endDay returns the last
// day to fetch, normally LatestFinishedTradingDay. rec may be nil.
func NewDailyBarGatherer(client BarSource, s store.BarStore, endDay func(ctx context.Context) (time.Time, error), cfg DailyBarConfig, rec *metrics.Recorder) *DailyBarGatherer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 200
	}
	if cfg.Feed == "" {
		cfg.Feed = "sip"
	}
	return &DailyBarGatherer{
		client:  client,
		store:   s,
		endDay:  endDay,
		cfg:     cfg,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		metrics: rec,
		log:     slog.Default().With("gatherer", "us-daily"),
	}
}

// NewMarketDataClient returns an Alpaca market-data client.
func NewMarketDataClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run performs one gathering pass up to the latest finished trading day.
// A pass that already completed for that day is a no-op. Failed batches
// are logged and the pass is left incomplete for the next run.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	defer g.metrics.ObserveSince("gather", time.Now())

	start, err := time.Parse("2006-01-02", g.cfg.StartDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.cfg.StartDate, err)
	}
	end, err := g.endDay(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}

	tracker, err := newProgressTracker(g.cfg.ProgressDir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	last := tracker.LastCompleted()
	if last.Equal(end) {
		g.log.Info("already completed", "end", end.Format("2006-01-02"))
		return nil
	}
	if !last.IsZero() {
		// Empty symbols of an earlier day may have listed since.
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	existing, err := g.store.ListSymbols(ctx, domain.MarketUS)
	if err != nil {
		return fmt.Errorf("listing existing symbols: %w", err)
	}
	stored := make(map[string]struct{}, len(existing))
	for _, sym := range existing {
		stored[sym] = struct{}{}
	}

	symbols := g.cfg.Symbols
	if len(symbols) == 0 {
		symbols = GenerateBruteSymbols()
	}

	// Stored symbols only need the days since the last pass.
	update := gather.DateRange{Start: start, End: end}
	if !last.IsZero() && last.AddDate(0, 0, 1).After(start) {
		update.Start = last.AddDate(0, 0, 1)
	}
	full := gather.DateRange{Start: start, End: end}

	var fresh, known []string
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if _, ok := stored[sym]; ok {
			known = append(known, sym)
		} else if !tracker.IsTriedEmpty(sym) {
			fresh = append(fresh, sym)
		}
	}

	type job struct {
		symbols   []string
		window    gather.DateRange
		markEmpty bool
	}
	var jobs []job
	for _, set := range []job{{known, update, false}, {fresh, full, true}} {
		if set.window.Empty() {
			continue
		}
		for i := 0; i < len(set.symbols); i += g.cfg.BatchSize {
			batch := set.symbols[i:min(i+g.cfg.BatchSize, len(set.symbols))]
			jobs = append(jobs, job{batch, set.window, set.markEmpty})
		}
	}

	g.log.Info("starting us-daily",
		"end", end.Format("2006-01-02"),
		"known", len(known),
		"new", len(fresh),
		"batches", len(jobs),
	)

	var (
		hits, empty, failed atomic.Int64
		runStart            = time.Now()
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxWorkers)
	for i, j := range jobs {
		if ectx.Err() != nil {
			break
		}
		eg.Go(func() error {
			h, e, err := g.gatherBatch(ectx, tracker, j.symbols, j.window, j.markEmpty)
			if err != nil {
				if ectx.Err() != nil {
					return nil
				}
				failed.Add(1)
				g.log.Error("batch failed", "batch", fmt.Sprintf("%d/%d", i+1, len(jobs)), "err", err)
				return nil
			}
			hits.Add(int64(h))
			empty.Add(int64(e))
			g.log.Debug("batch done",
				"batch", fmt.Sprintf("%d/%d", i+1, len(jobs)),
				"hits", h,
				"empty", e,
				"elapsed", time.Since(runStart).Round(time.Second),
			)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if failed.Load() > 0 {
		// Leave the day open so the next run retries.
		g.log.Warn("pass incomplete", "failed_batches", failed.Load())
		return fmt.Errorf("%d of %d batches failed", failed.Load(), len(jobs))
	}
	if err := tracker.MarkCompleted(end); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.log.Info("complete",
		"hits", hits.Load(),
		"empty", empty.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// gatherBatch fetches one batch and writes what came back. With markEmpty,
// symbols that returned nothing are skipped for the rest of the day.
func (g *DailyBarGatherer) gatherBatch(ctx context.Context, tracker *progressTracker, symbols []string, window gather.DateRange, markEmpty bool) (hits, misses int, err error) {
	var bars []domain.Bar
	err = util.Retry(ctx, 3, time.Second, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		bars, ferr = g.fetchMultiBars(symbols, window)
		return ferr
	})
	if err != nil {
		return 0, 0, err
	}

	got := make(map[string]struct{})
	for _, b := range bars {
		got[b.Symbol] = struct{}{}
	}
	var none []string
	for _, sym := range symbols {
		if _, ok := got[sym]; ok {
			g.metrics.RecordInstrument("gathered")
		} else {
			none = append(none, sym)
			g.metrics.RecordInstrument("empty")
		}
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, domain.MarketUS, bars); err != nil {
			return 0, 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if markEmpty && len(none) > 0 {
		if err := tracker.MarkEmpty(none); err != nil {
			g.log.Error("marking empty failed", "err", err)
		}
	}
	return len(got), len(none), nil
}

func (g *DailyBarGatherer) fetchMultiBars(symbols []string, window gather.DateRange) ([]domain.Bar, error) {
	multi, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      window.Start,
		End:        window.End.AddDate(0, 0, 1),
		Adjustment: marketdata.All,
		Feed:       marketdata.Feed(g.cfg.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, abs := range multi {
		for _, ab := range abs {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
