package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"spotter/internal/domain"
	"spotter/internal/engine"
	"spotter/internal/indicators"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore keeps bars and run artifacts as Parquet files on disk.
type ParquetStore struct {
	DataDir string
	log     *slog.Logger
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{
		DataDir: dataDir,
		log:     slog.Default().With("component", "parquet"),
	}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// TradeLogRecord is the Parquet schema for a run's trade log.
type TradeLogRecord struct {
	Symbol     string  `parquet:"symbol"`
	Group      string  `parquet:"group"`
	RankSlot   int32   `parquet:"rank_slot"`
	EntryDate  int64   `parquet:"entry_date,timestamp(millisecond)"`
	EntryPrice float64 `parquet:"entry_price"`
	ExitDate   int64   `parquet:"exit_date,timestamp(millisecond)"`
	ExitPrice  float64 `parquet:"exit_price"`
	ExitReason string  `parquet:"exit_reason"`
	HoldDays   int32   `parquet:"hold_days"`
	PeakPrice  float64 `parquet:"peak_price"`
	ReturnPct  float64 `parquet:"return_pct"`
}

// EquityRecord is the Parquet schema for a daily equity curve.
type EquityRecord struct {
	Date  int64   `parquet:"date,timestamp(millisecond)"`
	Value float64 `parquet:"value"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files organized by symbol and year,
// merging with what is already on disk:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, market domain.Market, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], toBarRecord(b))
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads the bars of symbol within [start, end]. A zero end means
// no upper bound. Missing year files are skipped.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error) {
	first, last, err := s.yearRange(symbol, market)
	if err != nil {
		return nil, err
	}
	if !start.IsZero() {
		first = max(first, start.Year())
	}
	if !end.IsZero() {
		last = min(last, end.Year())
	}

	var bars []domain.Bar
	for year := first; year <= last; year++ {
		path := s.barPath(symbol, market, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || (!end.IsZero() && ts.After(end)) {
				continue
			}
			bars = append(bars, fromBarRecord(r))
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market domain.Market) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(market), "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// UniverseOptions selects what LoadUniverse reads.
type UniverseOptions struct {
	Symbols []string  // empty = every symbol in the market
	Start   time.Time // zero = from the first bar
	End     time.Time // zero = to the last bar
	Enrich  bool      // compute moving averages and RS percentiles
	Workers int       // 0 = one per CPU
}

// LoadUniverse reads many symbols concurrently. A symbol that fails to read
// is logged and left out; symbols without bars are omitted. With Enrich set
// the bars carry MA50/150/200 and RS percentiles ranked across the loaded
// universe.
func (s *ParquetStore) LoadUniverse(ctx context.Context, market domain.Market, opts UniverseOptions) (map[string][]domain.Bar, error) {
	symbols := opts.Symbols
	if len(symbols) == 0 {
		var err error
		if symbols, err = s.ListSymbols(ctx, market); err != nil {
			return nil, fmt.Errorf("listing symbols: %w", err)
		}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		mu       sync.Mutex
		universe = make(map[string][]domain.Bar, len(symbols))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, sym := range symbols {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			bars, err := s.ReadBars(gctx, sym, market, opts.Start, opts.End)
			if err != nil {
				s.log.Error("reading bars", "symbol", sym, "error", err)
				return nil
			}
			if len(bars) == 0 {
				return nil
			}
			if opts.Enrich {
				indicators.EnrichMovingAverages(bars)
			}
			mu.Lock()
			universe[sym] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Enrich {
		indicators.EnrichRS(universe)
	}
	s.log.Info("universe loaded", "market", market, "requested", len(symbols), "loaded", len(universe))
	return universe, nil
}

// ---------------------------------------------------------------------------
// Run artifacts
// ---------------------------------------------------------------------------

// WriteTradeLog writes trades to <DataDir>/results/<name>_trades.parquet
// and returns the path.
func (s *ParquetStore) WriteTradeLog(name string, trades []TradeRow) (string, error) {
	records := make([]TradeLogRecord, len(trades))
	for i, t := range trades {
		records[i] = TradeLogRecord{
			Symbol:     t.Symbol,
			Group:      t.Group,
			RankSlot:   int32(t.RankSlot),
			EntryDate:  t.EntryDate.UnixMilli(),
			EntryPrice: t.EntryPrice,
			ExitDate:   t.ExitDate.UnixMilli(),
			ExitPrice:  t.ExitPrice,
			ExitReason: string(t.ExitReason),
			HoldDays:   int32(t.HoldDays),
			PeakPrice:  t.PeakPrice,
			ReturnPct:  t.ReturnPct(),
		}
	}
	path := s.resultPath(name + "_trades")
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("writing trade log: %w", err)
	}
	return path, nil
}

// WriteEquityCurve writes daily values to
// <DataDir>/results/<name>_equity.parquet and returns the path.
func (s *ParquetStore) WriteEquityCurve(name string, values []engine.DailyValue) (string, error) {
	records := make([]EquityRecord, len(values))
	for i, v := range values {
		records[i] = EquityRecord{Date: v.Date.UnixMilli(), Value: v.Value}
	}
	path := s.resultPath(name + "_equity")
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("writing equity curve: %w", err)
	}
	return path, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, market domain.Market, year int) string {
	return filepath.Join(s.DataDir, string(market), "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func (s *ParquetStore) resultPath(name string) string {
	return filepath.Join(s.DataDir, "results", name+".parquet")
}

// yearRange returns the first and last year files present for symbol.
func (s *ParquetStore) yearRange(symbol string, market domain.Market) (int, int, error) {
	dir := filepath.Dir(s.barPath(symbol, market, 0))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, -1, nil
		}
		return 0, -1, err
	}
	first, last := 0, -1
	for _, e := range entries {
		var year int
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &year); err != nil {
			continue
		}
		if last < first || year < first {
			first = year
		}
		last = max(last, year)
	}
	return first, last, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func toBarRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     b.Symbol,
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func fromBarRecord(r BarRecord) domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
