package scan

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"spotter/internal/domain"
	"spotter/internal/metrics"
	"spotter/internal/store"
	"spotter/internal/strategy"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testParams() strategy.Params {
	return strategy.Params{
		VolumeAvgDays:   10,
		VolumeRatioMin:  2.0,
		ConsolMinDays:   10,
		ConsolMaxDays:   20,
		MaxDropPct:      50,
		RiseMinPct:      100,
		StopLossPct:     7,
		TrailingStopPct: 15,
		StartDate:       "2024-01-01",
	}
}

// breakoutCloses rises to a 20 peak at index 5, consolidates between 16
// and 19 and breaks out at 21 on index 21, the last bar.
func breakoutCloses() []float64 {
	c := []float64{10, 12, 14, 16, 18, 20}
	c = append(c, 18, 17, 19, 16, 18, 17, 19, 18, 16, 17, 19, 18, 17, 16, 18)
	return append(c, 21)
}

func makeBars(symbol string, closes []float64, volumes map[int]int64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		vol := int64(1000)
		if v, ok := volumes[i]; ok {
			vol = v
		}
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: testStart.AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c,
			Volume: vol,
		}
	}
	return bars
}

func flat(symbol string, n int, c float64) []domain.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = c
	}
	return makeBars(symbol, closes, nil)
}

type fakeLoader struct {
	universe map[string][]domain.Bar
	opts     store.UniverseOptions
	err      error
}

func (f *fakeLoader) LoadUniverse(_ context.Context, _ domain.Market, opts store.UniverseOptions) (map[string][]domain.Bar, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]domain.Bar, len(f.universe))
	for sym, bars := range f.universe {
		for _, b := range bars {
			if b.Timestamp.Before(opts.Start) || (!opts.End.IsZero() && b.Timestamp.After(opts.End)) {
				continue
			}
			out[sym] = append(out[sym], b)
		}
	}
	return out, nil
}

type fakeSaver struct {
	date time.Time
	rows []store.SignalRow
}

func (f *fakeSaver) SaveSignals(_ context.Context, scanDate time.Time, rows []store.SignalRow) error {
	f.date, f.rows = scanDate, rows
	return nil
}

func TestScore(t *testing.T) {
	strong, weak := 12.0, -1.0
	tests := []struct {
		name     string
		sig      domain.Signal
		rangePct float64
		strength *float64
		want     int
	}{
		{"best case", domain.Signal{VolumeRatio: 3.5, RisePct: 72, ConsolidationDays: 20}, 4, &strong, 100},
		{"unknown group", domain.Signal{VolumeRatio: 2, RisePct: 95, ConsolidationDays: 12}, 6.5, nil, 20 + 12 + 15 + 20},
		{"weak group", domain.Signal{VolumeRatio: 1.2, RisePct: 150, ConsolidationDays: 10}, 9, &weak, 10 + 0 + 10 + 15},
		{"loose base", domain.Signal{VolumeRatio: 0.5, RisePct: 55, ConsolidationDays: 30}, 25, nil, 5 + 12 + 20 + 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.sig, tt.rangePct, tt.strength); got != tt.want {
				t.Errorf("Score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConsolidationRangePct(t *testing.T) {
	bars := makeBars("X", breakoutCloses(), nil)
	sig := domain.Signal{PeakPrice: 20, ConsolidationDays: 16}
	if got := ConsolidationRangePct(bars, 21, sig); math.Abs(got-25) > 1e-9 {
		t.Errorf("ConsolidationRangePct = %v, want 25", got)
	}
	if got := ConsolidationRangePct(bars, 21, domain.Signal{PeakPrice: 20}); got != 100 {
		t.Errorf("ConsolidationRangePct(empty window) = %v, want 100", got)
	}
}

func TestGroupStrength(t *testing.T) {
	universe := map[string][]domain.Bar{
		"UP":   makeBars("UP", []float64{10, 10, 10, 11, 12}, nil),
		"FLAT": flat("FLAT", 5, 10),
		"SPY":  makeBars("SPY", []float64{100, 100, 100, 101, 105}, nil),
		"NEW":  flat("NEW", 2, 10),
	}
	groups := map[string]string{"UP": "TECH", "FLAT": "TECH", "NEW": "BIO"}

	got := GroupStrength(universe, groups, "SPY", 3)
	// TECH: (20% + 0%) / 2 - 5% benchmark.
	if math.Abs(got["TECH"]-5) > 1e-9 {
		t.Errorf("TECH strength = %v, want 5", got["TECH"])
	}
	if _, ok := got["BIO"]; ok {
		t.Error("BIO has no member with enough history and should be absent")
	}
}

func TestScannerScan(t *testing.T) {
	loader := &fakeLoader{universe: map[string][]domain.Bar{
		"TEST": makeBars("TEST", breakoutCloses(), map[int]int64{21: 3000}),
		"PEER": flat("PEER", 22, 10),
		"SPY":  flat("SPY", 22, 100),
	}}
	saver := &fakeSaver{}
	asOf := testStart.AddDate(0, 0, 21)

	sc, err := NewScanner(loader, saver, testParams(), Config{
		LookbackDays: 1,
		Groups:       map[string]string{"TEST": "TECH", "PEER": "TECH"},
		Benchmark:    "SPY",
		Workers:      2,
	}, metrics.New())
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	rows, err := sc.Scan(context.Background(), asOf)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Scan returned %d signals, want 1", len(rows))
	}
	got := rows[0]
	if got.Symbol != "TEST" || got.EntryPrice != 21 || got.ConsolidationDays != 16 {
		t.Errorf("signal = %+v", got.Signal)
	}
	// volume 25, TECH strength (75% + 0%) / 2 = 37.5 -> 25, rise 100 -> 15,
	// range 25% -> 10.
	if got.Score != 75 {
		t.Errorf("Score = %v, want 75", got.Score)
	}
	if !saver.date.Equal(asOf) || len(saver.rows) != 1 {
		t.Errorf("saved %d rows for %v", len(saver.rows), saver.date)
	}
	// An unbounded prior-rise search loads every stored bar.
	if !loader.opts.End.Equal(asOf) || !loader.opts.Start.IsZero() {
		t.Errorf("load window = %v to %v, want all history to %v", loader.opts.Start, loader.opts.End, asOf)
	}
	if loader.opts.Enrich {
		t.Error("enrichment requested without a trend template")
	}
}

func TestScannerLookbackAndOrdering(t *testing.T) {
	closes := breakoutCloses()
	late := append(append([]float64(nil), closes...), 21.1, 21.2)
	loader := &fakeLoader{universe: map[string][]domain.Bar{
		"BBB": makeBars("BBB", closes, map[int]int64{21: 3000}),
		"AAA": makeBars("AAA", closes, map[int]int64{21: 3000}),
		"OLD": makeBars("OLD", late, map[int]int64{21: 3000}),
	}}
	sc, err := NewScanner(loader, nil, testParams(), Config{LookbackDays: 1}, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	rows, err := sc.Scan(context.Background(), testStart.AddDate(0, 0, 23))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	// OLD broke out two bars before its last bar: outside a one-bar lookback.
	if len(rows) != 2 || rows[0].Symbol != "AAA" || rows[1].Symbol != "BBB" {
		t.Errorf("rows = %+v, want AAA then BBB", rows)
	}

	sc, _ = NewScanner(loader, nil, testParams(), Config{LookbackDays: 5}, nil)
	rows, err = sc.Scan(context.Background(), testStart.AddDate(0, 0, 23))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("Scan with lookback 5 returned %d signals, want 3", len(rows))
	}
}

func TestScannerErrors(t *testing.T) {
	p := testParams()
	p.StopLossPct = 150
	if _, err := NewScanner(&fakeLoader{}, nil, p, Config{}, nil); !errors.Is(err, strategy.ErrInvalidParams) {
		t.Errorf("NewScanner(bad params) err = %v, want %v", err, strategy.ErrInvalidParams)
	}

	boom := errors.New("disk gone")
	sc, err := NewScanner(&fakeLoader{err: boom}, nil, testParams(), Config{}, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	if _, err := sc.Scan(context.Background(), testStart); !errors.Is(err, boom) {
		t.Errorf("Scan err = %v, want %v", err, boom)
	}
}

// distantLowBars has its only deep low on the first bar, 400 flat bars at
// 10, a peak of 11, 15 bars back at 10 and a breakout to 12 on 5x volume.
// The rise into the peak clears 100% only when measured from that first
// bar.
func distantLowBars() []domain.Bar {
	closes := []float64{5}
	for len(closes) < 401 {
		closes = append(closes, 10)
	}
	closes = append(closes, 11)
	for len(closes) < 417 {
		closes = append(closes, 10)
	}
	closes = append(closes, 12)
	return makeBars("DEEP", closes, map[int]int64{417: 5000})
}

func TestScannerUnboundedRiseUsesFullHistory(t *testing.T) {
	bars := distantLowBars()
	last := len(bars) - 1
	if _, ok := strategy.Detect(bars, last, testParams()); !ok {
		t.Fatal("Detect over the full series should signal")
	}

	loader := &fakeLoader{universe: map[string][]domain.Bar{"DEEP": bars}}
	sc, err := NewScanner(loader, nil, testParams(), Config{LookbackDays: 1}, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	rows, err := sc.Scan(context.Background(), bars[last].Timestamp)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 1 || math.Abs(rows[0].RisePct-120) > 1e-9 {
		t.Errorf("rows = %+v, want one signal with a 120%% rise", rows)
	}
}

func TestScannerBoundedRiseWindow(t *testing.T) {
	p := testParams()
	p.RiseLookbackDays = 30
	bars := distantLowBars()
	last := len(bars) - 1

	loader := &fakeLoader{universe: map[string][]domain.Bar{"DEEP": bars}}
	sc, err := NewScanner(loader, nil, p, Config{LookbackDays: 1}, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	rows, err := sc.Scan(context.Background(), bars[last].Timestamp)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if loader.opts.Start.IsZero() {
		t.Fatal("bounded lookback should not load all history")
	}
	// The rise window reaches 30 bars behind the peak at index 401.
	if need := bars[401-30].Timestamp; loader.opts.Start.After(need) {
		t.Errorf("load start %v is after %v", loader.opts.Start, need)
	}
	// The backtester sees no 100% rise inside 30 bars either.
	if _, ok := strategy.Detect(bars, last, p); ok || len(rows) != 0 {
		t.Errorf("rows = %+v, want none with a 30-bar rise window", rows)
	}
}

func TestScannerKeepsNewestSignal(t *testing.T) {
	// A second base of 12 bars at 20 under the 21 breakout, then 22 on
	// triple volume at index 34.
	closes := breakoutCloses()
	for len(closes) < 34 {
		closes = append(closes, 20)
	}
	closes = append(closes, 22)
	bars := makeBars("TWO", closes, map[int]int64{21: 3000, 34: 3000})

	loader := &fakeLoader{universe: map[string][]domain.Bar{"TWO": bars}}
	sc, err := NewScanner(loader, nil, testParams(), Config{LookbackDays: 20}, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	rows, err := sc.Scan(context.Background(), bars[34].Timestamp)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Scan returned %d signals, want 1", len(rows))
	}
	if !rows[0].Date.Equal(bars[34].Timestamp) || rows[0].EntryPrice != 22 {
		t.Errorf("signal = %+v, want the index 34 breakout", rows[0].Signal)
	}
}
