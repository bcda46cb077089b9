package engine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"spotter/internal/domain"
	"spotter/internal/metrics"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// series builds daily bars from parallel close and 1m RS slices. A zero
// close leaves the day out.
func series(sym string, closes []float64, rs []int) []domain.Bar {
	var bars []domain.Bar
	for i, c := range closes {
		if c == 0 {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    sym,
			Timestamp: testStart.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
			RS1M:      rs[i],
			RS3M:      rs[i],
			RS6M:      rs[i],
			HasRS:     true,
		})
	}
	return bars
}

// Day 0 is warm-up history; the rotation runs on days 1 to 5.
func scenario() (map[string][]domain.Bar, map[string]string) {
	universe := map[string][]domain.Bar{
		"T1":    series("T1", []float64{10, 10, 12, 8, 11, 0}, []int{0, 90, 90, 90, 90, 10}),
		"T2":    series("T2", []float64{30, 30, 30, 30, 30, 30}, []int{0, 80, 80, 80, 50, 10}),
		"T3":    series("T3", []float64{40, 40, 40, 40, 40, 40}, []int{0, 10, 10, 10, 10, 10}),
		"E1":    series("E1", []float64{20, 20, 20, 20, 22, 22}, []int{0, 75, 75, 75, 75, 10}),
		"E2":    series("E2", []float64{5, 5, 5, 5, 5, 6}, []int{0, 50, 50, 85, 85, 10}),
		"NOGRP": series("NOGRP", []float64{9, 9, 9, 9, 9, 9}, []int{99, 99, 99, 99, 99, 99}),
	}
	groups := map[string]string{
		"T1": "TECH", "T2": "TECH", "T3": "TECH",
		"E1": "ENERGY", "E2": "ENERGY",
	}
	return universe, groups
}

func testParams() RotationParams {
	return RotationParams{
		Alloc:          []int{1, 1},
		RSPeriod:       domain.RS1M,
		Threshold:      70,
		InitialCapital: 1000,
		MinHistory:     1,
		StartDate:      "2024-01-01",
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestEngineRun(t *testing.T) {
	universe, groups := scenario()
	res, err := NewEngine(metrics.New()).Run(context.Background(), universe, groups, testParams())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Eligible != 5 {
		t.Errorf("Eligible = %d, want 5", res.Eligible)
	}

	if len(res.Rotations) != 2 {
		t.Fatalf("len(Rotations) = %d, want 2", len(res.Rotations))
	}
	first, second := res.Rotations[0], res.Rotations[1]
	if len(first.Previous) != 0 || !reflect.DeepEqual(first.Current, []string{"TECH", "ENERGY"}) {
		t.Errorf("first rotation = %+v, want [] -> [TECH ENERGY]", first)
	}
	// Equal counts on day 3 are settled by the RS sum, so only day 4 rotates.
	if !second.Date.Equal(testStart.AddDate(0, 0, 4)) {
		t.Errorf("second rotation date = %v, want day 4", second.Date)
	}
	if !reflect.DeepEqual(second.Current, []string{"ENERGY", "TECH"}) {
		t.Errorf("second rotation = %v, want [ENERGY TECH]", second.Current)
	}

	wantValues := []float64{1000, 1100, 900, 1100, 1210}
	if len(res.DailyValues) != len(wantValues) {
		t.Fatalf("len(DailyValues) = %d, want %d", len(res.DailyValues), len(wantValues))
	}
	for i, want := range wantValues {
		approx(t, "DailyValues["+res.DailyValues[i].Date.Format("01-02")+"]", res.DailyValues[i].Value, want)
	}

	type want struct {
		symbol     string
		group      string
		slot       int
		entry      float64
		exit       float64
		hold       int
		peak       float64
		exitReason domain.ExitReason
	}
	wants := []want{
		{"T1", "TECH", 1, 10, 11, 3, 12, domain.ExitRebalance},
		{"E1", "ENERGY", 2, 20, 22, 3, 22, domain.ExitRebalance},
		{"E2", "ENERGY", 1, 5, 6, 1, 6, domain.ExitOpen},
		{"T1", "TECH", 2, 11, 11, 1, 11, domain.ExitOpen},
	}
	if len(res.Trades) != len(wants) {
		t.Fatalf("len(Trades) = %d, want %d: %+v", len(res.Trades), len(wants), res.Trades)
	}
	for i, w := range wants {
		tr := res.Trades[i]
		got := want{tr.Symbol, tr.Group, tr.RankSlot, tr.EntryPrice, tr.ExitPrice, tr.HoldDays, tr.PeakPrice, tr.ExitReason}
		if got != w {
			t.Errorf("Trades[%d] = %+v, want %+v", i, got, w)
		}
	}
	// T1 has no bar on day 5: the final liquidation uses its stale price.
	if !res.Trades[3].ExitDate.Equal(testStart.AddDate(0, 0, 5)) {
		t.Errorf("final ExitDate = %v, want day 5", res.Trades[3].ExitDate)
	}

	perf := res.Performance
	approx(t, "FinalValue", perf.FinalValue, 1210)
	approx(t, "TotalReturnPct", perf.TotalReturnPct, 21)
	approx(t, "MaxDrawdownPct", perf.MaxDrawdownPct, 200.0/1100*100)
	if perf.Rotations != 2 {
		t.Errorf("Rotations = %d, want 2", perf.Rotations)
	}
}

func TestEngineNoActiveGroupKeepsHoldings(t *testing.T) {
	universe, groups := scenario()
	res, err := NewEngine(nil).Run(context.Background(), universe, groups, testParams())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Day 5 has no instrument at or above the threshold.
	last := res.Rotations[len(res.Rotations)-1]
	if last.Date.Equal(testStart.AddDate(0, 0, 5)) {
		t.Error("a day without active groups triggered a rotation")
	}
	approx(t, "last daily value", res.DailyValues[len(res.DailyValues)-1].Value, 1210)
}

func TestEnginePositionLimitAndSplit(t *testing.T) {
	universe, groups := scenario()
	p := testParams()
	p.Alloc = []int{3, 2}
	res, err := NewEngine(nil).Run(context.Background(), universe, groups, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Day 1: TECH has two active instruments and ENERGY one, so only three
	// positions open, each with a third of the capital.
	opened := map[string]float64{}
	for _, tr := range res.Trades {
		if tr.EntryDate.Equal(testStart.AddDate(0, 0, 1)) {
			opened[tr.Symbol] = tr.EntryPrice
		}
	}
	if len(opened) != 3 {
		t.Fatalf("opened on day 1 = %v, want 3 positions", opened)
	}
	// The day-2 value is 1000/3 per position marked to day-2 closes.
	third := 1000.0 / 3
	want := third/10*12 + third/30*30 + third/20*20
	approx(t, "day 2 value", res.DailyValues[1].Value, want)

	for _, dv := range res.DailyValues {
		if dv.Value <= 0 {
			t.Errorf("non-positive value %v on %v", dv.Value, dv.Date)
		}
	}
}

func TestEngineGroupTieBreaksByName(t *testing.T) {
	universe := map[string][]domain.Bar{
		"A": series("A", []float64{10, 10, 10}, []int{0, 80, 80}),
		"B": series("B", []float64{10, 10, 10}, []int{0, 80, 80}),
	}
	groups := map[string]string{"A": "ZETA", "B": "ALPHA"}
	p := testParams()
	p.Alloc = []int{1}
	res, err := NewEngine(nil).Run(context.Background(), universe, groups, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rotations) != 1 || !reflect.DeepEqual(res.Rotations[0].Current, []string{"ALPHA"}) {
		t.Errorf("Rotations = %+v, want one rotation into ALPHA", res.Rotations)
	}
}

func TestEngineDeterministic(t *testing.T) {
	u1, g1 := scenario()
	u2, g2 := scenario()
	a, err := NewEngine(nil).Run(context.Background(), u1, g1, testParams())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := NewEngine(nil).Run(context.Background(), u2, g2, testParams())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(a.Trades, b.Trades) || !reflect.DeepEqual(a.DailyValues, b.DailyValues) {
		t.Error("Run is not deterministic")
	}
}

func TestEngineErrors(t *testing.T) {
	universe, groups := scenario()

	p := testParams()
	p.Threshold = 150
	if _, err := NewEngine(nil).Run(context.Background(), universe, groups, p); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Run(threshold 150) err = %v, want %v", err, ErrInvalidParams)
	}

	if _, err := NewEngine(nil).Run(context.Background(), universe, nil, testParams()); !errors.Is(err, ErrNoEligible) {
		t.Errorf("Run(no groups) err = %v, want %v", err, ErrNoEligible)
	}

	p = testParams()
	p.MinHistory = 10
	if _, err := NewEngine(nil).Run(context.Background(), universe, groups, p); !errors.Is(err, ErrNoEligible) {
		t.Errorf("Run(short history) err = %v, want %v", err, ErrNoEligible)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine(nil).Run(ctx, universe, groups, testParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("Run(cancelled) err = %v, want %v", err, context.Canceled)
	}
}

func TestRotationParamsDefaults(t *testing.T) {
	var p RotationParams
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate(zero) = %v", err)
	}
	if !reflect.DeepEqual(p.Alloc, []int{3, 2, 1}) || p.RSPeriod != domain.RS1M || p.Threshold != 70 {
		t.Errorf("defaults = %+v", p)
	}
	if p.InitialCapital != 100000 || p.MinHistory != 262 {
		t.Errorf("defaults = %+v", p)
	}
	if p.MaxPositions() != 6 || p.AllocString() != "3+2+1" {
		t.Errorf("MaxPositions = %d, AllocString = %q", p.MaxPositions(), p.AllocString())
	}

	bad := testParams()
	bad.Alloc = []int{2, 0}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Validate(alloc with zero) = %v, want %v", err, ErrInvalidParams)
	}
	bad = testParams()
	bad.RSPeriod = "12m"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Validate(rs period 12m) = %v, want %v", err, ErrInvalidParams)
	}
}

func TestRiskManagerCheckRebalance(t *testing.T) {
	rm := NewRiskManager(6)
	if err := rm.CheckRebalance(1000, 1000.0000000001, 6); err != nil {
		t.Errorf("CheckRebalance(within tolerance) = %v", err)
	}
	if err := rm.CheckRebalance(1000, 1000, 7); !errors.Is(err, errTooManyPositions) {
		t.Errorf("CheckRebalance(7 positions) = %v, want %v", err, errTooManyPositions)
	}
	if err := rm.CheckRebalance(1000, 990, 3); !errors.Is(err, errCapitalLeak) {
		t.Errorf("CheckRebalance(leak) = %v, want %v", err, errCapitalLeak)
	}
}

func TestPerformance(t *testing.T) {
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 0, 1461)
	approx(t, "cagr", cagrPct(100, 1600, first, last), 100)
	approx(t, "cagr same day", cagrPct(100, 200, first, first), 0)
	approx(t, "total return", totalReturnPct(100, 150), 50)

	values := []DailyValue{{Value: 100}, {Value: 120}, {Value: 90}, {Value: 130}, {Value: 117}}
	approx(t, "max drawdown", maxDrawdownPct(values), 25)
}
