package strategy

import (
	"testing"

	"spotter/internal/domain"
)

func testTemplate() TrendTemplate {
	return TrendTemplate{
		MA200TrendDays: 5,
		Week52Days:     20,
		LowMultiple:    1.30,
		HighMultiple:   0.75,
		MinRS:          70,
		RSPeriod:       domain.RS1M,
	}
}

// stageTwoBars is a steady advance from 10 to 39 with stacked, rising
// averages and a 1m RS of 80 on every bar.
func stageTwoBars() []domain.Bar {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(10 + i)
	}
	bars := makeBars("TT", closes, nil)
	for i := range bars {
		c := bars[i].Close
		bars[i].MA50, bars[i].MA150, bars[i].MA200 = c-1, c-2, c-3
		bars[i].RS1M, bars[i].HasRS = 80, true
	}
	return bars
}

func TestTrendTemplatePasses(t *testing.T) {
	if !testTemplate().Passes(stageTwoBars(), 29) {
		t.Fatal("stage-two advance should pass")
	}

	tests := []struct {
		name   string
		mutate func(bars []domain.Bar, tt *TrendTemplate)
	}{
		{"weak rs", func(b []domain.Bar, _ *TrendTemplate) { b[29].RS1M = 60 }},
		{"no rs", func(b []domain.Bar, _ *TrendTemplate) { b[29].HasRS = false }},
		{"other rs period", func(_ []domain.Bar, tt *TrendTemplate) { tt.RSPeriod = domain.RS3M }},
		{"ma50 under ma150", func(b []domain.Bar, _ *TrendTemplate) { b[29].MA50 = b[29].MA150 - 0.5 }},
		{"ma150 under ma200", func(b []domain.Bar, _ *TrendTemplate) { b[29].MA150 = b[29].MA200 - 0.5 }},
		{"close under ma50", func(b []domain.Bar, _ *TrendTemplate) { b[29].MA50 = b[29].Close + 0.5 }},
		{"flat ma200", func(b []domain.Bar, _ *TrendTemplate) { b[24].MA200 = b[29].MA200 }},
		{"missing ma200", func(b []domain.Bar, _ *TrendTemplate) { b[29].MA200 = 0 }},
		{"too close to low", func(_ []domain.Bar, tt *TrendTemplate) { tt.LowMultiple = 3 }},
		{"far from high", func(b []domain.Bar, _ *TrendTemplate) { b[20].High = 60 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bars := stageTwoBars()
			tt := testTemplate()
			tc.mutate(bars, &tt)
			if tt.Passes(bars, 29) {
				t.Errorf("Passes = true, want false")
			}
		})
	}
}

func TestTrendTemplateBounds(t *testing.T) {
	tt := testTemplate()
	bars := stageTwoBars()
	if tt.Passes(bars, 3) {
		t.Error("index before MA200TrendDays should fail")
	}
	if tt.Passes(bars, len(bars)) {
		t.Error("index past the data should fail")
	}
}

func TestDetectTrendTemplateGate(t *testing.T) {
	p := testParams()
	if _, ok := Detect(scenarioBars(3000), 21, p); !ok {
		t.Fatal("scenario should signal without the template")
	}
	tt := testTemplate()
	p.TrendTemplate = &tt
	if _, ok := Detect(scenarioBars(3000), 21, p); ok {
		t.Error("unenriched bars should fail the template gate")
	}
}

// minerviniBars is a 300-bar stage-two advance from 50 in 0.1 steps, so
// every close is a new high, with a volume surge only on surgeDay.
func minerviniBars(surgeDay int) []domain.Bar {
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 50 + 0.1*float64(i)
	}
	bars := makeBars("MV", closes, map[int]int64{surgeDay: 2500})
	for i := range bars {
		c := bars[i].Close
		bars[i].MA50, bars[i].MA150, bars[i].MA200 = c-1, c-2, c-3
		bars[i].RS1M, bars[i].HasRS = 80, true
	}
	return bars
}

func TestDetectHighBreakoutEntry(t *testing.T) {
	p, err := DefaultRegistry().Lookup(PresetMinervini)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	bars := minerviniBars(280)
	sig, ok := Detect(bars, 280, p)
	if !ok {
		t.Fatal("close above the 60-day high on 2.5x volume should signal")
	}
	if sig.EntryPrice != bars[280].Close {
		t.Errorf("EntryPrice = %v, want %v", sig.EntryPrice, bars[280].Close)
	}
	if sig.PeakPrice != bars[279].High {
		t.Errorf("PeakPrice = %v, want %v", sig.PeakPrice, bars[279].High)
	}
	if sig.ConsolidationDays != 1 || sig.VolumeRatio != 2.5 {
		t.Errorf("signal = %+v, want 1 day since the high and ratio 2.5", sig)
	}
	if sig.RisePct != 0 {
		t.Errorf("RisePct = %v, want 0 in high breakout mode", sig.RisePct)
	}

	if _, ok := Detect(bars, 279, p); ok {
		t.Error("a new high without the volume surge should not signal")
	}
	if _, ok := Detect(minerviniBars(261), 261, p); ok {
		t.Error("a day before the 262-bar history floor should not signal")
	}

	// Under the prior high.
	under := minerviniBars(280)
	under[250].High = 100
	if _, ok := Detect(under, 280, p); ok {
		t.Error("close under the 60-day high should not signal")
	}

	// The consolidation pattern rejects the same day: yesterday is the peak.
	p.BreakoutLookbackDays = 0
	if _, ok := Detect(bars, 280, p); ok {
		t.Error("consolidation pattern should not signal on a steady advance")
	}
}

func TestSimulateHighBreakout(t *testing.T) {
	p, _ := DefaultRegistry().Lookup(PresetMinervini)
	bars := minerviniBars(280)
	trades := Simulate(bars, 0, p)
	if len(trades) != 1 {
		t.Fatalf("Simulate returned %d trades, want 1", len(trades))
	}
	if !trades[0].EntryDate.Equal(bars[280].Timestamp) || trades[0].ExitReason != domain.ExitOpen {
		t.Errorf("trade = %+v, want an open trade entered on bar 280", trades[0])
	}
}
