package strategy

import "spotter/internal/domain"

// TrendTemplate is an optional stage-two trend filter applied after the
// breakout pattern matches. It needs MA and RS enrichment on the bars and
// fails closed when either is missing.
type TrendTemplate struct {
	MA200TrendDays int             `yaml:"ma200_trend_days" json:"ma200_trend_days" default:"20" validate:"gte=1"`
	Week52Days     int             `yaml:"week52_days" json:"week52_days" default:"252" validate:"gte=1"`
	LowMultiple    float64         `yaml:"low_multiple" json:"low_multiple" default:"1.30" validate:"gte=1"`
	HighMultiple   float64         `yaml:"high_multiple" json:"high_multiple" default:"0.75" validate:"gt=0,lte=1"`
	MinRS          int             `yaml:"min_rs" json:"min_rs" default:"70" validate:"gte=0,lte=99"`
	RSPeriod       domain.RSPeriod `yaml:"rs_period" json:"rs_period" default:"1m" validate:"oneof=1m 3m 6m"`
}

// Passes evaluates the template on bars[idx].
func (tt TrendTemplate) Passes(bars []domain.Bar, idx int) bool {
	if idx < tt.MA200TrendDays || idx >= len(bars) {
		return false
	}
	b := bars[idx]
	if b.Close <= 0 || b.MA50 <= 0 || b.MA150 <= 0 || b.MA200 <= 0 {
		return false
	}

	if b.Close <= b.MA150 || b.Close <= b.MA200 {
		return false
	}
	if b.MA150 <= b.MA200 {
		return false
	}
	prevMA200 := bars[idx-tt.MA200TrendDays].MA200
	if prevMA200 <= 0 || b.MA200 <= prevMA200 {
		return false
	}
	if b.MA50 <= b.MA150 || b.MA50 <= b.MA200 {
		return false
	}
	if b.Close <= b.MA50 {
		return false
	}

	low, high := b.Low, b.High
	for i := max(0, idx-tt.Week52Days); i <= idx; i++ {
		if bars[i].Close <= 0 {
			continue
		}
		low = min(low, bars[i].Low)
		high = max(high, bars[i].High)
	}
	if b.Close < low*tt.LowMultiple {
		return false
	}
	if b.Close < high*tt.HighMultiple {
		return false
	}

	rs, ok := b.RS(tt.RSPeriod)
	return ok && rs >= tt.MinRS
}
