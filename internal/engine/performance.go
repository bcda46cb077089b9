package engine

import (
	"math"
	"time"
)

// DailyValue is the portfolio value at the close of one date.
type DailyValue struct {
	Date  time.Time
	Value float64
}

// Performance summarizes a rotation run.
type Performance struct {
	InitialCapital float64
	FinalValue     float64
	TotalReturnPct float64
	CAGRPct        float64
	MaxDrawdownPct float64
	Years          float64
	Rotations      int
}

func totalReturnPct(initial, final float64) float64 {
	return (final/initial - 1) * 100
}

// cagrPct annualizes over calendar days / 365.25; zero for spans under a day.
func cagrPct(initial, final float64, first, last time.Time) float64 {
	years := yearsBetween(first, last)
	if years <= 0 || initial <= 0 || final <= 0 {
		return 0
	}
	return (math.Pow(final/initial, 1/years) - 1) * 100
}

func yearsBetween(first, last time.Time) float64 {
	days := math.Floor(last.Sub(first).Hours() / 24)
	return days / 365.25
}

// maxDrawdownPct is the largest peak-to-trough fall over the daily values.
func maxDrawdownPct(values []DailyValue) float64 {
	peak, worst := 0.0, 0.0
	for _, dv := range values {
		if dv.Value > peak {
			peak = dv.Value
		}
		if peak > 0 {
			worst = max(worst, (peak-dv.Value)/peak*100)
		}
	}
	return worst
}
