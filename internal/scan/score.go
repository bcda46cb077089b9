package scan

import (
	"math"

	"spotter/internal/domain"
)

// Score rates a breakout from 0 to 100 as the sum of four 5-25 point
// parts: volume surge, group strength, rise size (best near +70%) and
// consolidation tightness. A nil groupStrength scores the midpoint.
func Score(sig domain.Signal, consolidationRangePct float64, groupStrength *float64) int {
	return volumeScore(sig.VolumeRatio) +
		groupScore(groupStrength) +
		riseScore(sig.RisePct) +
		consolidationScore(consolidationRangePct, sig.ConsolidationDays)
}

func volumeScore(ratio float64) int {
	switch {
	case ratio >= 3:
		return 25
	case ratio >= 2:
		return 20
	case ratio >= 1.5:
		return 15
	case ratio >= 1:
		return 10
	default:
		return 5
	}
}

func groupScore(strength *float64) int {
	if strength == nil {
		return 12
	}
	switch s := *strength; {
	case s >= 10:
		return 25
	case s >= 5:
		return 20
	case s >= 2:
		return 15
	case s >= 0:
		return 10
	default:
		return 0
	}
}

func riseScore(rise float64) int {
	switch d := math.Abs(rise - 70); {
	case d <= 10:
		return 25
	case d <= 20:
		return 20
	case d <= 30:
		return 15
	default:
		return 10
	}
}

func consolidationScore(rangePct float64, days int) int {
	switch {
	case rangePct <= 5 && days >= 15:
		return 25
	case rangePct <= 7 && days >= 12:
		return 20
	case rangePct <= 10 && days >= 10:
		return 15
	default:
		return 10
	}
}

// ConsolidationRangePct is how far the lowest close between the peak and
// the signal day sits below the peak, in percent. It is 100 when there is
// no usable close in the window.
func ConsolidationRangePct(bars []domain.Bar, today int, sig domain.Signal) float64 {
	peakIdx := today - sig.ConsolidationDays
	low := 0.0
	for i := max(peakIdx+1, 0); i < today && i < len(bars); i++ {
		if c := bars[i].Close; c > 0 && (low == 0 || c < low) {
			low = c
		}
	}
	if low == 0 || sig.PeakPrice <= 0 {
		return 100
	}
	return (sig.PeakPrice/low - 1) * 100
}
