package strategy

import "spotter/internal/domain"

// Detect evaluates the breakout pattern on bars[today]. The second return
// value is false when there is no signal, which is the normal negative
// result and never an error.
//
// A breakout needs, in order: a volume surge over the prior VolumeAvgDays
// average, a close above the highest close of the last ConsolMaxDays bars
// (the most recent of tied highs is the peak), a consolidation length
// within bounds, no close below the MaxDropPct floor since the peak,
// yesterday still at or under the peak, and a RiseMinPct rise from the
// prior low into the peak. With BreakoutLookbackDays set, the pattern is
// replaced by a close above the prior N-bar high.
func Detect(bars []domain.Bar, today int, p Params) (domain.Signal, bool) {
	if today < p.MinHistory() || today >= len(bars) {
		return domain.Signal{}, false
	}
	cur := bars[today]
	if cur.Close <= 0 || cur.Volume < 0 {
		return domain.Signal{}, false
	}

	avg := averageVolume(bars, today-p.VolumeAvgDays, today)
	if avg <= 0 {
		return domain.Signal{}, false
	}
	ratio := float64(cur.Volume) / avg
	if ratio < p.VolumeRatioMin {
		return domain.Signal{}, false
	}

	if p.BreakoutLookbackDays > 0 {
		return detectHighBreakout(bars, today, ratio, p)
	}

	peakIdx, peak := findPeak(bars, today, p.ConsolMaxDays)
	if peakIdx < 0 || cur.Close <= peak {
		return domain.Signal{}, false
	}

	consol := today - peakIdx
	if consol < p.ConsolMinDays || consol > p.ConsolMaxDays {
		return domain.Signal{}, false
	}

	floor := peak * (1 - p.MaxDropPct/100)
	for i := peakIdx + 1; i < today; i++ {
		if c := bars[i].Close; c > 0 && c < floor {
			return domain.Signal{}, false
		}
	}

	// Only compares yesterday, not the whole window.
	if bars[today-1].Close > peak {
		return domain.Signal{}, false
	}

	low, ok := priorLow(bars, peakIdx, p.RiseLookbackDays)
	if !ok || low <= 0 {
		return domain.Signal{}, false
	}
	rise := (peak/low - 1) * 100
	if rise < p.RiseMinPct {
		return domain.Signal{}, false
	}

	if p.TrendTemplate != nil && !p.TrendTemplate.Passes(bars, today) {
		return domain.Signal{}, false
	}

	return domain.Signal{
		Symbol:            cur.Symbol,
		Date:              cur.Timestamp,
		EntryPrice:        cur.Close,
		PeakPrice:         peak,
		RisePct:           rise,
		ConsolidationDays: consol,
		VolumeRatio:       ratio,
	}, true
}

// detectHighBreakout is the high-of-N mode: today's close must clear the
// highest high of the prior BreakoutLookbackDays bars. ConsolidationDays
// reports how long ago that high was set.
func detectHighBreakout(bars []domain.Bar, today int, ratio float64, p Params) (domain.Signal, bool) {
	highIdx, high := -1, 0.0
	for i := today - 1; i >= max(today-p.BreakoutLookbackDays, 0); i-- {
		if bars[i].Close <= 0 {
			continue
		}
		if bars[i].High > high {
			highIdx, high = i, bars[i].High
		}
	}
	cur := bars[today]
	if highIdx < 0 || cur.Close <= high {
		return domain.Signal{}, false
	}
	if p.TrendTemplate != nil && !p.TrendTemplate.Passes(bars, today) {
		return domain.Signal{}, false
	}
	return domain.Signal{
		Symbol:            cur.Symbol,
		Date:              cur.Timestamp,
		EntryPrice:        cur.Close,
		PeakPrice:         high,
		ConsolidationDays: today - highIdx,
		VolumeRatio:       ratio,
	}, true
}

// averageVolume averages bars[from:to], skipping bars with a non-positive
// close or volume.
func averageVolume(bars []domain.Bar, from, to int) float64 {
	var sum float64
	var n int
	for i := max(from, 0); i < to; i++ {
		if bars[i].Close <= 0 || bars[i].Volume <= 0 {
			continue
		}
		sum += float64(bars[i].Volume)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// findPeak scans from yesterday back to min(maxDays, today) bars ago and
// returns the index and close of the highest close. The strict comparison
// keeps the most recent bar on ties. It returns -1 when no positive close
// is in range.
func findPeak(bars []domain.Bar, today, maxDays int) (int, float64) {
	idx, peak := -1, 0.0
	span := min(maxDays, today)
	for i := today - 1; i >= today-span; i-- {
		if c := bars[i].Close; c > peak {
			idx, peak = i, c
		}
	}
	return idx, peak
}

// priorLow returns the lowest low before peakIdx, over all history when
// lookback is 0 or over the last lookback bars otherwise.
func priorLow(bars []domain.Bar, peakIdx, lookback int) (float64, bool) {
	from := 0
	if lookback > 0 {
		from = max(0, peakIdx-lookback)
	}
	low, found := 0.0, false
	for i := from; i < peakIdx; i++ {
		if bars[i].Close <= 0 {
			continue
		}
		if !found || bars[i].Low < low {
			low, found = bars[i].Low, true
		}
	}
	return low, found
}
