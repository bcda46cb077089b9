// Package indicators computes the per-bar enrichment the detector and the
// rotation engine consume: simple moving averages and cross-sectional
// relative-strength percentiles.
package indicators

import (
	"errors"

	"spotter/internal/domain"
)

var (
	ErrPeriod       = errors.New("period must be positive")
	ErrShortHistory = errors.New("not enough data for SMA calculation")
)

// SMA computes the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrPeriod
	}
	if len(values) < period {
		return 0, ErrShortHistory
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// SMAAt computes the simple moving average of the closes in the period-bar
// window ending at bar idx inclusive. Bars with a non-positive close are
// left out of the average; a window with no valid close is short.
func SMAAt(bars []domain.Bar, idx, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrPeriod
	}
	if idx < 0 || idx >= len(bars) || idx+1 < period {
		return 0, ErrShortHistory
	}
	sum, n := 0.0, 0
	for i := idx - period + 1; i <= idx; i++ {
		if c := bars[i].Close; c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0, ErrShortHistory
	}
	return sum / float64(n), nil
}

// EnrichMovingAverages fills MA50, MA150 and MA200 in place using a rolling
// sum. Bars without a full window keep a zero average.
func EnrichMovingAverages(bars []domain.Bar) {
	rolling(bars, 50, func(b *domain.Bar, v float64) { b.MA50 = v })
	rolling(bars, 150, func(b *domain.Bar, v float64) { b.MA150 = v })
	rolling(bars, 200, func(b *domain.Bar, v float64) { b.MA200 = v })
}

// rolling skips non-positive closes the same way SMAAt does.
func rolling(bars []domain.Bar, period int, set func(*domain.Bar, float64)) {
	sum, n := 0.0, 0
	for i := range bars {
		if c := bars[i].Close; c > 0 {
			sum += c
			n++
		}
		if i >= period {
			if c := bars[i-period].Close; c > 0 {
				sum -= c
				n--
			}
		}
		if i+1 >= period && n > 0 {
			set(&bars[i], sum/float64(n))
		}
	}
}

// HasMovingAverages reports whether any bar already carries MA enrichment.
func HasMovingAverages(bars []domain.Bar) bool {
	for _, b := range bars {
		if b.MA50 > 0 || b.MA150 > 0 || b.MA200 > 0 {
			return true
		}
	}
	return false
}
