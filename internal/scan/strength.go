package scan

import "spotter/internal/domain"

// DefaultStrengthDays is the return window used for group strength.
const DefaultStrengthDays = 20

// GroupStrength returns, per group, the average return in percent of its
// members over the last days bars minus the benchmark's return over the
// same span. Without benchmark bars the benchmark return is 0. Groups with
// no member that has enough history are left out.
func GroupStrength(universe map[string][]domain.Bar, groups map[string]string, benchmark string, days int) map[string]float64 {
	bench, ok := trailingReturn(universe[benchmark], days)
	if !ok {
		bench = 0
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for sym, group := range groups {
		r, ok := trailingReturn(universe[sym], days)
		if !ok {
			continue
		}
		sums[group] += r
		counts[group]++
	}

	out := make(map[string]float64, len(sums))
	for group, sum := range sums {
		out[group] = sum/float64(counts[group]) - bench
	}
	return out
}

func trailingReturn(bars []domain.Bar, days int) (float64, bool) {
	if days <= 0 || len(bars) <= days {
		return 0, false
	}
	cur, past := bars[len(bars)-1].Close, bars[len(bars)-1-days].Close
	if past <= 0 || cur <= 0 {
		return 0, false
	}
	return (cur/past - 1) * 100, true
}
