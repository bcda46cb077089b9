package indicators

import (
	"math"
	"sort"

	"spotter/internal/domain"
)

type rsEntry struct {
	symbol string
	idx    int
	ret    float64
}

// EnrichRS fills RS1M, RS3M and RS6M in place. For each date the trailing
// return of every instrument over 21, 63 and 126 of its own bars is ranked
// across the universe (ties take the average rank) and mapped to 0-99 as
// round((rank-1)/(n-1)*99). Periods with fewer than two ranked instruments
// on a date, or an instrument without enough history, get -1.
func EnrichRS(universe map[string][]domain.Bar) {
	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		bars := universe[sym]
		for i := range bars {
			bars[i].RS1M, bars[i].RS3M, bars[i].RS6M = -1, -1, -1
			bars[i].HasRS = false
		}
	}

	periods := []domain.RSPeriod{domain.RS1M, domain.RS3M, domain.RS6M}
	for _, period := range periods {
		lookback := domain.RSPeriodDays[period]

		byDate := make(map[int64][]rsEntry)
		for _, sym := range symbols {
			bars := universe[sym]
			for i := lookback; i < len(bars); i++ {
				prev := bars[i-lookback].Close
				if prev <= 0 || bars[i].Close <= 0 {
					continue
				}
				key := bars[i].Timestamp.Unix()
				byDate[key] = append(byDate[key], rsEntry{symbol: sym, idx: i, ret: bars[i].Close/prev - 1})
			}
		}

		for _, entries := range byDate {
			n := len(entries)
			if n < 2 {
				continue
			}
			sort.SliceStable(entries, func(a, b int) bool { return entries[a].ret < entries[b].ret })
			for start := 0; start < n; {
				end := start
				for end+1 < n && entries[end+1].ret == entries[start].ret {
					end++
				}
				rank := float64(start+end)/2 + 1
				pct := int(math.RoundToEven((rank - 1) / float64(n-1) * 99))
				pct = min(max(pct, 0), 99)
				for k := start; k <= end; k++ {
					b := &universe[entries[k].symbol][entries[k].idx]
					setRS(b, period, pct)
				}
				start = end + 1
			}
		}
	}
}

func setRS(b *domain.Bar, p domain.RSPeriod, v int) {
	switch p {
	case domain.RS1M:
		b.RS1M = v
	case domain.RS3M:
		b.RS3M = v
	case domain.RS6M:
		b.RS6M = v
	}
	b.HasRS = true
}

// HasRS reports whether any bar in the universe already carries RS
// percentiles.
func HasRS(universe map[string][]domain.Bar) bool {
	for _, bars := range universe {
		for _, b := range bars {
			if b.HasRS {
				return true
			}
		}
	}
	return false
}
