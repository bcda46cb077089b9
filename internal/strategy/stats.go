package strategy

import (
	"fmt"
	"math"
	"sort"

	"spotter/internal/domain"
)

// TradeStats summarizes a trade list. Return and hold figures cover closed
// trades only; trades still open at the end of the data are counted in
// Open and nowhere else.
type TradeStats struct {
	Total  int
	Closed int
	Open   int
	Wins   int
	Losses int

	WinRate   float64 // percent
	AvgReturn float64 // percent
	AvgWin    float64
	AvgLoss   float64
	PLRatio   float64 // +Inf without losses
	EV        float64 // expected return per trade, percent

	AvgHold    float64
	MedianHold int
}

// Summarize computes TradeStats for trades.
func Summarize(trades []domain.Trade) TradeStats {
	s := TradeStats{Total: len(trades)}

	var sumRet, sumWin, sumLoss float64
	holds := make([]int, 0, len(trades))
	for _, t := range trades {
		if !t.Closed() {
			s.Open++
			continue
		}
		s.Closed++
		r := t.ReturnPct()
		sumRet += r
		if r > 0 {
			s.Wins++
			sumWin += r
		} else {
			s.Losses++
			sumLoss += r
		}
		holds = append(holds, t.HoldDays)
	}
	if s.Closed == 0 {
		return s
	}

	n := float64(s.Closed)
	wr := float64(s.Wins) / n
	s.WinRate = wr * 100
	s.AvgReturn = sumRet / n
	if s.Wins > 0 {
		s.AvgWin = sumWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = sumLoss / float64(s.Losses)
	}
	if s.AvgLoss != 0 {
		s.PLRatio = math.Abs(s.AvgWin / s.AvgLoss)
	} else {
		s.PLRatio = math.Inf(1)
	}
	s.EV = wr*s.AvgWin + (1-wr)*s.AvgLoss

	total := 0
	for _, h := range holds {
		total += h
	}
	s.AvgHold = float64(total) / n
	sort.Ints(holds)
	s.MedianHold = holds[len(holds)/2]
	return s
}

// Bucket is one slice of a quintile split.
type Bucket struct {
	Label  string
	Trades []domain.Trade
	Stats  TradeStats
}

// PriceQuintiles splits closed trades into five buckets by entry price. It
// returns nil with fewer than five closed trades.
func PriceQuintiles(trades []domain.Trade) []Bucket {
	closed := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Closed() {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].EntryPrice < closed[j].EntryPrice })

	return split(len(closed), func(q, lo, hi int) Bucket {
		bucket := closed[lo:hi]
		first, last := bucket[0].EntryPrice, bucket[len(bucket)-1].EntryPrice
		label := fmt.Sprintf("Q%d $%.0f~$%.0f", q+1, first, last)
		if last >= 10000 {
			label = fmt.Sprintf("Q%d $%.0f+", q+1, first)
		}
		return Bucket{Label: label, Trades: bucket, Stats: Summarize(bucket)}
	})
}

// MarketCapQuintiles splits closed trades with a known market cap into five
// buckets by market cap at entry.
func MarketCapQuintiles(trades []AnnotatedTrade) []Bucket {
	closed := make([]AnnotatedTrade, 0, len(trades))
	for _, t := range trades {
		if t.Closed() && t.MarketCap > 0 {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].MarketCap < closed[j].MarketCap })

	return split(len(closed), func(q, lo, hi int) Bucket {
		bucket := make([]domain.Trade, 0, hi-lo)
		for _, t := range closed[lo:hi] {
			bucket = append(bucket, t.Trade)
		}
		label := fmt.Sprintf("M%d $%.1f~%.0fB", q+1, closed[lo].MarketCap/1e9, closed[hi-1].MarketCap/1e9)
		return Bucket{Label: label, Trades: bucket, Stats: Summarize(bucket)}
	})
}

// split cuts n sorted items into five equal buckets, the last one taking
// the remainder.
func split(n int, build func(q, lo, hi int) Bucket) []Bucket {
	if n < 5 {
		return nil
	}
	size := n / 5
	out := make([]Bucket, 0, 5)
	for q := 0; q < 5; q++ {
		lo := q * size
		hi := (q + 1) * size
		if q == 4 {
			hi = n
		}
		out = append(out, build(q, lo, hi))
	}
	return out
}
