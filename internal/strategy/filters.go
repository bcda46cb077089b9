package strategy

import (
	"spotter/internal/domain"
	"spotter/internal/pit"
)

// DefaultMarketCapMin is the entry-date market cap floor.
const DefaultMarketCapMin = 1e9

// AnnotatedTrade carries the point-in-time context of a trade's entry.
type AnnotatedTrade struct {
	domain.Trade
	MarketCap float64 // 0 when unknown
	Class     domain.FundamentalClass
}

// FilterReport counts what FilterByMarketCap did.
type FilterReport struct {
	Input   int
	Kept    int
	Removed int // known market cap below the floor
	Missing int // no market cap as of entry; kept
}

// FilterByMarketCap drops trades whose market cap as of the entry date is
// known and below minCap. Trades without data are kept. When caps is empty
// no filtering happens and nothing is counted as missing.
func FilterByMarketCap(trades []domain.Trade, caps map[string]pit.Series, minCap float64) ([]AnnotatedTrade, FilterReport) {
	rep := FilterReport{Input: len(trades)}
	out := make([]AnnotatedTrade, 0, len(trades))
	for _, t := range trades {
		at := AnnotatedTrade{Trade: t}
		if len(caps) > 0 {
			series, ok := caps[t.Symbol]
			mcap, known := 0.0, false
			if ok {
				mcap, known = series.AsOf(t.EntryDate)
			}
			if known && mcap < minCap {
				rep.Removed++
				continue
			}
			if !known {
				rep.Missing++
			}
			at.MarketCap = mcap
		}
		out = append(out, at)
	}
	rep.Kept = len(out)
	return out, rep
}

// ClassifyTrades sets Class on each trade from the reports visible at its
// entry date. earnings must hold date-sorted reports per symbol.
func ClassifyTrades(trades []AnnotatedTrade, earnings map[string][]pit.Earnings) {
	for i := range trades {
		trades[i].Class = pit.Classify(earnings[trades[i].Symbol], trades[i].EntryDate)
	}
}

// GroupByClass returns the trades of each fundamental class. Unclassified
// trades appear only under domain.Unclassified.
func GroupByClass(trades []AnnotatedTrade) map[domain.FundamentalClass][]domain.Trade {
	out := make(map[domain.FundamentalClass][]domain.Trade)
	for _, t := range trades {
		out[t.Class] = append(out[t.Class], t.Trade)
	}
	return out
}
