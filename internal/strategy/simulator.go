package strategy

import (
	"spotter/internal/domain"
	"spotter/internal/indicators"
)

// Simulate walks one instrument forward from start and returns its
// non-overlapping trades. While searching it calls Detect each day; once a
// signal fires it holds until an exit rule triggers, then resumes searching
// on the bar after the exit.
func Simulate(bars []domain.Bar, start int, p Params) []domain.Trade {
	var trades []domain.Trade
	for i := max(start, 0); i < len(bars); {
		if _, ok := Detect(bars, i, p); !ok {
			i++
			continue
		}
		trade, exitIdx := hold(bars, i, p)
		trades = append(trades, trade)
		i = exitIdx + 1
	}
	return trades
}

// hold runs the Holding state from an entry at bars[entry].Close and
// returns the trade and the index it ended on. Exit rules are checked in
// priority order: stop loss, trailing stop, then the optional MA break.
func hold(bars []domain.Bar, entry int, p Params) (domain.Trade, int) {
	entryPrice := bars[entry].Close
	stop := entryPrice * (1 - p.StopLossPct/100)
	trail := 1 - p.TrailingStopPct/100

	trade := domain.Trade{
		Symbol:     bars[entry].Symbol,
		EntryDate:  bars[entry].Timestamp,
		EntryPrice: entryPrice,
		PeakPrice:  entryPrice,
	}
	lastClose := entryPrice

	for j := entry + 1; j < len(bars); j++ {
		c := bars[j].Close
		if c <= 0 {
			// Malformed bar: no new information today.
			continue
		}
		lastClose = c
		if c > trade.PeakPrice {
			trade.PeakPrice = c
		}

		var reason domain.ExitReason
		switch {
		case c <= stop:
			reason = domain.ExitStopLoss
		case c <= trade.PeakPrice*trail:
			reason = domain.ExitTrailingStop
		case p.MAExitDays > 0 && belowMA(bars, j, p.MAExitDays):
			reason = domain.ExitMABreak
		}
		if reason == "" {
			continue
		}

		trade.ExitDate = bars[j].Timestamp
		trade.ExitPrice = c
		trade.ExitReason = reason
		trade.HoldDays = j - entry
		return trade, j
	}

	last := len(bars) - 1
	trade.ExitDate = bars[last].Timestamp
	trade.ExitPrice = lastClose
	trade.ExitReason = domain.ExitOpen
	trade.HoldDays = last - entry
	return trade, last
}

// belowMA reports whether bars[j] closed under its period-day SMA. It is
// false until a full window exists.
func belowMA(bars []domain.Bar, j, period int) bool {
	ma, err := indicators.SMAAt(bars, j, period)
	if err != nil {
		return false
	}
	return bars[j].Close < ma
}
