package strategy

import (
	"time"

	"spotter/internal/domain"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testParams is tight enough for 40-bar fixtures.
func testParams() Params {
	return Params{
		VolumeAvgDays:   10,
		VolumeRatioMin:  2.0,
		ConsolMinDays:   10,
		ConsolMaxDays:   20,
		MaxDropPct:      50,
		RiseMinPct:      100,
		StopLossPct:     7,
		TrailingStopPct: 15,
		StartDate:       "2024-01-01",
		Workers:         2,
	}
}

// scenarioCloses is a rise from 10 to a 20 peak at index 5, fifteen bars of
// consolidation between 15 and 20, a breakout close of 21 at index 21 and
// a gentle drift higher to index 39.
func scenarioCloses() []float64 {
	c := []float64{10, 12, 14, 16, 18, 20}
	c = append(c, 18, 17, 19, 16, 18, 17, 19, 18, 16, 17, 19, 18, 17, 16, 18)
	c = append(c, 21)
	for len(c) < 40 {
		c = append(c, 21+0.1*float64(len(c)-21))
	}
	return c
}

// makeBars builds daily bars with Low = Close, volume 1000 and the given
// volume overrides.
func makeBars(symbol string, closes []float64, volumes map[int]int64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		vol := int64(1000)
		if v, ok := volumes[i]; ok {
			vol = v
		}
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: testStart.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    vol,
		}
	}
	return bars
}

func scenarioBars(breakoutVolume int64) []domain.Bar {
	return makeBars("TEST", scenarioCloses(), map[int]int64{21: breakoutVolume})
}

// twoTradeCloses holds the scenario twice: the first breakout is stopped
// out the next day, the second one drifts to the end of the data.
func twoTradeCloses() []float64 {
	first := scenarioCloses()[:22]
	first = append(first, 19) // index 22: below the 7% stop
	for len(first) < 40 {
		first = append(first, 19)
	}
	return append(first, scenarioCloses()...)
}
