// Package domain holds the value types shared by the detector, the
// simulators, the stores and the commands.
package domain

import "time"

// Market identifies the exchange family a bar belongs to. It is also the
// first path segment of the on-disk bar layout.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is one daily OHLCV observation. MA and RS fields are optional
// enrichment: a zero MA means "not computed", HasRS reports whether any RS
// percentile is present and a negative percentile marks a period without
// enough history.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64

	MA50  float64
	MA150 float64
	MA200 float64

	RS1M  int
	RS3M  int
	RS6M  int
	HasRS bool
}

// RSPeriod names the lookback of a relative-strength percentile.
type RSPeriod string

const (
	RS1M RSPeriod = "1m"
	RS3M RSPeriod = "3m"
	RS6M RSPeriod = "6m"
)

// RSPeriodDays maps each RS period to its return lookback in trading bars.
var RSPeriodDays = map[RSPeriod]int{
	RS1M: 21,
	RS3M: 63,
	RS6M: 126,
}

// RS returns the percentile for period p, or false when the bar carries none.
func (b Bar) RS(p RSPeriod) (int, bool) {
	if !b.HasRS {
		return 0, false
	}
	var v int
	switch p {
	case RS1M:
		v = b.RS1M
	case RS3M:
		v = b.RS3M
	case RS6M:
		v = b.RS6M
	default:
		return 0, false
	}
	if v < 0 {
		return 0, false
	}
	return v, true
}

// Valid reports whether the bar can take part in price computations.
func (b Bar) Valid() bool {
	return b.Close > 0 && b.Volume >= 0
}

// Signal is a breakout detected on Date. It is never mutated after
// creation.
type Signal struct {
	Symbol            string
	Date              time.Time
	EntryPrice        float64
	PeakPrice         float64
	RisePct           float64
	ConsolidationDays int
	VolumeRatio       float64
}

// ExitReason explains why a trade was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitMABreak      ExitReason = "ma_break"
	// ExitOpen marks a position still live when the data ran out; the exit
	// price is a mark at the last close, not a sale.
	ExitOpen ExitReason = "open"
	// ExitRebalance is used only by the rotation engine.
	ExitRebalance ExitReason = "rebalance"
)

// Trade is a completed (or marked) round trip in one instrument.
type Trade struct {
	Symbol     string
	EntryDate  time.Time
	EntryPrice float64
	ExitDate   time.Time
	ExitPrice  float64
	ExitReason ExitReason
	HoldDays   int
	PeakPrice  float64
}

// ReturnPct is the percentage gain from entry to exit.
func (t Trade) ReturnPct() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return (t.ExitPrice/t.EntryPrice - 1) * 100
}

// Closed reports whether the trade was exited by a rule rather than marked
// at the end of the data.
func (t Trade) Closed() bool {
	return t.ExitReason != ExitOpen
}

// FundamentalClass is the point-in-time earnings bucket of an instrument.
type FundamentalClass int

const (
	Unclassified FundamentalClass = iota
	Growth
	PersistentLoss
)

func (c FundamentalClass) String() string {
	switch c {
	case Growth:
		return "growth"
	case PersistentLoss:
		return "persistent_loss"
	default:
		return "unclassified"
	}
}
