package engine

import (
	"time"

	"spotter/internal/domain"
)

// Position is one holding of the rotation portfolio.
type Position struct {
	Symbol     string
	Group      string
	RankSlot   int // 1-based group rank at purchase
	EntryDate  time.Time
	EntryIndex int // index into the engine's date list
	EntryPrice float64
	Shares     float64
	LastPrice  float64
	PeakPrice  float64
}

// Value is shares times the most recent close.
func (p *Position) Value() float64 { return p.Shares * p.LastPrice }

// RotationTrade is a closed rotation holding.
type RotationTrade struct {
	domain.Trade
	Group    string
	RankSlot int
}

// portfolio tracks cash and holdings in memory. When holdings exist the
// cash has been fully deployed into them.
type portfolio struct {
	capital  float64
	holdings []*Position
	bySymbol map[string]*Position
}

func newPortfolio(capital float64) *portfolio {
	return &portfolio{capital: capital, bySymbol: make(map[string]*Position)}
}

// mark updates a holding's last price. Unknown symbols and non-positive
// prices are ignored so a stale price carries forward.
func (pf *portfolio) mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	if pos, ok := pf.bySymbol[symbol]; ok {
		pos.LastPrice = price
		pos.PeakPrice = max(pos.PeakPrice, price)
	}
}

// value is the mark-to-market total, or the cash when flat.
func (pf *portfolio) value() float64 {
	if len(pf.holdings) == 0 {
		return pf.capital
	}
	total := 0.0
	for _, pos := range pf.holdings {
		total += pos.Value()
	}
	return total
}

// liquidate sells every holding at its last price and returns the closed
// trades in purchase order. The proceeds become the new capital.
func (pf *portfolio) liquidate(date time.Time, dateIdx int, reason domain.ExitReason) []RotationTrade {
	if len(pf.holdings) == 0 {
		return nil
	}
	trades := make([]RotationTrade, 0, len(pf.holdings))
	proceeds := 0.0
	for _, pos := range pf.holdings {
		proceeds += pos.Value()
		trades = append(trades, RotationTrade{
			Trade: domain.Trade{
				Symbol:     pos.Symbol,
				EntryDate:  pos.EntryDate,
				EntryPrice: pos.EntryPrice,
				ExitDate:   date,
				ExitPrice:  pos.LastPrice,
				ExitReason: reason,
				HoldDays:   dateIdx - pos.EntryIndex,
				PeakPrice:  pos.PeakPrice,
			},
			Group:    pos.Group,
			RankSlot: pos.RankSlot,
		})
	}
	pf.capital = proceeds
	pf.holdings = nil
	clear(pf.bySymbol)
	return trades
}

// order is one planned purchase.
type order struct {
	symbol   string
	group    string
	rankSlot int
	price    float64
}

// open splits the capital equally across orders and buys at each order's
// price. It returns the number of positions opened.
func (pf *portfolio) open(orders []order, date time.Time, dateIdx int) int {
	if len(orders) == 0 {
		return 0
	}
	per := pf.capital / float64(len(orders))
	for _, o := range orders {
		pos := &Position{
			Symbol:     o.symbol,
			Group:      o.group,
			RankSlot:   o.rankSlot,
			EntryDate:  date,
			EntryIndex: dateIdx,
			EntryPrice: o.price,
			Shares:     per / o.price,
			LastPrice:  o.price,
			PeakPrice:  o.price,
		}
		pf.holdings = append(pf.holdings, pos)
		pf.bySymbol[o.symbol] = pos
	}
	return len(orders)
}

// positions returns a copy of the current holdings.
func (pf *portfolio) positions() []Position {
	out := make([]Position, len(pf.holdings))
	for i, pos := range pf.holdings {
		out[i] = *pos
	}
	return out
}
