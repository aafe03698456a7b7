package domain

import "time"

// Ticket is an immutable stake on one outcome.
type Ticket struct {
	MarketID    string    `json:"market_id"`
	Owner       Identity  `json:"owner"`
	Outcome     int       `json:"outcome"`
	Amount      int64     `json:"amount"`
	Seq         int64     `json:"seq"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// LiquidityPool holds the per-outcome stake of a market together with the
// tickets that produced it. Total always equals the sum of ticket amounts.
type LiquidityPool struct {
	MarketID string   `json:"market_id"`
	Stakes   []int64  `json:"stakes"`
	Total    int64    `json:"total"`
	NextSeq  int64    `json:"next_seq"`
	Tickets  []Ticket `json:"tickets"`
}

// NewLiquidityPool returns an empty pool sized for n outcomes.
func NewLiquidityPool(marketID string, n int) LiquidityPool {
	return LiquidityPool{
		MarketID: marketID,
		Stakes:   make([]int64, n),
		NextSeq:  1,
		Tickets:  []Ticket{},
	}
}

// TicketsOf returns the tickets owned by id in purchase order.
func (p LiquidityPool) TicketsOf(id Identity) []Ticket {
	var out []Ticket
	for _, t := range p.Tickets {
		if t.Owner == id {
			out = append(out, t)
		}
	}
	return out
}
