package domain

import "time"

// PayoutPolicy selects how stake of unresolved participants is handled.
type PayoutPolicy string

const (
	// PayoutWinnersTakePool distributes the whole pool among winning tickets.
	PayoutWinnersTakePool PayoutPolicy = "winners_take_pool"
	// PayoutRefundUnresolved refunds tickets whose owner has no usable
	// resolution and distributes the remainder among winners.
	PayoutRefundUnresolved PayoutPolicy = "refund_unresolved"
)

// Transfer is a single credit produced by settlement.
type Transfer struct {
	Recipient Identity `json:"recipient"`
	TicketSeq int64    `json:"ticket_seq"`
	Amount    int64    `json:"amount"`
}

// Settlement records the distribution of a market's pool. Its existence in
// the ledger marks the market as settled.
type Settlement struct {
	MarketID     string       `json:"market_id"`
	Policy       PayoutPolicy `json:"policy"`
	TotalStake   int64        `json:"total_stake"`
	WinningStake int64        `json:"winning_stake"`
	Payouts      []Transfer   `json:"payouts"`
	Refunds      []Transfer   `json:"refunds"`
	SettledAt    time.Time    `json:"settled_at"`
}

// Credits sums payouts and refunds per recipient.
func (s Settlement) Credits() map[Identity]int64 {
	out := make(map[Identity]int64)
	for _, t := range s.Payouts {
		out[t.Recipient] += t.Amount
	}
	for _, t := range s.Refunds {
		out[t.Recipient] += t.Amount
	}
	return out
}
