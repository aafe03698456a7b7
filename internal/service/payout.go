package service

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// Distribution is the outcome of splitting a pool.
type Distribution struct {
	Payouts      []domain.Transfer
	Refunds      []domain.Transfer
	WinningStake int64
}

// Distribute splits pool according to policy. outcomes maps each owner with
// a non-disputed resolution to the resolved outcome; a ticket wins when its
// outcome equals its owner's entry.
//
// Winners receive floor(amount * T / W) where T is the distributable total
// and W the winning stake; the integer remainder goes to the winning ticket
// with the lowest sequence number so payouts always sum to T. When nothing
// wins every ticket is refunded.
func Distribute(pool domain.LiquidityPool, outcomes map[domain.Identity]int, policy domain.PayoutPolicy) Distribution {
	var d Distribution
	distributable := pool.Total

	if policy == domain.PayoutRefundUnresolved {
		for _, t := range pool.Tickets {
			if _, ok := outcomes[t.Owner]; ok {
				continue
			}
			d.Refunds = append(d.Refunds, refund(t))
			distributable -= t.Amount
		}
	}

	var winners []domain.Ticket
	for _, t := range pool.Tickets {
		if o, ok := outcomes[t.Owner]; ok && o == t.Outcome {
			winners = append(winners, t)
			d.WinningStake += t.Amount
		}
	}

	if d.WinningStake == 0 {
		d.Refunds = d.Refunds[:0]
		for _, t := range pool.Tickets {
			d.Refunds = append(d.Refunds, refund(t))
		}
		return d
	}

	total := decimal.NewFromInt(distributable)
	winning := decimal.NewFromInt(d.WinningStake)
	var paid int64
	for _, t := range winners {
		share, _ := decimal.NewFromInt(t.Amount).Mul(total).QuoRem(winning, 0)
		amount := share.IntPart()
		paid += amount
		d.Payouts = append(d.Payouts, domain.Transfer{Recipient: t.Owner, TicketSeq: t.Seq, Amount: amount})
	}

	lowest := 0
	for i, p := range d.Payouts {
		if p.TicketSeq < d.Payouts[lowest].TicketSeq {
			lowest = i
		}
	}
	d.Payouts[lowest].Amount += distributable - paid
	return d
}

func refund(t domain.Ticket) domain.Transfer {
	return domain.Transfer{Recipient: t.Owner, TicketSeq: t.Seq, Amount: t.Amount}
}
