package service

import (
	"testing"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

func poolOf(tickets ...domain.Ticket) domain.LiquidityPool {
	p := domain.NewLiquidityPool("m", 3)
	for i, t := range tickets {
		t.Seq = int64(i + 1)
		p.Tickets = append(p.Tickets, t)
		p.Stakes[t.Outcome] += t.Amount
		p.Total += t.Amount
	}
	return p
}

func sumTransfers(ts []domain.Transfer) int64 {
	var s int64
	for _, t := range ts {
		s += t.Amount
	}
	return s
}

func TestDistribute_DustToLowestSeq(t *testing.T) {
	pool := poolOf(
		domain.Ticket{Owner: p1, Outcome: 0, Amount: 1},
		domain.Ticket{Owner: p2, Outcome: 0, Amount: 1},
		domain.Ticket{Owner: p3, Outcome: 1, Amount: 1},
		domain.Ticket{Owner: p1, Outcome: 0, Amount: 1},
	)
	outcomes := map[domain.Identity]int{p1: 0, p2: 0}

	d := Distribute(pool, outcomes, domain.PayoutWinnersTakePool)
	if d.WinningStake != 3 {
		t.Fatalf("winning stake = %d, want 3", d.WinningStake)
	}
	if got := sumTransfers(d.Payouts); got != pool.Total {
		t.Fatalf("payouts sum = %d, want %d", got, pool.Total)
	}
	// floor(1*4/3) = 1 each, remainder 1 to seq 1.
	want := map[int64]int64{1: 2, 2: 1, 4: 1}
	for _, p := range d.Payouts {
		if p.Amount != want[p.TicketSeq] {
			t.Errorf("ticket %d payout = %d, want %d", p.TicketSeq, p.Amount, want[p.TicketSeq])
		}
	}
	if len(d.Refunds) != 0 {
		t.Errorf("refunds = %v, want none", d.Refunds)
	}
}

func TestDistribute_NoWinnersRefundsEverything(t *testing.T) {
	pool := poolOf(
		domain.Ticket{Owner: p1, Outcome: 0, Amount: 7},
		domain.Ticket{Owner: p2, Outcome: 1, Amount: 3},
	)
	for _, policy := range []domain.PayoutPolicy{domain.PayoutWinnersTakePool, domain.PayoutRefundUnresolved} {
		d := Distribute(pool, map[domain.Identity]int{p1: 1}, policy)
		if len(d.Payouts) != 0 {
			t.Errorf("%s: payouts = %v, want none", policy, d.Payouts)
		}
		if len(d.Refunds) != 2 || sumTransfers(d.Refunds) != 10 {
			t.Errorf("%s: refunds = %v, want both tickets", policy, d.Refunds)
		}
	}
}

func TestDistribute_RefundUnresolved(t *testing.T) {
	pool := poolOf(
		domain.Ticket{Owner: p1, Outcome: 0, Amount: 10},
		domain.Ticket{Owner: p2, Outcome: 0, Amount: 10},
		domain.Ticket{Owner: p3, Outcome: 1, Amount: 25},
	)
	// p2 has no usable resolution; p3 resolved but lost.
	d := Distribute(pool, map[domain.Identity]int{p1: 0, p3: 0}, domain.PayoutRefundUnresolved)

	if len(d.Refunds) != 1 || d.Refunds[0].Recipient != p2 || d.Refunds[0].Amount != 10 {
		t.Errorf("refunds = %v, want p2's 10", d.Refunds)
	}
	if len(d.Payouts) != 1 || d.Payouts[0].Recipient != p1 || d.Payouts[0].Amount != 35 {
		t.Errorf("payouts = %v, want p1 35", d.Payouts)
	}
	if got := sumTransfers(d.Payouts) + sumTransfers(d.Refunds); got != pool.Total {
		t.Errorf("distributed %d, want %d", got, pool.Total)
	}
}

func TestDistribute_EmptyPool(t *testing.T) {
	d := Distribute(domain.NewLiquidityPool("m", 2), nil, domain.PayoutWinnersTakePool)
	if len(d.Payouts) != 0 || len(d.Refunds) != 0 {
		t.Errorf("distribution = %+v, want empty", d)
	}
}
