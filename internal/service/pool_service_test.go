package service

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

func TestBuyTicket_Errors(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	m := f.createMarket(p1)
	if _, err := f.pools.Deposit(f.ctx, p1, 5); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	tests := []struct {
		name    string
		outcome int
		amount  int64
		want    error
	}{
		{"zero amount", 0, 0, domain.ErrInvalidInput},
		{"negative amount", 0, -3, domain.ErrInvalidInput},
		{"outcome out of range", 2, 1, domain.ErrInvalidOutcome},
		{"insufficient funds", 0, 6, domain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pools.BuyTicket(f.ctx, m.ID, p1, tt.outcome, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	f.clock.Advance(25 * time.Hour)
	if _, err := f.pools.BuyTicket(f.ctx, m.ID, p1, 0, 1); !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Errorf("after end date err = %v, want ErrMarketNotOpen", err)
	}
	if got := f.balance(p1); got != 5 {
		t.Errorf("balance = %d, want untouched 5", got)
	}
}

func TestBuyTicket_ConcurrentBuysKeepTotal(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	buyers := []domain.Identity{p1, p2, p3}
	m := f.createMarket(buyers...)
	for _, b := range buyers {
		if _, err := f.pools.Deposit(f.ctx, b, 1000); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
	}

	const perBuyer = 10
	var g errgroup.Group
	for i, b := range buyers {
		for j := range perBuyer {
			g.Go(func() error {
				_, err := f.pools.BuyTicket(f.ctx, m.ID, b, (i+j)%2, int64(j+1))
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent BuyTicket failed: %v", err)
	}

	pool, err := f.pools.Pool(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("Pool failed: %v", err)
	}
	if len(pool.Tickets) != len(buyers)*perBuyer {
		t.Fatalf("tickets = %d, want %d", len(pool.Tickets), len(buyers)*perBuyer)
	}

	var sum, stakes int64
	seqs := make(map[int64]bool)
	for _, tk := range pool.Tickets {
		sum += tk.Amount
		if seqs[tk.Seq] {
			t.Errorf("duplicate seq %d", tk.Seq)
		}
		seqs[tk.Seq] = true
	}
	for _, s := range pool.Stakes {
		stakes += s
	}
	if pool.Total != sum || stakes != sum {
		t.Errorf("total = %d stakes = %d, want both %d", pool.Total, stakes, sum)
	}

	var balances int64
	for _, b := range buyers {
		balances += f.balance(b)
	}
	if balances+pool.Total != 3000 {
		t.Errorf("balances %d + pool %d != deposits 3000", balances, pool.Total)
	}
}

func TestChances(t *testing.T) {
	tests := []struct {
		name   string
		stakes []int64
		want   []string
	}{
		{"empty pool", []int64{0, 0}, []string{"0", "0"}},
		{"even", []int64{5, 5}, []string{"0.5000", "0.5000"}},
		{"thirds", []int64{1, 2}, []string{"0.3333", "0.6667"}},
		{"one sided", []int64{0, 7, 0}, []string{"0.0000", "1.0000", "0.0000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.LiquidityPool{Stakes: tt.stakes}
			for _, s := range tt.stakes {
				p.Total += s
			}
			got := Chances(p)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Chances()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuyTicket_CloseBeforeCommitRejectsTicket(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	m := f.createMarket(p1, p2)
	f.acceptAll(m.ID, p1, p2)
	if _, err := f.pools.Deposit(f.ctx, p1, 10); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// The owner closes the market after the purchase has read it as open.
	f.ledger.beforeCommit(domain.PoolKey(m.ID), func() {
		if _, err := f.markets.CloseMarket(f.ctx, m.ID, owner); err != nil {
			t.Errorf("CloseMarket failed: %v", err)
		}
	})
	if _, err := f.pools.BuyTicket(f.ctx, m.ID, p1, 0, 10); !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Fatalf("BuyTicket err = %v, want ErrMarketNotOpen", err)
	}

	pool, err := f.pools.Pool(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("Pool failed: %v", err)
	}
	if pool.Total != 0 || len(pool.Tickets) != 0 {
		t.Errorf("pool = %+v, want untouched after close", pool)
	}
	if got := f.balance(p1); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}
