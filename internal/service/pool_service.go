package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// chancePlaces is the number of decimal places reported by Chances.
const chancePlaces = 4

// PoolService issues tickets against market pools and manages the account
// balances that fund them.
type PoolService struct {
	ledger domain.Ledger
	events *EventPublisher
	retry  ledger.RetryPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewPoolService creates a PoolService with all required dependencies.
func NewPoolService(
	l domain.Ledger,
	events *EventPublisher,
	retry ledger.RetryPolicy,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		ledger: l,
		events: events,
		retry:  retry,
		logger: logger.With(slog.String("component", "pool_service")),
		now:    time.Now,
	}
}

// BuyTicket debits the buyer and stakes amount on outcome. The account
// debit, the pool update and the new ticket land in one commit.
func (s *PoolService) BuyTicket(ctx context.Context, marketID string, buyer domain.Identity, outcome int, amount int64) (domain.Ticket, error) {
	if amount <= 0 {
		return domain.Ticket{}, fmt.Errorf("pool_service: buy ticket: %w: amount must be positive", domain.ErrInvalidInput)
	}

	var ticket domain.Ticket
	attempt := 0
	err := ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.logger.DebugContext(ctx, "buy ticket retry",
				slog.String("market_id", marketID),
				slog.Int("attempt", attempt),
			)
		}

		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if m.Value.State != domain.MarketStateOpen || !now.Before(m.Value.EndDate) {
			return domain.ErrMarketNotOpen
		}
		if !m.Value.ValidOutcome(outcome) {
			return domain.ErrInvalidOutcome
		}

		acct, _, err := ledger.LoadOptional[domain.Account](ctx, s.ledger, domain.AccountKey(buyer))
		if err != nil {
			return err
		}
		if acct.Value.Balance < amount {
			return domain.ErrInsufficientFunds
		}
		pool, err := ledger.Load[domain.LiquidityPool](ctx, s.ledger, domain.PoolKey(marketID))
		if err != nil {
			return err
		}

		t := domain.Ticket{
			MarketID:    marketID,
			Owner:       buyer,
			Outcome:     outcome,
			Amount:      amount,
			Seq:         pool.Value.NextSeq,
			PurchasedAt: now,
		}
		nextPool := pool.Value
		nextPool.Stakes = append([]int64(nil), pool.Value.Stakes...)
		nextPool.Stakes[outcome] += amount
		nextPool.Total += amount
		nextPool.NextSeq++
		nextPool.Tickets = append(append([]domain.Ticket(nil), pool.Value.Tickets...), t)

		nextAcct := domain.Account{Identity: buyer, Balance: acct.Value.Balance - amount}

		poolW, err := ledger.Stage(pool.Key, nextPool, pool.Version)
		if err != nil {
			return err
		}
		acctW, err := ledger.Stage(domain.AccountKey(buyer), nextAcct, acct.Version)
		if err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, poolW, acctW); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("pool_service: buy ticket %s: %w", marketID, err)
	}

	s.logger.InfoContext(ctx, "ticket bought",
		slog.String("market_id", marketID),
		slog.String("buyer", buyer.String()),
		slog.Int("outcome", outcome),
		slog.Int64("amount", amount),
		slog.Int64("seq", ticket.Seq),
	)
	s.events.Publish(ctx, domain.Event{
		Type:     domain.EventTicketBought,
		MarketID: marketID,
		Actor:    buyer,
		Payload:  map[string]any{"outcome": outcome, "amount": amount, "seq": ticket.Seq},
	})
	return ticket, nil
}

// Pool returns the current pool of a market.
func (s *PoolService) Pool(ctx context.Context, marketID string) (domain.LiquidityPool, error) {
	p, err := ledger.Load[domain.LiquidityPool](ctx, s.ledger, domain.PoolKey(marketID))
	if err != nil {
		return domain.LiquidityPool{}, fmt.Errorf("pool_service: get pool %s: %w", marketID, err)
	}
	return p.Value, nil
}

// Deposit credits amount to an account, creating it if needed.
func (s *PoolService) Deposit(ctx context.Context, id domain.Identity, amount int64) (domain.Account, error) {
	if amount <= 0 {
		return domain.Account{}, fmt.Errorf("pool_service: deposit: %w: amount must be positive", domain.ErrInvalidInput)
	}

	var acct domain.Account
	err := ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		cur, _, err := ledger.LoadOptional[domain.Account](ctx, s.ledger, domain.AccountKey(id))
		if err != nil {
			return err
		}
		next := domain.Account{Identity: id, Balance: cur.Value.Balance + amount}
		w, err := ledger.Stage(domain.AccountKey(id), next, cur.Version)
		if err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, w); err != nil {
			return err
		}
		acct = next
		return nil
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("pool_service: deposit %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "deposit",
		slog.String("identity", id.String()),
		slog.Int64("amount", amount),
		slog.Int64("balance", acct.Balance),
	)
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventDeposit,
		Actor:      id,
		Recipients: []domain.Identity{id},
		Payload:    map[string]any{"amount": amount, "balance": acct.Balance},
	})
	return acct, nil
}

// Balance returns an account; unknown identities have a zero balance.
func (s *PoolService) Balance(ctx context.Context, id domain.Identity) (domain.Account, error) {
	acct, _, err := ledger.LoadOptional[domain.Account](ctx, s.ledger, domain.AccountKey(id))
	if err != nil {
		return domain.Account{}, fmt.Errorf("pool_service: balance %s: %w", id, err)
	}
	acct.Value.Identity = id
	return acct.Value, nil
}

// Chances returns stake[i]/total for every outcome as fixed-point decimal
// strings. They are advisory and never feed settlement.
func Chances(pool domain.LiquidityPool) []string {
	out := make([]string, len(pool.Stakes))
	if pool.Total <= 0 {
		for i := range out {
			out[i] = "0"
		}
		return out
	}
	total := decimal.NewFromInt(pool.Total)
	for i, stake := range pool.Stakes {
		out[i] = decimal.NewFromInt(stake).DivRound(total, chancePlaces).StringFixed(chancePlaces)
	}
	return out
}
