package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// SettleResult reports whether a settle call moved funds. Settled is false
// when the market is not ready yet and nothing was written.
type SettleResult struct {
	Settled    bool               `json:"settled"`
	Pending    int                `json:"pending_submissions"`
	Deadline   time.Time          `json:"deadline"`
	Settlement *domain.Settlement `json:"settlement,omitempty"`
}

// SettlementService distributes a resolving market's pool exactly once.
type SettlementService struct {
	ledger   domain.Ledger
	archiver domain.Archiver
	events   *EventPublisher
	policy   domain.PayoutPolicy
	timeout  time.Duration
	retry    ledger.RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewSettlementService creates a SettlementService. archiver may be nil.
// timeout is the resolution window after which a market settles with the
// resolutions it has.
func NewSettlementService(
	l domain.Ledger,
	archiver domain.Archiver,
	events *EventPublisher,
	policy domain.PayoutPolicy,
	timeout time.Duration,
	retry ledger.RetryPolicy,
	logger *slog.Logger,
) *SettlementService {
	if policy == "" {
		policy = domain.PayoutWinnersTakePool
	}
	return &SettlementService{
		ledger:   l,
		archiver: archiver,
		events:   events,
		policy:   policy,
		timeout:  timeout,
		retry:    retry,
		logger:   logger.With(slog.String("component", "settlement_service")),
		now:      time.Now,
	}
}

// Settle distributes the pool once every submission has resolved, or once
// the resolution deadline has passed. Before that it stays the same.
func (s *SettlementService) Settle(ctx context.Context, marketID string) (SettleResult, error) {
	return s.settle(ctx, marketID, false)
}

// ForceSettle settles with whatever resolutions exist, ignoring readiness.
func (s *SettlementService) ForceSettle(ctx context.Context, marketID string) (SettleResult, error) {
	return s.settle(ctx, marketID, true)
}

func (s *SettlementService) settle(ctx context.Context, marketID string, force bool) (SettleResult, error) {
	var res SettleResult
	err := ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		res = SettleResult{}
		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		if m.Value.State == domain.MarketStateSettled {
			return domain.ErrAlreadySettled
		}
		if _, ok, err := ledger.LoadOptional[domain.Settlement](ctx, s.ledger, domain.SettlementKey(marketID)); err != nil {
			return err
		} else if ok {
			return domain.ErrAlreadySettled
		}
		if m.Value.State != domain.MarketStateResolving {
			return domain.ErrMarketNotResolving
		}

		subs, err := ledger.Collect[domain.Submission](ctx, s.ledger, domain.PrefixSubmission+marketID+"/")
		if err != nil {
			return err
		}
		outcomes := make(map[domain.Identity]int)
		resolved := 0
		for _, sub := range subs {
			r := sub.Value.Resolution
			if r == nil {
				res.Pending++
				continue
			}
			resolved++
			if !r.Disputed {
				outcomes[sub.Value.Participant] = r.Outcome
			}
		}

		now := s.now().UTC()
		res.Deadline = s.Deadline(m.Value)
		if !force && now.Before(res.Deadline) && (resolved == 0 || res.Pending > 0) {
			return nil
		}

		pool, err := ledger.Load[domain.LiquidityPool](ctx, s.ledger, domain.PoolKey(marketID))
		if err != nil {
			return err
		}
		dist := Distribute(pool.Value, outcomes, s.policy)
		settlement := domain.Settlement{
			MarketID:     marketID,
			Policy:       s.policy,
			TotalStake:   pool.Value.Total,
			WinningStake: dist.WinningStake,
			Payouts:      dist.Payouts,
			Refunds:      dist.Refunds,
			SettledAt:    now,
		}

		writes, err := s.creditWrites(ctx, settlement.Credits())
		if err != nil {
			return err
		}
		sw, err := ledger.Stage(domain.SettlementKey(marketID), settlement, 0)
		if err != nil {
			return err
		}
		next := m.Value
		next.State = domain.MarketStateSettled
		next.SettledAt = &now
		mw, err := ledger.Stage(m.Key, next, m.Version)
		if err != nil {
			return err
		}
		writes = append(writes, sw, mw)

		// The pool and every submission read above are rewritten at their
		// read versions, so a vote or purchase that lands first forces a
		// retry over the new state.
		pw, err := ledger.Stage(pool.Key, pool.Value, pool.Version)
		if err != nil {
			return err
		}
		writes = append(writes, pw)
		for _, sub := range subs {
			w, err := ledger.Stage(sub.Key, sub.Value, sub.Version)
			if err != nil {
				return err
			}
			writes = append(writes, w)
		}
		if err := s.ledger.Commit(ctx, writes...); err != nil {
			return err
		}

		res.Settled = true
		res.Settlement = &settlement
		return nil
	})
	if err != nil {
		return SettleResult{}, fmt.Errorf("settlement_service: settle %s: %w", marketID, err)
	}

	if !res.Settled {
		s.logger.InfoContext(ctx, "settlement not ready",
			slog.String("market_id", marketID),
			slog.Int("pending", res.Pending),
			slog.Time("deadline", res.Deadline),
		)
		return res, nil
	}

	st := res.Settlement
	s.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", marketID),
		slog.String("policy", string(st.Policy)),
		slog.Int64("total_stake", st.TotalStake),
		slog.Int64("winning_stake", st.WinningStake),
		slog.Int("payouts", len(st.Payouts)),
		slog.Int("refunds", len(st.Refunds)),
		slog.Bool("forced", force),
	)

	if s.archiver != nil {
		if err := s.archiver.ArchiveMarket(ctx, marketID); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: archive failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	credits := st.Credits()
	recipients := make([]domain.Identity, 0, len(credits))
	for id := range credits {
		recipients = append(recipients, id)
	}
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventMarketSettled,
		MarketID:   marketID,
		Recipients: recipients,
		Payload: map[string]any{
			"total_stake":   st.TotalStake,
			"winning_stake": st.WinningStake,
			"policy":        st.Policy,
		},
	})
	return res, nil
}

// Deadline is when a resolving market stops waiting for resolutions.
func (s *SettlementService) Deadline(m domain.Market) time.Time {
	since := m.CreatedAt
	if m.ResolvingSince != nil {
		since = *m.ResolvingSince
	}
	return since.Add(s.timeout)
}

// creditWrites stages balance increases for every credited account.
func (s *SettlementService) creditWrites(ctx context.Context, credits map[domain.Identity]int64) ([]domain.Write, error) {
	writes := make([]domain.Write, 0, len(credits)+2)
	for id, amount := range credits {
		if amount == 0 {
			continue
		}
		acct, _, err := ledger.LoadOptional[domain.Account](ctx, s.ledger, domain.AccountKey(id))
		if err != nil {
			return nil, err
		}
		next := domain.Account{Identity: id, Balance: acct.Value.Balance + amount}
		w, err := ledger.Stage(domain.AccountKey(id), next, acct.Version)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}
	return writes, nil
}
