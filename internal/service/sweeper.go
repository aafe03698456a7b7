package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Advanced int `json:"advanced"`
	Settled  int `json:"settled"`
	Disputed int `json:"disputed"`
}

// Sweeper finishes lifecycle steps nobody triggered: markets left closed are
// advanced to resolving, and resolving markets past their deadline are
// either settled or marked disputed. Several sweepers may run at once; the
// ledger's versioned writes decide which one wins each transition.
type Sweeper struct {
	ledger          domain.Ledger
	markets         *MarketService
	settlement      *SettlementService
	settleOnTimeout bool
	interval        time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewSweeper creates a Sweeper. interval defaults to one minute.
func NewSweeper(
	l domain.Ledger,
	markets *MarketService,
	settlement *SettlementService,
	settleOnTimeout bool,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		ledger:          l,
		markets:         markets,
		settlement:      settlement,
		settleOnTimeout: settleOnTimeout,
		interval:        interval,
		logger:          logger.With(slog.String("component", "sweeper")),
		now:             time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	rep, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		return
	}
	if rep != (SweepReport{}) {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("advanced", rep.Advanced),
			slog.Int("settled", rep.Settled),
			slog.Int("disputed", rep.Disputed),
		)
	}
}

// SweepOnce performs a single pass over every market. A failure on one
// market is logged and does not stop the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	markets, err := ledger.Collect[domain.Market](ctx, s.ledger, domain.PrefixMarket)
	if err != nil {
		return rep, fmt.Errorf("sweeper: list markets: %w", err)
	}

	for _, v := range markets {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		m := v.Value
		switch m.State {
		case domain.MarketStateClosed:
			ok, err := s.markets.AdvanceClosed(ctx, m.ID)
			if err != nil {
				s.marketFailed(ctx, m.ID, "advance", err)
				continue
			}
			if ok {
				rep.Advanced++
			}
		case domain.MarketStateResolving:
			if s.now().Before(s.settlement.Deadline(m)) {
				continue
			}
			s.expire(ctx, m.ID, &rep)
		}
	}
	return rep, nil
}

// expire handles a resolving market whose deadline has passed.
func (s *Sweeper) expire(ctx context.Context, marketID string, rep *SweepReport) {
	if s.settleOnTimeout {
		res, err := s.settlement.ForceSettle(ctx, marketID)
		switch {
		case errors.Is(err, domain.ErrAlreadySettled), errors.Is(err, domain.ErrMarketNotResolving):
			return
		case err != nil:
			s.marketFailed(ctx, marketID, "settle", err)
		case res.Settled:
			rep.Settled++
		}
		return
	}

	ok, err := s.markets.MarkDisputed(ctx, marketID, "resolution timeout")
	if err != nil {
		s.marketFailed(ctx, marketID, "dispute", err)
		return
	}
	if ok {
		rep.Disputed++
	}
}

func (s *Sweeper) marketFailed(ctx context.Context, marketID, step string, err error) {
	s.logger.WarnContext(ctx, "sweeper: market step failed",
		slog.String("market_id", marketID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}
