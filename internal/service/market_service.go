package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// CreateMarketInput carries the arguments of create_market.
type CreateMarketInput struct {
	Owner        domain.Identity
	Title        string
	Participants []string
	OutcomeNames []string
	TicketLabels []string
	EndDate      time.Time
}

// MarketService owns the market state machine and invitations.
type MarketService struct {
	ledger domain.Ledger
	events *EventPublisher
	retry  ledger.RetryPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	l domain.Ledger,
	events *EventPublisher,
	retry ledger.RetryPolicy,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger: l,
		events: events,
		retry:  retry,
		logger: logger.With(slog.String("component", "market_service")),
		now:    time.Now,
	}
}

// CreateMarket validates the request and commits the market, one pending
// invitation per participant and an empty pool in a single write.
func (s *MarketService) CreateMarket(ctx context.Context, in CreateMarketInput) (domain.Market, error) {
	now := s.now().UTC()
	m, err := s.newMarket(in, now)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	writes := make([]domain.Write, 0, len(m.Participants)+2)
	stage := func(key string, v any) error {
		w, err := ledger.Stage(key, v, 0)
		if err != nil {
			return err
		}
		writes = append(writes, w)
		return nil
	}

	if err := stage(domain.MarketKey(m.ID), m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}
	for _, p := range m.Participants {
		inv := domain.Invitation{MarketID: m.ID, Participant: p, Status: domain.InvitationPending}
		if err := stage(domain.InvitationKey(m.ID, p), inv); err != nil {
			return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
		}
	}
	if err := stage(domain.PoolKey(m.ID), domain.NewLiquidityPool(m.ID, len(m.Outcomes))); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	if err := s.ledger.Commit(ctx, writes...); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create commit: %w", err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("owner", m.Owner.String()),
		slog.Int("participants", len(m.Participants)),
		slog.Int("outcomes", len(m.Outcomes)),
	)

	for _, p := range m.Participants {
		s.events.Publish(ctx, domain.Event{
			Type:       domain.EventInvitationCreated,
			MarketID:   m.ID,
			Actor:      m.Owner,
			Recipients: []domain.Identity{p},
			Payload:    map[string]any{"title": m.Title},
		})
	}
	s.events.Publish(ctx, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID,
		Actor:    m.Owner,
		Payload:  map[string]any{"title": m.Title, "end_date": m.EndDate},
	})
	return m, nil
}

// newMarket builds the open market or reports the first invalid argument.
func (s *MarketService) newMarket(in CreateMarketInput, now time.Time) (domain.Market, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Market{}, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	if _, err := domain.ParseIdentity(string(in.Owner)); err != nil {
		return domain.Market{}, err
	}

	seen := make(map[domain.Identity]bool, len(in.Participants))
	var participants []domain.Identity
	for _, raw := range in.Participants {
		id, err := domain.ParseIdentity(raw)
		if err != nil {
			return domain.Market{}, err
		}
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}
	if len(participants) == 0 {
		return domain.Market{}, fmt.Errorf("%w: at least one participant is required", domain.ErrInvalidInput)
	}

	if len(in.OutcomeNames) != len(in.TicketLabels) {
		return domain.Market{}, fmt.Errorf("%w: %d outcome names but %d ticket labels",
			domain.ErrInvalidInput, len(in.OutcomeNames), len(in.TicketLabels))
	}
	if len(in.OutcomeNames) < 2 {
		return domain.Market{}, fmt.Errorf("%w: at least two outcomes are required", domain.ErrInvalidInput)
	}
	outcomes := make([]domain.Outcome, len(in.OutcomeNames))
	for i := range in.OutcomeNames {
		name := strings.TrimSpace(in.OutcomeNames[i])
		if name == "" {
			return domain.Market{}, fmt.Errorf("%w: outcome %d has no name", domain.ErrInvalidInput, i)
		}
		outcomes[i] = domain.Outcome{Name: name, Label: strings.TrimSpace(in.TicketLabels[i])}
	}

	if !in.EndDate.After(now) {
		return domain.Market{}, fmt.Errorf("%w: end date must be in the future", domain.ErrInvalidInput)
	}

	owner, _ := domain.ParseIdentity(string(in.Owner))
	return domain.Market{
		ID:           uuid.NewString(),
		Owner:        owner,
		Title:        title,
		Participants: participants,
		Outcomes:     outcomes,
		EndDate:      in.EndDate.UTC(),
		State:        domain.MarketStateOpen,
		CreatedAt:    now,
	}, nil
}

// GetMarket loads a market by ID.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}
	return m.Value, nil
}

// RespondInvitation records a participant's one-time answer. With notify
// set, the owner receives the response as a notification.
func (s *MarketService) RespondInvitation(ctx context.Context, marketID string, participant domain.Identity, accept, notify bool) (domain.Invitation, error) {
	var (
		inv    domain.Invitation
		market domain.Market
	)
	err := ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		cur, ok, err := ledger.LoadOptional[domain.Invitation](ctx, s.ledger, domain.InvitationKey(marketID, participant))
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotInvited
		}
		if cur.Value.Status != domain.InvitationPending {
			return domain.ErrAlreadyResponded
		}
		if m.Value.State != domain.MarketStateOpen {
			return domain.ErrMarketNotOpen
		}

		next := cur.Value
		next.Status = domain.InvitationDeclined
		if accept {
			next.Status = domain.InvitationAccepted
		}
		at := s.now().UTC()
		next.RespondedAt = &at

		w, err := ledger.Stage(cur.Key, next, cur.Version)
		if err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, w); err != nil {
			return err
		}
		inv, market = next, m.Value
		return nil
	})
	if err != nil {
		return domain.Invitation{}, fmt.Errorf("market_service: respond invitation %s/%s: %w", marketID, participant, err)
	}

	s.logger.InfoContext(ctx, "invitation answered",
		slog.String("market_id", marketID),
		slog.String("participant", participant.String()),
		slog.String("status", string(inv.Status)),
	)

	ev := domain.Event{
		Type:     domain.EventInvitationResponded,
		MarketID: marketID,
		Actor:    participant,
		Payload:  map[string]any{"status": inv.Status},
	}
	if notify {
		ev.Recipients = []domain.Identity{market.Owner}
	}
	s.events.Publish(ctx, ev)
	return inv, nil
}

// CloseMarket lets the owner close an open market at any time. The market
// is written as closed and then advanced to resolving in a second write;
// the sweeper finishes the advance if the second write is lost.
func (s *MarketService) CloseMarket(ctx context.Context, marketID string, caller domain.Identity) (domain.Market, error) {
	var closed ledger.Versioned[domain.Market]
	err := ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		if m.Value.Owner != caller {
			return domain.ErrForbidden
		}
		switch m.Value.State {
		case domain.MarketStateCreated:
			// CreateMarket writes markets as open; kept for stored data only.
			return domain.ErrNotYetOpen
		case domain.MarketStateOpen:
		default:
			return domain.ErrAlreadyClosed
		}

		now := s.now().UTC()
		next := m.Value
		next.State = domain.MarketStateClosed
		next.ClosedAt = &now
		next.ClosedEarly = now.Before(next.EndDate)

		// The pool is rewritten unchanged so a purchase that read the market
		// as open fails its commit and re-reads the closed state.
		pool, err := ledger.Load[domain.LiquidityPool](ctx, s.ledger, domain.PoolKey(marketID))
		if err != nil {
			return err
		}
		w, err := ledger.Stage(m.Key, next, m.Version)
		if err != nil {
			return err
		}
		pw, err := ledger.Stage(pool.Key, pool.Value, pool.Version)
		if err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, w, pw); err != nil {
			return err
		}
		closed = ledger.Versioned[domain.Market]{Key: m.Key, Value: next, Version: m.Version + 1}
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: close %s: %w", marketID, err)
	}

	s.logger.InfoContext(ctx, "market closed",
		slog.String("market_id", marketID),
		slog.Bool("closed_early", closed.Value.ClosedEarly),
	)
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventMarketClosed,
		MarketID:   marketID,
		Actor:      caller,
		Recipients: closed.Value.Participants,
		Payload:    map[string]any{"closed_early": closed.Value.ClosedEarly},
	})

	resolving, err := s.advanceToResolving(ctx, closed)
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: advance to resolving failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return closed.Value, nil
	}
	return resolving, nil
}

// AdvanceClosed moves a market left in the closed state on to resolving.
// It is a no-op for markets in any other state.
func (s *MarketService) AdvanceClosed(ctx context.Context, marketID string) (bool, error) {
	advanced := false
	err := ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		if m.Value.State != domain.MarketStateClosed {
			return nil
		}
		if _, err := s.advanceToResolving(ctx, m); err != nil {
			return err
		}
		advanced = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("market_service: advance %s: %w", marketID, err)
	}
	return advanced, nil
}

func (s *MarketService) advanceToResolving(ctx context.Context, m ledger.Versioned[domain.Market]) (domain.Market, error) {
	now := s.now().UTC()
	next := m.Value
	next.State = domain.MarketStateResolving
	next.ResolvingSince = &now

	w, err := ledger.Stage(m.Key, next, m.Version)
	if err != nil {
		return domain.Market{}, err
	}
	if err := s.ledger.Commit(ctx, w); err != nil {
		return domain.Market{}, err
	}

	s.logger.InfoContext(ctx, "market resolving", slog.String("market_id", next.ID))
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventMarketResolving,
		MarketID:   next.ID,
		Recipients: next.Participants,
	})
	return next, nil
}

// MarkDisputed moves a resolving market whose deadline has passed to the
// market-level disputed state. It reports false if the market was no longer
// resolving.
func (s *MarketService) MarkDisputed(ctx context.Context, marketID, reason string) (bool, error) {
	var disputed *domain.Market
	err := ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		disputed = nil
		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		if m.Value.State != domain.MarketStateResolving {
			return nil
		}
		now := s.now().UTC()
		next := m.Value
		next.State = domain.MarketStateDisputed
		next.DisputedAt = &now

		w, err := ledger.Stage(m.Key, next, m.Version)
		if err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, w); err != nil {
			return err
		}
		disputed = &next
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("market_service: mark disputed %s: %w", marketID, err)
	}
	if disputed == nil {
		return false, nil
	}

	s.logger.WarnContext(ctx, "market disputed",
		slog.String("market_id", marketID),
		slog.String("reason", reason),
	)
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventMarketDisputed,
		MarketID:   marketID,
		Recipients: append([]domain.Identity{disputed.Owner}, disputed.Participants...),
		Payload:    map[string]any{"reason": reason},
	})
	return true, nil
}
