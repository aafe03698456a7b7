package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// MarketDetail is a market with its pool summary.
type MarketDetail struct {
	Market  domain.Market `json:"market"`
	Stakes  []int64       `json:"stakes"`
	Total   int64         `json:"total"`
	Chances []string      `json:"chances"`
}

// Position is one identity's tickets in a market.
type Position struct {
	MarketID       string          `json:"market_id"`
	Identity       domain.Identity `json:"identity"`
	Tickets        []domain.Ticket `json:"tickets"`
	StakeByOutcome []int64         `json:"stake_by_outcome"`
	Total          int64           `json:"total"`
}

// OwnerStatus answers whether an identity owns a market.
type OwnerStatus struct {
	MarketID string          `json:"market_id"`
	Identity domain.Identity `json:"identity"`
	IsOwner  bool            `json:"is_owner"`
	State    string          `json:"state"`
}

// PendingInvitation pairs an unanswered invitation with its market title.
type PendingInvitation struct {
	domain.Invitation
	Title   string `json:"title"`
	Owner   string `json:"owner"`
	EndDate string `json:"end_date"`
}

// DueValidation is a submission still waiting for an identity's vote.
type DueValidation struct {
	Submission domain.Submission `json:"submission"`
	Title      string            `json:"title"`
}

// QueryService answers read-only questions straight from ledger contents.
// It holds no state of its own.
type QueryService struct {
	ledger domain.Ledger
}

// NewQueryService creates a QueryService over l.
func NewQueryService(l domain.Ledger) *QueryService {
	return &QueryService{ledger: l}
}

// ListMarkets returns every market, newest first.
func (q *QueryService) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	ms, err := q.markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_service: list markets: %w", err)
	}
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].CreatedAt.After(ms[j].CreatedAt) })
	return ms, nil
}

// MarketDetail returns a market with its stakes and advisory chances.
func (q *QueryService) MarketDetail(ctx context.Context, marketID string) (MarketDetail, error) {
	m, err := ledger.Load[domain.Market](ctx, q.ledger, domain.MarketKey(marketID))
	if err != nil {
		return MarketDetail{}, fmt.Errorf("query_service: market %s: %w", marketID, err)
	}
	p, err := ledger.Load[domain.LiquidityPool](ctx, q.ledger, domain.PoolKey(marketID))
	if err != nil {
		return MarketDetail{}, fmt.Errorf("query_service: pool %s: %w", marketID, err)
	}
	return MarketDetail{
		Market:  m.Value,
		Stakes:  p.Value.Stakes,
		Total:   p.Value.Total,
		Chances: Chances(p.Value),
	}, nil
}

// Submissions returns a market's submissions with votes and resolutions.
func (q *QueryService) Submissions(ctx context.Context, marketID string) ([]domain.Submission, error) {
	if _, err := q.ledger.Get(ctx, domain.MarketKey(marketID)); err != nil {
		return nil, fmt.Errorf("query_service: submissions %s: %w", marketID, err)
	}
	subs, err := ledger.Collect[domain.Submission](ctx, q.ledger, domain.PrefixSubmission+marketID+"/")
	if err != nil {
		return nil, fmt.Errorf("query_service: submissions %s: %w", marketID, err)
	}
	out := make([]domain.Submission, len(subs))
	for i, s := range subs {
		out[i] = s.Value
	}
	return out, nil
}

// Position returns id's tickets in a market and its stake per outcome.
func (q *QueryService) Position(ctx context.Context, marketID string, id domain.Identity) (Position, error) {
	p, err := ledger.Load[domain.LiquidityPool](ctx, q.ledger, domain.PoolKey(marketID))
	if err != nil {
		return Position{}, fmt.Errorf("query_service: position %s: %w", marketID, err)
	}
	pos := Position{
		MarketID:       marketID,
		Identity:       id,
		Tickets:        p.Value.TicketsOf(id),
		StakeByOutcome: make([]int64, len(p.Value.Stakes)),
	}
	if pos.Tickets == nil {
		pos.Tickets = []domain.Ticket{}
	}
	for _, t := range pos.Tickets {
		pos.StakeByOutcome[t.Outcome] += t.Amount
		pos.Total += t.Amount
	}
	return pos, nil
}

// OwnerStatus reports whether id owns the market.
func (q *QueryService) OwnerStatus(ctx context.Context, marketID string, id domain.Identity) (OwnerStatus, error) {
	m, err := ledger.Load[domain.Market](ctx, q.ledger, domain.MarketKey(marketID))
	if err != nil {
		return OwnerStatus{}, fmt.Errorf("query_service: owner status %s: %w", marketID, err)
	}
	return OwnerStatus{
		MarketID: marketID,
		Identity: id,
		IsOwner:  m.Value.Owner == id,
		State:    string(m.Value.State),
	}, nil
}

// Settlement returns a market's settlement record.
func (q *QueryService) Settlement(ctx context.Context, marketID string) (domain.Settlement, error) {
	s, err := ledger.Load[domain.Settlement](ctx, q.ledger, domain.SettlementKey(marketID))
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("query_service: settlement %s: %w", marketID, err)
	}
	return s.Value, nil
}

// Account returns id's balance; unknown identities have zero.
func (q *QueryService) Account(ctx context.Context, id domain.Identity) (domain.Account, error) {
	a, _, err := ledger.LoadOptional[domain.Account](ctx, q.ledger, domain.AccountKey(id))
	if err != nil {
		return domain.Account{}, fmt.Errorf("query_service: account %s: %w", id, err)
	}
	a.Value.Identity = id
	return a.Value, nil
}

// PendingInvitations lists id's unanswered invitations in open markets.
func (q *QueryService) PendingInvitations(ctx context.Context, id domain.Identity) ([]PendingInvitation, error) {
	ms, err := q.markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_service: pending invitations: %w", err)
	}
	out := []PendingInvitation{}
	for _, m := range ms {
		if m.State != domain.MarketStateOpen || !m.HasParticipant(id) {
			continue
		}
		inv, ok, err := ledger.LoadOptional[domain.Invitation](ctx, q.ledger, domain.InvitationKey(m.ID, id))
		if err != nil {
			return nil, fmt.Errorf("query_service: pending invitations: %w", err)
		}
		if !ok || inv.Value.Status != domain.InvitationPending {
			continue
		}
		out = append(out, PendingInvitation{
			Invitation: inv.Value,
			Title:      m.Title,
			Owner:      m.Owner.String(),
			EndDate:    m.EndDate.Format(time.RFC3339),
		})
	}
	return out, nil
}

// SubmissionsDue lists markets awaiting id's result submission: closed or
// resolving markets where id accepted and has not submitted.
func (q *QueryService) SubmissionsDue(ctx context.Context, id domain.Identity) ([]domain.Market, error) {
	ms, err := q.markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_service: submissions due: %w", err)
	}
	out := []domain.Market{}
	for _, m := range ms {
		if !m.State.AcceptsResults() || !m.HasParticipant(id) {
			continue
		}
		accepted, err := q.isAccepted(ctx, m.ID, id)
		if err != nil {
			return nil, fmt.Errorf("query_service: submissions due: %w", err)
		}
		if !accepted {
			continue
		}
		if _, err := q.ledger.Get(ctx, domain.SubmissionKey(m.ID, id)); err == nil {
			continue
		} else if domain.KindOf(err) != domain.KindNotFound {
			return nil, fmt.Errorf("query_service: submissions due: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ValidationsDue lists unresolved submissions by other participants that id
// is eligible to vote on and has not voted on yet.
func (q *QueryService) ValidationsDue(ctx context.Context, id domain.Identity) ([]DueValidation, error) {
	ms, err := q.markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("query_service: validations due: %w", err)
	}
	out := []DueValidation{}
	for _, m := range ms {
		if !m.State.AcceptsResults() || !m.HasParticipant(id) {
			continue
		}
		accepted, err := q.isAccepted(ctx, m.ID, id)
		if err != nil {
			return nil, fmt.Errorf("query_service: validations due: %w", err)
		}
		if !accepted {
			continue
		}
		subs, err := ledger.Collect[domain.Submission](ctx, q.ledger, domain.PrefixSubmission+m.ID+"/")
		if err != nil {
			return nil, fmt.Errorf("query_service: validations due: %w", err)
		}
		for _, s := range subs {
			if s.Value.Participant == id || s.Value.Resolution != nil {
				continue
			}
			if _, voted := s.Value.Votes[id]; voted {
				continue
			}
			out = append(out, DueValidation{Submission: s.Value, Title: m.Title})
		}
	}
	return out, nil
}

func (q *QueryService) markets(ctx context.Context) ([]domain.Market, error) {
	vs, err := ledger.Collect[domain.Market](ctx, q.ledger, domain.PrefixMarket)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Market, len(vs))
	for i, v := range vs {
		out[i] = v.Value
	}
	return out, nil
}

func (q *QueryService) isAccepted(ctx context.Context, marketID string, id domain.Identity) (bool, error) {
	inv, ok, err := ledger.LoadOptional[domain.Invitation](ctx, q.ledger, domain.InvitationKey(marketID, id))
	if err != nil {
		return false, err
	}
	return ok && inv.Value.Status == domain.InvitationAccepted, nil
}
