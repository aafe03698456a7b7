package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// CastValidationInput carries the arguments of respond_validation.
type CastValidationInput struct {
	Validator    domain.Identity
	SubmissionID string
	Verdict      domain.Verdict
	Reason       *domain.Reason
}

// ValidationService records submissions and peer votes and resolves each
// submission once its votes reach quorum.
type ValidationService struct {
	ledger   domain.Ledger
	evidence domain.EvidenceChecker
	events   *EventPublisher
	retry    ledger.RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewValidationService creates a ValidationService. evidence may be nil, in
// which case any non-empty evidence reference is accepted.
func NewValidationService(
	l domain.Ledger,
	evidence domain.EvidenceChecker,
	events *EventPublisher,
	retry ledger.RetryPolicy,
	logger *slog.Logger,
) *ValidationService {
	return &ValidationService{
		ledger:   l,
		evidence: evidence,
		events:   events,
		retry:    retry,
		logger:   logger.With(slog.String("component", "validation_service")),
		now:      time.Now,
	}
}

// SubmitResult creates or replaces a participant's claimed result. Once any
// vote exists on the prior submission it is frozen.
func (s *ValidationService) SubmitResult(ctx context.Context, marketID string, participant domain.Identity, claimed int, evidenceRef string) (domain.Submission, error) {
	evidenceRef = strings.TrimSpace(evidenceRef)

	m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
	if err != nil {
		return domain.Submission{}, fmt.Errorf("validation_service: submit %s: %w", marketID, err)
	}
	if err := s.checkSubmission(ctx, m.Value, participant, claimed, evidenceRef); err != nil {
		return domain.Submission{}, fmt.Errorf("validation_service: submit %s: %w", marketID, err)
	}

	var sub domain.Submission
	err = ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		if !m.Value.State.AcceptsResults() {
			return domain.ErrMarketNotClosed
		}
		cur, exists, err := ledger.LoadOptional[domain.Submission](ctx, s.ledger, domain.SubmissionKey(marketID, participant))
		if err != nil {
			return err
		}
		if cur.Value.Frozen() {
			return domain.ErrAlreadySubmitted
		}

		next := domain.Submission{
			MarketID:       marketID,
			Participant:    participant,
			ClaimedOutcome: claimed,
			EvidenceRef:    evidenceRef,
			SubmittedAt:    s.now().UTC(),
			Votes:          map[domain.Identity]domain.Vote{},
		}
		w, err := ledger.Stage(domain.SubmissionKey(marketID, participant), next, cur.Version)
		if err != nil {
			return err
		}
		writes := []domain.Write{w}
		if !exists {
			// Settlement only guards submissions it has read, so a new one
			// also rewrites the market at its read version.
			mw, err := ledger.Stage(m.Key, m.Value, m.Version)
			if err != nil {
				return err
			}
			writes = append(writes, mw)
		}
		if err := s.ledger.Commit(ctx, writes...); err != nil {
			return err
		}
		sub = next
		return nil
	})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("validation_service: submit %s: %w", marketID, err)
	}

	validators, err := s.acceptedParticipants(ctx, marketID)
	if err != nil {
		s.logger.WarnContext(ctx, "validation_service: list validators failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "result submitted",
		slog.String("market_id", marketID),
		slog.String("participant", participant.String()),
		slog.Int("outcome", claimed),
	)
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventSubmissionCreated,
		MarketID:   marketID,
		Actor:      participant,
		Recipients: without(validators, participant),
		Payload:    map[string]any{"submission_id": sub.ID(), "claimed_outcome": claimed},
	})
	return sub, nil
}

// checkSubmission runs every check that does not depend on the submission
// document itself, so bad input is rejected before any write.
func (s *ValidationService) checkSubmission(ctx context.Context, m domain.Market, participant domain.Identity, claimed int, evidenceRef string) error {
	if !m.State.AcceptsResults() {
		return domain.ErrMarketNotClosed
	}
	if err := s.requireAccepted(ctx, m.ID, participant); err != nil {
		return err
	}
	if !m.ValidOutcome(claimed) {
		return domain.ErrInvalidOutcome
	}
	if evidenceRef == "" {
		return fmt.Errorf("%w: evidence reference is required", domain.ErrInvalidInput)
	}
	if s.evidence != nil {
		ok, err := s.evidence.EvidenceExists(ctx, evidenceRef)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: evidence %q not found", domain.ErrInvalidInput, evidenceRef)
		}
	}
	return nil
}

// CastValidation records a validator's vote and recomputes the resolution
// from the full vote set in the same versioned write.
func (s *ValidationService) CastValidation(ctx context.Context, in CastValidationInput) (domain.Submission, error) {
	marketID, submitter, err := ParseSubmissionID(in.SubmissionID)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("validation_service: cast: %w", err)
	}
	vote, err := normaliseVote(in)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("validation_service: cast: %w", err)
	}

	var sub domain.Submission
	err = ledger.Retry(ctx, s.retry, func(ctx context.Context) error {
		m, err := ledger.Load[domain.Market](ctx, s.ledger, domain.MarketKey(marketID))
		if err != nil {
			return err
		}
		if !m.Value.State.AcceptsResults() {
			return domain.ErrMarketNotClosed
		}
		cur, ok, err := ledger.LoadOptional[domain.Submission](ctx, s.ledger, domain.SubmissionKey(marketID, submitter))
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNoSubmission
		}
		if in.Validator == submitter {
			return domain.ErrSelfValidation
		}
		accepted, err := s.acceptedParticipants(ctx, marketID)
		if err != nil {
			return err
		}
		if !slices.Contains(accepted, in.Validator) {
			return domain.ErrNotAParticipant
		}
		if cur.Value.Resolution != nil {
			return domain.ErrAlreadyResolved
		}
		if vote.Reason != nil && vote.Reason.Kind == domain.ReasonDifferentScore && !m.Value.ValidOutcome(vote.Reason.CorrectedOutcome) {
			return domain.ErrInvalidOutcome
		}

		now := s.now().UTC()
		next := cur.Value
		next.Votes = make(map[domain.Identity]domain.Vote, len(cur.Value.Votes)+1)
		for k, v := range cur.Value.Votes {
			next.Votes[k] = v
		}
		v := vote
		v.CastAt = now
		next.Votes[in.Validator] = v
		next.Resolution = Resolve(next, len(without(accepted, submitter)), now)

		w, err := ledger.Stage(cur.Key, next, cur.Version)
		if err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, w); err != nil {
			return err
		}
		sub = next
		return nil
	})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("validation_service: cast %s: %w", in.SubmissionID, err)
	}

	s.logger.InfoContext(ctx, "vote cast",
		slog.String("market_id", marketID),
		slog.String("submission_id", in.SubmissionID),
		slog.String("validator", in.Validator.String()),
		slog.String("verdict", string(vote.Verdict)),
	)
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventVoteCast,
		MarketID:   marketID,
		Actor:      in.Validator,
		Recipients: []domain.Identity{submitter},
		Payload:    map[string]any{"submission_id": in.SubmissionID, "verdict": vote.Verdict},
	})

	if r := sub.Resolution; r != nil {
		s.logger.InfoContext(ctx, "submission resolved",
			slog.String("market_id", marketID),
			slog.String("submission_id", r.SubmissionID),
			slog.Int("outcome", r.Outcome),
			slog.Bool("disputed", r.Disputed),
			slog.Int("valid_votes", r.ValidVotes),
			slog.Int("invalid_votes", r.InvalidVotes),
		)
		s.events.Publish(ctx, domain.Event{
			Type:       domain.EventSubmissionResolved,
			MarketID:   marketID,
			Recipients: []domain.Identity{submitter},
			Payload: map[string]any{
				"submission_id": r.SubmissionID,
				"outcome":       r.Outcome,
				"disputed":      r.Disputed,
			},
		})
	}
	return sub, nil
}

// normaliseVote validates the verdict and reason. Reasons on valid votes
// are dropped.
func normaliseVote(in CastValidationInput) (domain.Vote, error) {
	v := domain.Vote{Validator: in.Validator, Verdict: in.Verdict}
	switch in.Verdict {
	case domain.VerdictValid:
		return v, nil
	case domain.VerdictInvalid:
	default:
		return domain.Vote{}, fmt.Errorf("%w: unknown verdict %q", domain.ErrInvalidInput, in.Verdict)
	}

	if in.Reason == nil {
		return domain.Vote{}, fmt.Errorf("%w: invalid verdict requires a reason", domain.ErrInvalidInput)
	}
	r := *in.Reason
	r.Text = strings.TrimSpace(r.Text)
	switch r.Kind {
	case domain.ReasonDifferentScore:
		if r.CorrectedOutcome < 0 {
			return domain.Vote{}, domain.ErrInvalidOutcome
		}
	case domain.ReasonOther:
		if r.Text == "" {
			return domain.Vote{}, fmt.Errorf("%w: reason text is required", domain.ErrInvalidInput)
		}
		r.CorrectedOutcome = 0
	default:
		return domain.Vote{}, fmt.Errorf("%w: unknown reason kind %q", domain.ErrInvalidInput, r.Kind)
	}
	v.Reason = &r
	return v, nil
}

// ParseSubmissionID splits "{marketID}/{participant}".
func ParseSubmissionID(id string) (string, domain.Identity, error) {
	marketID, raw, ok := strings.Cut(id, "/")
	if !ok || marketID == "" {
		return "", "", fmt.Errorf("%w: malformed submission id %q", domain.ErrInvalidInput, id)
	}
	p, err := domain.ParseIdentity(raw)
	if err != nil {
		return "", "", err
	}
	return marketID, p, nil
}

func (s *ValidationService) requireAccepted(ctx context.Context, marketID string, id domain.Identity) error {
	inv, ok, err := ledger.LoadOptional[domain.Invitation](ctx, s.ledger, domain.InvitationKey(marketID, id))
	if err != nil {
		return err
	}
	if !ok || inv.Value.Status != domain.InvitationAccepted {
		return domain.ErrNotAParticipant
	}
	return nil
}

// acceptedParticipants lists the market's accepted invitations in key order.
func (s *ValidationService) acceptedParticipants(ctx context.Context, marketID string) ([]domain.Identity, error) {
	return acceptedParticipants(ctx, s.ledger, marketID)
}

func acceptedParticipants(ctx context.Context, l domain.Ledger, marketID string) ([]domain.Identity, error) {
	invs, err := ledger.Collect[domain.Invitation](ctx, l, domain.PrefixInvitation+marketID+"/")
	if err != nil {
		return nil, err
	}
	var out []domain.Identity
	for _, inv := range invs {
		if inv.Value.Status == domain.InvitationAccepted {
			out = append(out, inv.Value.Participant)
		}
	}
	return out, nil
}

func without(ids []domain.Identity, id domain.Identity) []domain.Identity {
	out := make([]domain.Identity, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
