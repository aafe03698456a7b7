package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/server/middleware"
	"github.com/alanyoungcy/peermarket/internal/service"
)

// MarketActions is the part of the market service the action endpoint uses.
type MarketActions interface {
	CreateMarket(ctx context.Context, in service.CreateMarketInput) (domain.Market, error)
	RespondInvitation(ctx context.Context, marketID string, participant domain.Identity, accept, notify bool) (domain.Invitation, error)
	CloseMarket(ctx context.Context, marketID string, caller domain.Identity) (domain.Market, error)
}

// PoolActions covers ticket purchases and the operator faucet.
type PoolActions interface {
	BuyTicket(ctx context.Context, marketID string, buyer domain.Identity, outcome int, amount int64) (domain.Ticket, error)
	Deposit(ctx context.Context, id domain.Identity, amount int64) (domain.Account, error)
}

// ValidationActions covers result submission and peer votes.
type ValidationActions interface {
	SubmitResult(ctx context.Context, marketID string, participant domain.Identity, claimed int, evidenceRef string) (domain.Submission, error)
	CastValidation(ctx context.Context, in service.CastValidationInput) (domain.Submission, error)
}

// SettlementActions covers distribute_reward_or_stay_same.
type SettlementActions interface {
	Settle(ctx context.Context, marketID string) (service.SettleResult, error)
}

// ActionConfig holds the settings the action endpoint enforces.
type ActionConfig struct {
	// RegistryRef, when set, must match any non-empty registry_ref sent.
	RegistryRef string
	// Operators may call deposit.
	Operators []domain.Identity
}

type actionFunc func(ctx context.Context, caller domain.Identity, r *http.Request) (any, error)

// ActionHandler serves POST /api/actions/{name}.
type ActionHandler struct {
	markets    MarketActions
	pools      PoolActions
	validation ValidationActions
	settlement SettlementActions
	cfg        ActionConfig
	operators  map[domain.Identity]bool
	actions    map[string]actionFunc
	logger     *slog.Logger
}

func NewActionHandler(
	markets MarketActions,
	pools PoolActions,
	validation ValidationActions,
	settlement SettlementActions,
	cfg ActionConfig,
	logger *slog.Logger,
) *ActionHandler {
	h := &ActionHandler{
		markets:    markets,
		pools:      pools,
		validation: validation,
		settlement: settlement,
		cfg:        cfg,
		operators:  make(map[domain.Identity]bool, len(cfg.Operators)),
		logger:     logger.With(slog.String("handler", "actions")),
	}
	for _, op := range cfg.Operators {
		h.operators[op] = true
	}
	h.actions = map[string]actionFunc{
		"create_market":                  h.createMarket,
		"respond_invitation":             h.respondInvitation,
		"buy_ticket":                     h.buyTicket,
		"finish_market":                  h.finishMarket,
		"create_validation":              h.createValidation,
		"respond_validation":             h.respondValidation,
		"distribute_reward_or_stay_same": h.distribute,
		"deposit":                        h.deposit,
	}
	return h
}

// actionResponse wraps every successful action result.
type actionResponse struct {
	Action string `json:"action"`
	Result any    `json:"result"`
}

// Handle dispatches to the named action. Every action needs a caller.
func (h *ActionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	fn, ok := h.actions[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_action", fmt.Sprintf("unknown action %q", name))
		return
	}
	caller, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "signed peer identity required")
		return
	}

	result, err := fn(r.Context(), caller, r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Action: name, Result: result})
}

// checkRegistry rejects a registry reference that names another registry.
func (h *ActionHandler) checkRegistry(ctx context.Context, action, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref != "" && h.cfg.RegistryRef != "" && ref != h.cfg.RegistryRef {
		return fmt.Errorf("%w: registry_ref %q does not match this registry", domain.ErrInvalidInput, ref)
	}
	if ref != "" {
		h.logger.DebugContext(ctx, "registry ref", slog.String("action", action), slog.String("registry_ref", ref))
	}
	return nil
}

func (h *ActionHandler) createMarket(ctx context.Context, caller domain.Identity, r *http.Request) (any, error) {
	var body struct {
		Title        string    `json:"title"`
		Participants []string  `json:"participants"`
		TicketLabels []string  `json:"ticket_labels"`
		OutcomeNames []string  `json:"outcome_names"`
		EndDate      time.Time `json:"end_date"`
		RegistryRef  string    `json:"registry_ref"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if err := h.checkRegistry(ctx, "create_market", body.RegistryRef); err != nil {
		return nil, err
	}
	return h.markets.CreateMarket(ctx, service.CreateMarketInput{
		Owner:        caller,
		Title:        body.Title,
		Participants: body.Participants,
		OutcomeNames: body.OutcomeNames,
		TicketLabels: body.TicketLabels,
		EndDate:      body.EndDate,
	})
}

func (h *ActionHandler) respondInvitation(ctx context.Context, caller domain.Identity, r *http.Request) (any, error) {
	var body struct {
		RegistryRef  string `json:"registry_ref"`
		Accept       bool   `json:"accept"`
		Notify       bool   `json:"notify"`
		InvitationID string `json:"invitation_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if err := h.checkRegistry(ctx, "respond_invitation", body.RegistryRef); err != nil {
		return nil, err
	}
	// Invitation IDs share the "{market}/{participant}" form of submissions.
	marketID, participant, err := service.ParseSubmissionID(body.InvitationID)
	if err != nil {
		return nil, err
	}
	if participant != caller {
		return nil, fmt.Errorf("%w: invitation belongs to %s", domain.ErrForbidden, participant)
	}
	return h.markets.RespondInvitation(ctx, marketID, caller, body.Accept, body.Notify)
}

func (h *ActionHandler) buyTicket(ctx context.Context, caller domain.Identity, r *http.Request) (any, error) {
	var body struct {
		OutcomeIndex int    `json:"outcome_index"`
		Quantity     int64  `json:"quantity"`
		PoolRef      string `json:"pool_ref"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	return h.pools.BuyTicket(ctx, body.PoolRef, caller, body.OutcomeIndex, body.Quantity)
}

func (h *ActionHandler) finishMarket(ctx context.Context, caller domain.Identity, r *http.Request) (any, error) {
	var body struct {
		MarketRef string `json:"market_ref"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	return h.markets.CloseMarket(ctx, body.MarketRef, caller)
}

func (h *ActionHandler) createValidation(ctx context.Context, caller domain.Identity, r *http.Request) (any, error) {
	var body struct {
		ClaimedOutcome int    `json:"claimed_outcome"`
		EvidenceRef    string `json:"evidence_ref"`
		RegistryRef    string `json:"registry_ref"`
		MarketRef      string `json:"market_ref"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if err := h.checkRegistry(ctx, "create_validation", body.RegistryRef); err != nil {
		return nil, err
	}
	return h.validation.SubmitResult(ctx, body.MarketRef, caller, body.ClaimedOutcome, body.EvidenceRef)
}

func (h *ActionHandler) respondValidation(ctx context.Context, caller domain.Identity, r *http.Request) (any, error) {
	var body struct {
		RegistryRef      string `json:"registry_ref"`
		SubmissionID     string `json:"submission_id"`
		Verdict          string `json:"verdict"`
		ReasonKind       string `json:"reason_kind"`
		ReasonText       string `json:"reason_text"`
		CorrectedOutcome *int   `json:"corrected_outcome"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if err := h.checkRegistry(ctx, "respond_validation", body.RegistryRef); err != nil {
		return nil, err
	}

	in := service.CastValidationInput{
		Validator:    caller,
		SubmissionID: body.SubmissionID,
		Verdict:      domain.Verdict(strings.ToLower(strings.TrimSpace(body.Verdict))),
	}
	if in.Verdict == domain.VerdictInvalid {
		in.Reason = reasonFrom(body.ReasonKind, body.ReasonText, body.CorrectedOutcome)
	}
	return h.validation.CastValidation(ctx, in)
}

// reasonFrom builds an invalid-vote reason. Without an explicit kind, a
// corrected outcome implies different_score and text alone implies other.
func reasonFrom(kind, text string, corrected *int) *domain.Reason {
	r := &domain.Reason{Kind: domain.ReasonKind(strings.ToLower(strings.TrimSpace(kind))), Text: text}
	if r.Kind == "" {
		switch {
		case corrected != nil:
			r.Kind = domain.ReasonDifferentScore
		case strings.TrimSpace(text) != "":
			r.Kind = domain.ReasonOther
		default:
			return nil
		}
	}
	if corrected != nil {
		r.CorrectedOutcome = *corrected
	} else if r.Kind == domain.ReasonDifferentScore {
		r.CorrectedOutcome = -1
	}
	return r
}

func (h *ActionHandler) distribute(ctx context.Context, _ domain.Identity, r *http.Request) (any, error) {
	var body struct {
		MarketRef   string `json:"market_ref"`
		RegistryRef string `json:"registry_ref"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if err := h.checkRegistry(ctx, "distribute_reward_or_stay_same", body.RegistryRef); err != nil {
		return nil, err
	}
	return h.settlement.Settle(ctx, body.MarketRef)
}

func (h *ActionHandler) deposit(ctx context.Context, caller domain.Identity, r *http.Request) (any, error) {
	if !h.operators[caller] {
		return nil, fmt.Errorf("%w: deposit is restricted to operators", domain.ErrForbidden)
	}
	var body struct {
		Identity string `json:"identity"`
		Amount   int64  `json:"amount"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	id, err := domain.ParseIdentity(body.Identity)
	if err != nil {
		return nil, err
	}
	return h.pools.Deposit(ctx, id, body.Amount)
}
