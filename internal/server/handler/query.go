package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/service"
)

// Queries is the read side the query endpoints project.
type Queries interface {
	ListMarkets(ctx context.Context) ([]domain.Market, error)
	MarketDetail(ctx context.Context, marketID string) (service.MarketDetail, error)
	Submissions(ctx context.Context, marketID string) ([]domain.Submission, error)
	Position(ctx context.Context, marketID string, id domain.Identity) (service.Position, error)
	OwnerStatus(ctx context.Context, marketID string, id domain.Identity) (service.OwnerStatus, error)
	Settlement(ctx context.Context, marketID string) (domain.Settlement, error)
	PendingInvitations(ctx context.Context, id domain.Identity) ([]service.PendingInvitation, error)
	SubmissionsDue(ctx context.Context, id domain.Identity) ([]domain.Market, error)
	ValidationsDue(ctx context.Context, id domain.Identity) ([]service.DueValidation, error)
	Account(ctx context.Context, id domain.Identity) (domain.Account, error)
}

// QueryHandler serves the read-only GET endpoints.
type QueryHandler struct {
	queries Queries
	logger  *slog.Logger
}

func NewQueryHandler(queries Queries, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{queries: queries, logger: logger.With(slog.String("handler", "queries"))}
}

// respond writes v, or the error's status when err is set.
func (h *QueryHandler) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ListMarkets handles GET /api/markets. ?active=true drops settled and
// disputed markets.
func (h *QueryHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.queries.ListMarkets(r.Context())
	if err == nil && r.URL.Query().Get("active") == "true" {
		markets = slices.DeleteFunc(markets, func(m domain.Market) bool { return m.State.Terminal() })
	}
	h.respond(w, r, map[string]any{"markets": markets, "total": len(markets)}, err)
}

// MarketDetail handles GET /api/markets/{id}.
func (h *QueryHandler) MarketDetail(w http.ResponseWriter, r *http.Request) {
	d, err := h.queries.MarketDetail(r.Context(), r.PathValue("id"))
	h.respond(w, r, d, err)
}

// Submissions handles GET /api/markets/{id}/submissions.
func (h *QueryHandler) Submissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.queries.Submissions(r.Context(), r.PathValue("id"))
	h.respond(w, r, map[string]any{"submissions": subs}, err)
}

// Position handles GET /api/markets/{id}/positions/{identity}.
func (h *QueryHandler) Position(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r, "identity")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	pos, err := h.queries.Position(r.Context(), r.PathValue("id"), id)
	h.respond(w, r, pos, err)
}

// OwnerStatus handles GET /api/markets/{id}/owner/{identity}.
func (h *QueryHandler) OwnerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r, "identity")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	st, err := h.queries.OwnerStatus(r.Context(), r.PathValue("id"), id)
	h.respond(w, r, st, err)
}

// Settlement handles GET /api/markets/{id}/settlement.
func (h *QueryHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.queries.Settlement(r.Context(), r.PathValue("id"))
	h.respond(w, r, st, err)
}

// Invitations handles GET /api/participants/{identity}/invitations.
func (h *QueryHandler) Invitations(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r, "identity")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	invs, err := h.queries.PendingInvitations(r.Context(), id)
	h.respond(w, r, map[string]any{"invitations": invs}, err)
}

// SubmissionsDue handles GET /api/participants/{identity}/submissions-due.
func (h *QueryHandler) SubmissionsDue(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r, "identity")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	ms, err := h.queries.SubmissionsDue(r.Context(), id)
	h.respond(w, r, map[string]any{"markets": ms}, err)
}

// ValidationsDue handles GET /api/participants/{identity}/validations-due.
func (h *QueryHandler) ValidationsDue(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r, "identity")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	vs, err := h.queries.ValidationsDue(r.Context(), id)
	h.respond(w, r, map[string]any{"submissions": vs}, err)
}

// Account handles GET /api/accounts/{identity}.
func (h *QueryHandler) Account(w http.ResponseWriter, r *http.Request) {
	id, err := identityParam(r, "identity")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	acct, err := h.queries.Account(r.Context(), id)
	h.respond(w, r, acct, err)
}
