package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditHandler serves a market's persisted audit trail.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. A nil store answers 404.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger.With(slog.String("handler", "audit"))}
}

// List handles GET /api/markets/{id}/audit?limit=&offset=&since=&until=.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit log is not enabled")
		return
	}
	opts, err := parseListOpts(r.URL.Query())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	entries, err := h.store.List(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// parseListOpts reads paging and RFC 3339 time bounds.
func parseListOpts(q url.Values) (domain.ListOpts, error) {
	opts := domain.ListOpts{Limit: defaultAuditLimit}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput)
		}
		opts.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidInput)
		}
		opts.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s must be RFC 3339", domain.ErrInvalidInput, name)
		}
		*dst = &t
	}
	return opts, nil
}
