package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// EvidenceHandler streams uploaded evidence to validators.
type EvidenceHandler struct {
	source domain.EvidenceSource
	logger *slog.Logger
}

// NewEvidenceHandler creates an EvidenceHandler. A nil source answers 404.
func NewEvidenceHandler(source domain.EvidenceSource, logger *slog.Logger) *EvidenceHandler {
	return &EvidenceHandler{source: source, logger: logger.With(slog.String("handler", "evidence"))}
}

// Get handles GET /api/evidence?ref=.
func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusNotFound, "not_found", "evidence storage is not enabled")
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		writeDomainError(w, r, h.logger, fmt.Errorf("%w: ref is required", domain.ErrInvalidInput))
		return
	}
	body, err := h.source.OpenEvidence(r.Context(), ref)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: evidence copy failed",
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
	}
}
