// Package server exposes the action and query API over HTTP plus the event
// stream over websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/server/handler"
	"github.com/alanyoungcy/peermarket/internal/server/middleware"
	"github.com/alanyoungcy/peermarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig

	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Actions *handler.ActionHandler
	Queries *handler.QueryHandler

	// Audit and Evidence are optional; nil leaves their routes unregistered.
	Audit    *handler.AuditHandler
	Evidence *handler.EvidenceHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in
// CORS → Logging → Auth → RateLimit.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, hub, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// NewHandler builds the routed, middleware-wrapped handler. hub may be nil.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/actions/{name}", handlers.Actions.Handle)

	q := handlers.Queries
	mux.HandleFunc("GET /api/markets", q.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", q.MarketDetail)
	mux.HandleFunc("GET /api/markets/{id}/submissions", q.Submissions)
	mux.HandleFunc("GET /api/markets/{id}/positions/{identity}", q.Position)
	mux.HandleFunc("GET /api/markets/{id}/owner/{identity}", q.OwnerStatus)
	mux.HandleFunc("GET /api/markets/{id}/settlement", q.Settlement)
	mux.HandleFunc("GET /api/participants/{identity}/invitations", q.Invitations)
	mux.HandleFunc("GET /api/participants/{identity}/submissions-due", q.SubmissionsDue)
	mux.HandleFunc("GET /api/participants/{identity}/validations-due", q.ValidationsDue)
	mux.HandleFunc("GET /api/accounts/{identity}", q.Account)
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/markets/{id}/audit", handlers.Audit.List)
	}
	if handlers.Evidence != nil {
		mux.HandleFunc("GET /api/evidence", handlers.Evidence.Get)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.Auth, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
