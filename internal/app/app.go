// Package app provides the top-level application lifecycle management for
// peermarket. It wires together all dependencies (ledger, event bus, blob
// storage, services and notifications) and starts the appropriate goroutines
// based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/peermarket/internal/config"
	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Services are the domain services every mode shares.
type Services struct {
	Events     *service.EventPublisher
	Markets    *service.MarketService
	Pools      *service.PoolService
	Validation *service.ValidationService
	Settlement *service.SettlementService
	Queries    *service.QueryService
}

// NewServices builds the domain services over deps.
func NewServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *Services {
	retry := cfg.Market.RetryPolicy()
	events := service.NewEventPublisher(deps.SignalBus, logger)
	return &Services{
		Events:     events,
		Markets:    service.NewMarketService(deps.Ledger, events, retry, logger),
		Pools:      service.NewPoolService(deps.Ledger, events, retry, logger),
		Validation: service.NewValidationService(deps.Ledger, deps.Evidence, events, retry, logger),
		Settlement: service.NewSettlementService(
			deps.Ledger,
			deps.Archiver,
			events,
			domain.PayoutPolicy(cfg.Market.PayoutPolicy),
			cfg.Market.ResolutionTimeout.Duration,
			retry,
			logger,
		),
		Queries: service.NewQueryService(deps.Ledger),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("ledger", a.cfg.Ledger.Backend),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svcs := NewServices(a.cfg, deps, a.logger)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps, svcs)
	case "worker":
		return a.WorkerMode(ctx, deps, svcs)
	case "full":
		return a.FullMode(ctx, deps, svcs)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
