package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/peermarket/internal/notify"
	"github.com/alanyoungcy/peermarket/internal/server"
	"github.com/alanyoungcy/peermarket/internal/server/handler"
	"github.com/alanyoungcy/peermarket/internal/server/middleware"
	"github.com/alanyoungcy/peermarket/internal/server/ws"
	"github.com/alanyoungcy/peermarket/internal/service"
)

// auditInterval is how often the audit recorder polls the event stream.
const auditInterval = 2 * time.Second

// ServerMode serves the action and query API plus the websocket event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// WorkerMode runs the background loops: the deadline sweeper, the
// notification dispatcher and the audit recorder.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svcs)
	return g.Wait()
}

// FullMode runs the server and every worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svcs)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	return g.Wait()
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *Services) {
	sweeper := service.NewSweeper(
		deps.Ledger,
		svcs.Markets,
		svcs.Settlement,
		a.cfg.Market.SettleOnTimeout,
		a.cfg.Market.SweepInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	if deps.Notifier.Enabled() {
		dispatcher := notify.NewDispatcher(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error {
			return dispatcher.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "notifications disabled: no sender configured")
	}

	if deps.AuditStore != nil {
		recorder := service.NewAuditRecorder(deps.SignalBus, deps.AuditStore, auditInterval, a.logger)
		g.Go(func() error {
			return recorder.Run(ctx)
		})
	}
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *Services) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	operators := a.cfg.Server.Operators()
	if len(operators) == 0 {
		a.logger.WarnContext(ctx, "no operator_keys configured; deposits are disabled")
	}
	if !a.cfg.Server.Auth.Enabled {
		a.logger.WarnContext(ctx, "request signature checks are disabled; X-Peer-Address is trusted")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Auth: middleware.AuthConfig{
			Enabled: a.cfg.Server.Auth.Enabled,
			MaxSkew: a.cfg.Server.Auth.MaxSkew.Duration,
			Nonces:  deps.Nonces,
		},
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit.Requests,
		RateWindow:  a.cfg.Server.RateLimit.Window.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Actions: handler.NewActionHandler(
			svcs.Markets, svcs.Pools, svcs.Validation, svcs.Settlement,
			handler.ActionConfig{RegistryRef: a.cfg.Registry.Ref, Operators: operators},
			a.logger,
		),
		Queries:  handler.NewQueryHandler(svcs.Queries, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
		Evidence: handler.NewEvidenceHandler(deps.EvidenceSource, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
