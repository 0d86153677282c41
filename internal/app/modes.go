package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/proptoken/internal/pipeline"
	"github.com/alanyoungcy/proptoken/internal/server"
	"github.com/alanyoungcy/proptoken/internal/server/handler"
	"github.com/alanyoungcy/proptoken/internal/server/ws"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take once the
// app is stopping.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the API and the websocket feed. Pending transactions are
// left to a separate reconcile process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// ReconcileMode runs the background workers only: the settlement reconciler
// and, when enabled, the archiver.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svc)
	return g.Wait()
}

// FullMode runs the API and the background workers in one process. Sandbox
// mode runs the same set over in-memory dependencies.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.String("mode", a.cfg.Mode))
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svc)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return g.Wait()
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *Services) {
	g.Go(func() error {
		return svc.Reconciler.Run(ctx)
	})

	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "archiver disabled")
		return
	}
	archiver := pipeline.NewArchiver(
		deps.Archiver,
		a.cfg.Archive.RetentionDays,
		a.cfg.Archive.Interval.Duration,
		a.logger.With(slog.String("component", "archiver")),
	).WithAlerter(deps.Notifier)
	g.Go(func() error {
		return archiver.Run(ctx)
	})
}

// startHTTPServer adds the websocket hub and the HTTP server to g. The server
// shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *Services) {
	hub := ws.NewHub(deps.SignalBus, a.logger.With(slog.String("component", "ws")), ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	logger := a.logger.With(slog.String("component", "http"))
	health := handler.NewHealthHandler(a.cfg.Mode, svc.Guard, logger)
	for name, c := range deps.HealthChecks {
		health.WithCheck(name, c)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,

		IdempotencyTTL: a.cfg.Server.IdempotencyTTL.Duration,
	}, server.Handlers{
		Health:        health,
		Properties:    handler.NewPropertyHandler(svc.Tokenization, logger),
		Ledger:        handler.NewLedgerHandler(svc.Coordinator, svc.Reconciler, svc.Portfolio, logger),
		Distributions: handler.NewDistributionHandler(svc.Distribution, logger),
		Events:        handler.NewEventHandler(deps.SignalBus, logger),
	}, hub, deps.RateLimiter, logger)

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "HTTP server: api_key is empty; authentication disabled")
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
