package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/server/handler"
	"github.com/alanyoungcy/proptoken/internal/server/middleware"
	"github.com/alanyoungcy/proptoken/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except health. Empty disables auth.
	APIKey string
	// RateLimit is the number of mutating requests a client may make per
	// RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration

	// IdempotencyTTL is how long purchase and transfer responses are kept
	// for replay by Idempotency-Key. Zero disables replay.
	IdempotencyTTL time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Properties    *handler.PropertyHandler
	Ledger        *handler.LedgerHandler
	Distributions *handler.DistributionHandler
	Events        *handler.EventHandler
}

// Server is the JSON API and websocket feed of the ledger engine.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in the middleware chain.
// wsHub and limiter may be nil.
func NewServer(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Auth(cfg.APIKey, "/api/health"))

	// Mutations are rate limited per client; reads are not.
	limited := middleware.RateLimit(limiter, "api", cfg.RateLimit, cfg.RateWindow, logger)

	var idem *middleware.IdempotencyCache
	if cfg.IdempotencyTTL > 0 {
		idem = middleware.NewIdempotencyCache(cfg.IdempotencyTTL)
	}
	replayable := middleware.Idempotency(idem)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health.HealthCheck)

		r.Route("/properties", func(r chi.Router) {
			r.Get("/", h.Properties.List)
			r.With(limited).Post("/", h.Properties.Submit)
			r.With(limited).Post("/drafts", h.Properties.SaveDraft)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Properties.Get)
				r.Get("/valuations", h.Properties.Valuations)
				r.Get("/audit", h.Properties.Audit)
				r.Get("/distributions", h.Distributions.List)
				r.Get("/holdings/{holderID}", h.Ledger.Holding)

				r.Group(func(r chi.Router) {
					r.Use(limited)
					r.Post("/submit", h.Properties.SubmitDraft)
					r.Post("/approve", h.Properties.Approve)
					r.Post("/reject", h.Properties.Reject)
					r.Post("/issue", h.Properties.Issue)
					r.Post("/close", h.Properties.Close)
					r.Post("/distributions", h.Distributions.Distribute)
				})
			})
		})

		r.With(limited, replayable).Post("/purchases", h.Ledger.Purchase)
		r.With(limited, replayable).Post("/transfers", h.Ledger.Transfer)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.Ledger.History)
			r.Get("/{id}", h.Ledger.Transaction)
			r.With(limited).Post("/{id}/reconcile", h.Ledger.Reconcile)
		})

		r.Get("/holders/{holderID}/portfolio", h.Ledger.Portfolio)

		r.Route("/distributions/{id}", func(r chi.Router) {
			r.Get("/", h.Distributions.Get)
			r.Get("/statement", h.Distributions.Statement)
		})

		r.Get("/streams/{name}", h.Events.ReadStream)
	})

	if wsHub != nil {
		r.Get("/ws", wsHub.HandleWS)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router: r,
		logger: logger,
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
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
