package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// BreakerState reports the settlement circuit breaker state.
type BreakerState interface {
	State() string
}

// Checker probes one backing dependency.
type Checker interface {
	Health(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

// HealthHandler serves the health check.
type HealthHandler struct {
	mode      string
	breaker   BreakerState
	checks    map[string]Checker
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. breaker may be nil.
func NewHealthHandler(mode string, breaker BreakerState, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		breaker:   breaker,
		checks:    make(map[string]Checker),
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// WithCheck adds a named dependency probe.
func (h *HealthHandler) WithCheck(name string, c Checker) *HealthHandler {
	h.checks[name] = c
	return h
}

// HealthCheck reports liveness and dependency status. An open settlement
// breaker degrades the engine (reads work, purchases and issuance fail fast);
// an unreachable dependency makes it unavailable.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	breaker := "none"
	if h.breaker != nil {
		breaker = h.breaker.State()
		if breaker == "open" {
			status = "degraded"
		}
	}

	deps := h.probe(r.Context())
	for name, result := range deps {
		if result != "ok" {
			status, code = "unavailable", http.StatusServiceUnavailable
			h.logger.WarnContext(r.Context(), "http: health check failed",
				slog.String("dependency", name),
				slog.String("error", result),
			)
		}
	}

	writeJSON(w, code, map[string]any{
		"status":             status,
		"mode":               h.mode,
		"settlement_breaker": breaker,
		"dependencies":       deps,
		"uptime_seconds":     int64(time.Since(h.startedAt).Seconds()),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

// probe runs every check concurrently under one timeout.
func (h *HealthHandler) probe(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = "ok"
			if err := h.checks[name].Health(ctx); err != nil {
				results[i] = err.Error()
			}
		}()
	}
	wg.Wait()

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}
