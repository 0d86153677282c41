package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// ErrBreakerOpen is returned while the settlement breaker refuses calls.
// Nothing reached the network, so it also matches domain.ErrTransferRejected.
var ErrBreakerOpen = errors.New("settlement network unavailable")

// GuardConfig tunes the settlement circuit breaker.
type GuardConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// SettlementGuard wraps a SettlementNetwork in a circuit breaker. Rejections
// are business outcomes and do not count as failures; transport errors and
// ambiguous outcomes do.
type SettlementGuard struct {
	next    domain.SettlementNetwork
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

var _ domain.SettlementNetwork = (*SettlementGuard)(nil)

// NewSettlementGuard creates a SettlementGuard around next.
func NewSettlementGuard(next domain.SettlementNetwork, cfg GuardConfig, logger *slog.Logger) *SettlementGuard {
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	g := &SettlementGuard{next: next, logger: logger}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "settlement",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(cfg.ConsecutiveFailures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrTransferRejected) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("settlement_guard: breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return g
}

// State reports the breaker state for health checks.
func (g *SettlementGuard) State() string {
	return g.breaker.State().String()
}

func (g *SettlementGuard) execute(op string, fn func() (any, error)) (any, error) {
	out, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out, fmt.Errorf("settlement_guard: %s: %w: %w", op, ErrBreakerOpen, domain.ErrTransferRejected)
	}
	return out, err
}

// CreateAsset creates the asset through the breaker.
func (g *SettlementGuard) CreateAsset(ctx context.Context, spec domain.AssetSpec) (string, error) {
	out, err := g.execute("create asset", func() (any, error) {
		return g.next.CreateAsset(ctx, spec)
	})
	id, _ := out.(string)
	return id, err
}

// AssociateAccount associates the account through the breaker.
func (g *SettlementGuard) AssociateAccount(ctx context.Context, account, assetID string) error {
	_, err := g.execute("associate account", func() (any, error) {
		return nil, g.next.AssociateAccount(ctx, account, assetID)
	})
	return err
}

// Transfer submits the transfer through the breaker. The receipt is returned
// even when the call fails so a known reference is not lost.
func (g *SettlementGuard) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferReceipt, error) {
	var receipt domain.TransferReceipt
	_, err := g.execute("transfer", func() (any, error) {
		var err error
		receipt, err = g.next.Transfer(ctx, req)
		return nil, err
	})
	return receipt, err
}

// QueryTransferStatus bypasses the breaker. Reconciliation must be able to
// resolve pending transfers while new submissions are refused.
func (g *SettlementGuard) QueryTransferStatus(ctx context.Context, reference string) (domain.TransferStatus, error) {
	return g.next.QueryTransferStatus(ctx, reference)
}

// Close closes the wrapped network.
func (g *SettlementGuard) Close() error {
	return g.next.Close()
}
