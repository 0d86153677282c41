package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
)

// ReconcileSummary counts the outcomes of one reconciliation pass.
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Reconciler resolves pending transactions by asking the settlement network
// what happened. Unresolved transactions fail once they expire or once the
// network has reported their reference unknown MaxAttempts times.
type Reconciler struct {
	coord        *PurchaseCoordinator
	transactions domain.TransactionStore
	network      domain.SettlementNetwork
	cfg          SettlementConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewReconciler creates a Reconciler that finalizes through coord.
func NewReconciler(
	coord *PurchaseCoordinator,
	transactions domain.TransactionStore,
	network domain.SettlementNetwork,
	cfg SettlementConfig,
	logger *slog.Logger,
) *Reconciler {
	cfg.defaults()
	return &Reconciler{
		coord:        coord,
		transactions: transactions,
		network:      network,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run reconciles on every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "reconciler: started",
		slog.Duration("interval", r.cfg.ReconcileInterval),
		slog.Int("max_attempts", r.cfg.MaxAttempts),
		slog.Duration("pending_timeout", r.cfg.PendingTimeout),
	)

	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		sum, err := r.ReconcileOnce(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "reconciler: pass failed",
				slog.String("error", err.Error()),
			)
		} else if sum.Checked > 0 {
			r.logger.InfoContext(ctx, "reconciler: pass complete",
				slog.Int("checked", sum.Checked),
				slog.Int("confirmed", sum.Confirmed),
				slog.Int("failed", sum.Failed),
				slog.Int("pending", sum.Pending),
				slog.Int("errors", sum.Errors),
			)
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reconciler: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ReconcileOnce processes one batch of pending transactions, oldest first.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary
	pending, err := r.transactions.ListPending(ctx, r.cfg.ReconcileBatch)
	if err != nil {
		return sum, fmt.Errorf("reconciler: list pending: %w", err)
	}

	for _, tx := range pending {
		if ctx.Err() != nil {
			break
		}
		sum.Checked++
		out, err := r.resolve(ctx, tx)
		if err != nil {
			sum.Errors++
			r.logger.WarnContext(ctx, "reconciler: resolve failed",
				slog.String("transaction_id", tx.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch out.Status {
		case domain.SettlementConfirmed:
			sum.Confirmed++
		case domain.SettlementFailed:
			sum.Failed++
		default:
			sum.Pending++
		}
	}
	return sum, nil
}

// ReconcileTransaction resolves one transaction on demand. A final
// transaction is returned unchanged.
func (r *Reconciler) ReconcileTransaction(ctx context.Context, id string) (domain.TokenTransaction, error) {
	tx, err := r.transactions.GetByID(ctx, id)
	if err != nil {
		return domain.TokenTransaction{}, fmt.Errorf("reconciler: get transaction %s: %w", id, err)
	}
	if tx.Final() {
		return tx, nil
	}
	return r.resolve(ctx, tx)
}

func (r *Reconciler) resolve(ctx context.Context, tx domain.TokenTransaction) (domain.TokenTransaction, error) {
	status := domain.TransferUnknown
	if tx.NetworkRef != "" {
		s, err := r.network.QueryTransferStatus(ctx, tx.NetworkRef)
		if err != nil {
			// A failed query says nothing about the transfer.
			r.logger.WarnContext(ctx, "reconciler: query transfer status failed",
				slog.String("transaction_id", tx.ID),
				slog.String("network_ref", tx.NetworkRef),
				slog.String("error", err.Error()),
			)
			s = domain.TransferPending
		}
		status = s
	}

	switch status {
	case domain.TransferConfirmed:
		return r.coord.confirm(ctx, tx, tx.NetworkRef)
	case domain.TransferFailed:
		return r.coord.fail(ctx, tx, tx.NetworkRef, "network reported transfer failed", notify.EventSettlementFailed)
	}

	now := r.now()
	if tx.Expired(now) {
		return r.coord.fail(ctx, tx, tx.NetworkRef,
			fmt.Sprintf("settlement timed out after %s", r.cfg.PendingTimeout), notify.EventSettlementTimeout)
	}

	attempts, err := r.transactions.RecordAttempt(ctx, tx.ID, "", now)
	if err != nil {
		return tx, fmt.Errorf("reconciler: record attempt %s: %w", tx.ID, err)
	}
	tx.Attempts = attempts
	// Without a reference the network cannot be asked, so only the pending
	// timeout can fail the transaction.
	if status == domain.TransferUnknown && tx.NetworkRef != "" && attempts >= r.cfg.MaxAttempts {
		return r.coord.fail(ctx, tx, tx.NetworkRef,
			fmt.Sprintf("transfer unknown to network after %d attempts", attempts), notify.EventSettlementTimeout)
	}

	r.logger.DebugContext(ctx, "reconciler: still pending",
		slog.String("transaction_id", tx.ID),
		slog.String("network_status", string(status)),
		slog.Int("attempts", attempts),
	)
	return tx, nil
}
