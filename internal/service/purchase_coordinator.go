package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
)

// SettlementConfig is the settlement and reconciliation policy.
type SettlementConfig struct {
	// PendingTimeout is how long a transaction may stay pending before the
	// reconciler fails it and releases its units.
	PendingTimeout time.Duration
	// MaxAttempts bounds the reconciliation queries that find the transfer
	// unknown to the network. Transactions without a network reference are
	// not queried and wait out PendingTimeout instead.
	MaxAttempts       int
	ReconcileInterval time.Duration
	ReconcileBatch    int
}

func (c *SettlementConfig) defaults() {
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 24 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.ReconcileBatch <= 0 {
		c.ReconcileBatch = 100
	}
}

// PurchaseRequest buys units from the unissued pool.
type PurchaseRequest struct {
	PropertyID string `json:"property_id"`
	BuyerID    string `json:"buyer_id"`
	Units      int64  `json:"units"`
	Account    string `json:"account"`
}

// TransferRequest moves units between two holders.
type TransferRequest struct {
	PropertyID   string `json:"property_id"`
	FromHolderID string `json:"from_holder_id"`
	ToHolderID   string `json:"to_holder_id"`
	Units        int64  `json:"units"`
	PricePerUnit int64  `json:"price_per_unit"`
	ToAccount    string `json:"to_account"`
}

// PurchaseCoordinator moves units across the settlement network and the
// ledger. Units are reserved before the network call and committed or
// released once the outcome is known; no lock is held during the call.
type PurchaseCoordinator struct {
	lifecycle    *TokenizationService
	ledger       *HoldingLedger
	transactions domain.TransactionStore
	network      domain.SettlementNetwork
	prices       domain.UnitPriceCache
	fx           sideEffects
	cfg          SettlementConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewPurchaseCoordinator creates a PurchaseCoordinator. network should be
// wrapped in a SettlementGuard.
func NewPurchaseCoordinator(
	lifecycle *TokenizationService,
	ledger *HoldingLedger,
	transactions domain.TransactionStore,
	network domain.SettlementNetwork,
	prices domain.UnitPriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg SettlementConfig,
	logger *slog.Logger,
) *PurchaseCoordinator {
	cfg.defaults()
	return &PurchaseCoordinator{
		lifecycle:    lifecycle,
		ledger:       ledger,
		transactions: transactions,
		network:      network,
		prices:       prices,
		fx:           sideEffects{bus: bus, audit: audit, logger: logger, component: "purchase_coordinator"},
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithAlerter routes settlement failures to operators.
func (c *PurchaseCoordinator) WithAlerter(a Alerter) *PurchaseCoordinator {
	c.fx.alerts = a
	return c
}

// PurchaseUnits buys units of an issued property. On an ambiguous outcome it
// returns the pending transaction together with ErrSettlementAmbiguous.
func (c *PurchaseCoordinator) PurchaseUnits(ctx context.Context, req PurchaseRequest) (domain.TokenTransaction, error) {
	switch {
	case strings.TrimSpace(req.BuyerID) == "":
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "purchase", req.PropertyID, "buyer id is required")
	case strings.TrimSpace(req.Account) == "":
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "purchase", req.PropertyID, "buyer account is required")
	case req.Units <= 0:
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "purchase", req.PropertyID, "units must be > 0, got %d", req.Units)
	}

	p, err := c.purchasable(ctx, req.PropertyID)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	total, ok := domain.MulInt64(req.Units, p.UnitPrice)
	if !ok {
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "purchase", p.ID, "units × unit price overflows")
	}
	if total < p.MinimumInvestment {
		return domain.TokenTransaction{}, domain.Violation(domain.ErrBelowMinimumInvestment, "property", p.ID,
			"cost %d is below minimum investment %d", total, p.MinimumInvestment)
	}

	now := c.now()
	res, err := c.ledger.Reserve(ctx, domain.Reservation{
		ID:         uuid.NewString(),
		PropertyID: p.ID,
		HolderID:   req.BuyerID,
		Account:    req.Account,
		Units:      req.Units,
		UnitPrice:  p.UnitPrice,
		CreatedAt:  now,
	})
	if err != nil {
		return domain.TokenTransaction{}, err
	}

	tx, err := c.openTransaction(ctx, res, domain.TokenTransaction{
		PropertyID: p.ID,
		ReceiverID: req.BuyerID,
		Units:      req.Units,
		UnitPrice:  p.UnitPrice,
		TotalValue: total,
		Kind:       domain.TxPurchase,
	})
	if err != nil {
		return domain.TokenTransaction{}, err
	}

	return c.settle(ctx, tx, domain.TransferRequest{
		AssetID: p.AssetID,
		To:      req.Account,
		Amount:  req.Units,
		Memo:    tx.ID,
	})
}

// TransferUnits moves units from one holder to another. A positive price
// makes it a sale and sets the buyer's cost basis; otherwise the seller's
// proportional cost basis carries over.
func (c *PurchaseCoordinator) TransferUnits(ctx context.Context, req TransferRequest) (domain.TokenTransaction, error) {
	switch {
	case strings.TrimSpace(req.FromHolderID) == "" || strings.TrimSpace(req.ToHolderID) == "":
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "transfer", req.PropertyID, "both holders are required")
	case req.FromHolderID == req.ToHolderID:
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "transfer", req.PropertyID, "cannot transfer to the same holder")
	case strings.TrimSpace(req.ToAccount) == "":
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "transfer", req.PropertyID, "receiving account is required")
	case req.Units <= 0:
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "transfer", req.PropertyID, "units must be > 0, got %d", req.Units)
	case req.PricePerUnit < 0:
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "transfer", req.PropertyID, "price per unit must be >= 0")
	}

	p, err := c.purchasable(ctx, req.PropertyID)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	total, ok := domain.MulInt64(req.Units, req.PricePerUnit)
	if !ok {
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "transfer", p.ID, "units × price overflows")
	}
	seller, err := c.ledger.Holding(ctx, p.ID, req.FromHolderID)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	// An empty sender is the treasury on the network.
	if seller.Units > 0 && strings.TrimSpace(seller.Account) == "" {
		return domain.TokenTransaction{}, domain.Violation(domain.ErrInvalidRequest, "transfer", p.ID,
			"seller %s has no settlement account", req.FromHolderID)
	}

	res, err := c.ledger.ReserveTransfer(ctx, domain.Reservation{
		ID:         uuid.NewString(),
		PropertyID: p.ID,
		HolderID:   req.ToHolderID,
		SellerID:   req.FromHolderID,
		Account:    req.ToAccount,
		Units:      req.Units,
		UnitPrice:  req.PricePerUnit,
		CreatedAt:  c.now(),
	})
	if err != nil {
		return domain.TokenTransaction{}, err
	}

	kind := domain.TxTransfer
	if req.PricePerUnit > 0 {
		kind = domain.TxSale
	}
	tx, err := c.openTransaction(ctx, res, domain.TokenTransaction{
		PropertyID: p.ID,
		SenderID:   req.FromHolderID,
		ReceiverID: req.ToHolderID,
		Units:      req.Units,
		UnitPrice:  req.PricePerUnit,
		TotalValue: total,
		Kind:       kind,
	})
	if err != nil {
		return domain.TokenTransaction{}, err
	}

	return c.settle(ctx, tx, domain.TransferRequest{
		AssetID: p.AssetID,
		From:    seller.Account,
		To:      req.ToAccount,
		Amount:  req.Units,
		Memo:    tx.ID,
	})
}

func (c *PurchaseCoordinator) purchasable(ctx context.Context, propertyID string) (domain.TokenizedProperty, error) {
	p, err := c.lifecycle.GetProperty(ctx, propertyID)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	if !p.Purchasable() {
		return domain.TokenizedProperty{}, domain.Violation(domain.ErrPropertyNotPurchasable, "property", p.ID, "status is %s", p.Status)
	}
	return p, nil
}

// openTransaction records the pending row for a reservation. The reservation
// is released if the row cannot be written.
func (c *PurchaseCoordinator) openTransaction(ctx context.Context, res domain.Reservation, tx domain.TokenTransaction) (domain.TokenTransaction, error) {
	now := c.now()
	expires := now.Add(c.cfg.PendingTimeout)
	tx.ID = uuid.NewString()
	tx.Status = domain.SettlementPending
	tx.ReservationID = res.ID
	tx.ExpiresAt = &expires
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if err := c.transactions.Create(ctx, tx); err != nil {
		if relErr := c.ledger.Release(ctx, res.ID); relErr != nil {
			c.logger.ErrorContext(ctx, "purchase_coordinator: release after failed insert",
				slog.String("reservation_id", res.ID),
				slog.String("error", relErr.Error()),
			)
		}
		return domain.TokenTransaction{}, fmt.Errorf("purchase_coordinator: create transaction: %w", err)
	}
	return tx, nil
}

// settle submits the transfer and resolves the transaction by outcome.
func (c *PurchaseCoordinator) settle(ctx context.Context, tx domain.TokenTransaction, req domain.TransferRequest) (domain.TokenTransaction, error) {
	if err := c.network.AssociateAccount(ctx, req.To, req.AssetID); err != nil {
		return c.reject(ctx, tx, "", "associate receiving account", err)
	}

	receipt, err := c.network.Transfer(ctx, req)
	switch {
	case err == nil && receipt.Status == domain.TransferConfirmed:
		return c.confirm(ctx, tx, receipt.Reference)
	case errors.Is(err, domain.ErrTransferRejected):
		return c.reject(ctx, tx, receipt.Reference, "transfer rejected", err)
	case err == nil && receipt.Status == domain.TransferFailed:
		return c.reject(ctx, tx, receipt.Reference, "transfer failed on network", nil)
	}

	// Timeout, lost response or still pending: the units may have moved.
	c.logger.WarnContext(ctx, "purchase_coordinator: settlement outcome unknown",
		slog.String("transaction_id", tx.ID),
		slog.String("network_ref", receipt.Reference),
		slog.String("status", string(receipt.Status)),
	)
	attempts, recErr := c.transactions.RecordAttempt(ctx, tx.ID, receipt.Reference, c.now())
	if recErr != nil {
		c.logger.ErrorContext(ctx, "purchase_coordinator: record attempt failed",
			slog.String("transaction_id", tx.ID),
			slog.String("error", recErr.Error()),
		)
	}
	tx.Attempts = attempts
	if receipt.Reference != "" {
		tx.NetworkRef = receipt.Reference
	}
	c.settlementEvent(ctx, "settlement.pending", tx)

	v := domain.Violation(domain.ErrSettlementAmbiguous, "transaction", tx.ID, "awaiting reconciliation")
	if err != nil {
		v = v.WithCause(err)
	}
	return tx, v
}

func (c *PurchaseCoordinator) reject(ctx context.Context, tx domain.TokenTransaction, ref, reason string, cause error) (domain.TokenTransaction, error) {
	if cause != nil {
		reason = reason + ": " + cause.Error()
	}
	failed, err := c.fail(ctx, tx, ref, reason, notify.EventSettlementFailed)
	if err != nil {
		return failed, err
	}
	v := domain.Violation(domain.ErrSettlementFailed, "transaction", tx.ID, "%s", reason)
	if cause != nil {
		v = v.WithCause(cause)
	}
	return failed, v
}

// confirm commits the reservation and confirms the transaction. It is safe to
// repeat: a reservation committed by an earlier attempt is accepted.
func (c *PurchaseCoordinator) confirm(ctx context.Context, tx domain.TokenTransaction, ref string) (domain.TokenTransaction, error) {
	_, err := c.ledger.Commit(ctx, tx.ReservationID)
	if errors.Is(err, domain.ErrReservationClosed) {
		res, getErr := c.ledger.Reservation(ctx, tx.ReservationID)
		if getErr != nil {
			return tx, fmt.Errorf("purchase_coordinator: confirm %s: %w", tx.ID, getErr)
		}
		if res.Status != domain.ReservationCommitted {
			c.logger.ErrorContext(ctx, "purchase_coordinator: network confirmed a released reservation",
				slog.String("transaction_id", tx.ID),
				slog.String("reservation_id", res.ID),
				slog.String("network_ref", ref),
			)
			c.fx.alert(ctx, notify.Alert{
				Event:  notify.EventSettlementFailed,
				Title:  "Confirmed transfer after release",
				Entity: "transaction",
				ID:     tx.ID,
				Fields: map[string]string{"network_ref": ref, "reservation_id": res.ID},
			})
			return tx, fmt.Errorf("purchase_coordinator: confirm %s: %w", tx.ID, err)
		}
		err = nil
	}
	if err != nil {
		return tx, fmt.Errorf("purchase_coordinator: confirm %s: %w", tx.ID, err)
	}

	now := c.now()
	if err := c.transactions.Resolve(ctx, domain.TransactionResolution{
		ID:         tx.ID,
		Status:     domain.SettlementConfirmed,
		NetworkRef: ref,
		At:         now,
	}); err != nil && !errors.Is(err, domain.ErrTransactionFinal) {
		return tx, fmt.Errorf("purchase_coordinator: resolve %s: %w", tx.ID, err)
	}

	if _, err := c.lifecycle.MarkActive(ctx, tx.PropertyID); err != nil {
		c.logger.WarnContext(ctx, "purchase_coordinator: mark active failed",
			slog.String("property_id", tx.PropertyID),
			slog.String("error", err.Error()),
		)
	}
	if tx.Kind == domain.TxSale {
		if err := c.prices.SetUnitPrice(ctx, tx.PropertyID, tx.UnitPrice, now); err != nil {
			c.logger.WarnContext(ctx, "purchase_coordinator: update unit price failed",
				slog.String("property_id", tx.PropertyID),
				slog.String("error", err.Error()),
			)
		}
	}

	tx = c.reload(ctx, tx)
	c.settlementEvent(ctx, "settlement.confirmed", tx)
	return tx, nil
}

// fail releases the reservation and fails the transaction. It is safe to
// repeat. The returned error is non-nil only for storage failures.
func (c *PurchaseCoordinator) fail(ctx context.Context, tx domain.TokenTransaction, ref, reason, alertEvent string) (domain.TokenTransaction, error) {
	if err := c.ledger.Release(ctx, tx.ReservationID); err != nil && !errors.Is(err, domain.ErrReservationClosed) {
		return tx, fmt.Errorf("purchase_coordinator: fail %s: %w", tx.ID, err)
	}
	if err := c.transactions.Resolve(ctx, domain.TransactionResolution{
		ID:            tx.ID,
		Status:        domain.SettlementFailed,
		NetworkRef:    ref,
		FailureReason: reason,
		At:            c.now(),
	}); err != nil && !errors.Is(err, domain.ErrTransactionFinal) {
		return tx, fmt.Errorf("purchase_coordinator: resolve %s: %w", tx.ID, err)
	}

	tx = c.reload(ctx, tx)
	c.settlementEvent(ctx, "settlement.failed", tx)
	c.fx.alert(ctx, notify.Alert{
		Event:  alertEvent,
		Title:  "Settlement failed",
		Entity: "transaction",
		ID:     tx.ID,
		Fields: map[string]string{
			"property_id": tx.PropertyID,
			"kind":        string(tx.Kind),
			"units":       fmt.Sprint(tx.Units),
			"reason":      reason,
		},
	})
	return tx, nil
}

func (c *PurchaseCoordinator) reload(ctx context.Context, tx domain.TokenTransaction) domain.TokenTransaction {
	fresh, err := c.transactions.GetByID(ctx, tx.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "purchase_coordinator: reload transaction failed",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
		return tx
	}
	return fresh
}

func (c *PurchaseCoordinator) settlementEvent(ctx context.Context, event string, tx domain.TokenTransaction) {
	detail := map[string]any{
		"transaction_id": tx.ID,
		"property_id":    tx.PropertyID,
		"kind":           string(tx.Kind),
		"sender_id":      tx.SenderID,
		"receiver_id":    tx.ReceiverID,
		"units":          tx.Units,
		"total_value":    tx.TotalValue,
		"status":         string(tx.Status),
		"network_ref":    tx.NetworkRef,
	}
	if tx.FailureReason != "" {
		detail["reason"] = tx.FailureReason
	}
	c.fx.record(ctx, event, detail)

	payload := map[string]any{"event": event}
	for k, v := range detail {
		payload[k] = v
	}
	c.fx.publish(ctx, domain.ChannelTransactions, payload)
	c.fx.stream(ctx, domain.StreamSettlement, payload)

	c.logger.InfoContext(ctx, "purchase_coordinator: "+strings.TrimPrefix(event, "settlement."),
		slog.String("transaction_id", tx.ID),
		slog.String("property_id", tx.PropertyID),
		slog.Int64("units", tx.Units),
		slog.String("status", string(tx.Status)),
	)
}
