package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// HoldingLedger is the bookkeeping front of the ledger store. It validates
// unit movements before they reach the store and publishes holding changes.
// The store enforces the supply invariant atomically.
type HoldingLedger struct {
	ledger     domain.LedgerStore
	properties domain.PropertyStore
	fx         sideEffects
	logger     *slog.Logger
	now        func() time.Time
}

// NewHoldingLedger creates a HoldingLedger.
func NewHoldingLedger(
	ledger domain.LedgerStore,
	properties domain.PropertyStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *HoldingLedger {
	return &HoldingLedger{
		ledger:     ledger,
		properties: properties,
		fx:         sideEffects{bus: bus, audit: audit, logger: logger, component: "holding_ledger"},
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Credit issues units from the unissued pool straight to a holder.
func (l *HoldingLedger) Credit(ctx context.Context, propertyID, holderID string, units, pricePerUnit int64) (domain.TokenHolding, error) {
	if err := validateMovement(propertyID, holderID, units); err != nil {
		return domain.TokenHolding{}, err
	}
	if pricePerUnit < 0 {
		return domain.TokenHolding{}, domain.Violation(domain.ErrInvalidRequest, "holding", holderID, "price per unit must be >= 0")
	}
	if _, ok := domain.MulInt64(units, pricePerUnit); !ok {
		return domain.TokenHolding{}, domain.Violation(domain.ErrInvalidRequest, "holding", holderID, "units × price overflows")
	}
	if err := l.requireIssued(ctx, propertyID); err != nil {
		return domain.TokenHolding{}, err
	}

	h, err := l.ledger.Credit(ctx, propertyID, holderID, units, pricePerUnit, l.now())
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("holding_ledger: credit %s/%s: %w", propertyID, holderID, err)
	}
	l.changed(ctx, "holding.credited", h, units)
	return h, nil
}

// Debit returns free units from a holder to the unissued pool. The cost basis
// shrinks proportionally.
func (l *HoldingLedger) Debit(ctx context.Context, propertyID, holderID string, units int64) (domain.TokenHolding, error) {
	if err := validateMovement(propertyID, holderID, units); err != nil {
		return domain.TokenHolding{}, err
	}
	h, err := l.ledger.Debit(ctx, propertyID, holderID, units, l.now())
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TokenHolding{}, domain.Violation(domain.ErrInsufficientUnits, "holding", holderID,
			"no units of property %s", propertyID)
	}
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("holding_ledger: debit %s/%s: %w", propertyID, holderID, err)
	}
	l.changed(ctx, "holding.debited", h, -units)
	return h, nil
}

// BalanceOf returns the units a holder owns, 0 when there is no holding.
func (l *HoldingLedger) BalanceOf(ctx context.Context, propertyID, holderID string) (int64, error) {
	h, err := l.Holding(ctx, propertyID, holderID)
	if err != nil {
		return 0, err
	}
	return h.Units, nil
}

// Holding returns the holding row, or an empty holding with zero units.
func (l *HoldingLedger) Holding(ctx context.Context, propertyID, holderID string) (domain.TokenHolding, error) {
	h, err := l.ledger.GetHolding(ctx, propertyID, holderID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TokenHolding{PropertyID: propertyID, HolderID: holderID}, nil
	}
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("holding_ledger: get holding %s/%s: %w", propertyID, holderID, err)
	}
	return h, nil
}

// TotalIssued returns the units issued to holders.
func (l *HoldingLedger) TotalIssued(ctx context.Context, propertyID string) (int64, error) {
	st, err := l.Supply(ctx, propertyID)
	if err != nil {
		return 0, err
	}
	return st.IssuedUnits, nil
}

// Supply returns the supply row of a property.
func (l *HoldingLedger) Supply(ctx context.Context, propertyID string) (domain.SupplyState, error) {
	st, err := l.ledger.GetSupply(ctx, propertyID)
	if err != nil {
		return domain.SupplyState{}, fmt.Errorf("holding_ledger: get supply %s: %w", propertyID, err)
	}
	return st, nil
}

// Holdings returns the non-empty holdings of a property.
func (l *HoldingLedger) Holdings(ctx context.Context, propertyID string) ([]domain.TokenHolding, error) {
	hs, err := l.ledger.ListHoldings(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("holding_ledger: list holdings %s: %w", propertyID, err)
	}
	return hs, nil
}

// HoldingsOf returns every holding of a holder.
func (l *HoldingLedger) HoldingsOf(ctx context.Context, holderID string) ([]domain.TokenHolding, error) {
	hs, err := l.ledger.ListHoldingsByHolder(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("holding_ledger: list holdings of %s: %w", holderID, err)
	}
	return hs, nil
}

// Reserve holds capacity from the unissued pool for a primary purchase.
func (l *HoldingLedger) Reserve(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	r.Kind = domain.ReserveIssue
	r.SellerID = ""
	return l.reserve(ctx, r)
}

// ReserveTransfer locks seller units for a resale.
func (l *HoldingLedger) ReserveTransfer(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	r.Kind = domain.ReserveTransfer
	if r.SellerID == "" || r.SellerID == r.HolderID {
		return domain.Reservation{}, domain.Violation(domain.ErrInvalidRequest, "reservation", r.ID,
			"transfer needs a seller distinct from the buyer")
	}
	return l.reserve(ctx, r)
}

func (l *HoldingLedger) reserve(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	if err := validateMovement(r.PropertyID, r.HolderID, r.Units); err != nil {
		return domain.Reservation{}, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.now()
	}
	r.Status = domain.ReservationHeld
	held, err := l.ledger.Reserve(ctx, r)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("holding_ledger: reserve %d of %s for %s: %w", r.Units, r.PropertyID, r.HolderID, err)
	}
	return held, nil
}

// Commit finalizes a reservation into the buyer's holding.
func (l *HoldingLedger) Commit(ctx context.Context, reservationID string) (domain.TokenHolding, error) {
	h, err := l.ledger.CommitReservation(ctx, reservationID, l.now())
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("holding_ledger: commit reservation %s: %w", reservationID, err)
	}
	res, resErr := l.ledger.GetReservation(ctx, reservationID)
	units := h.Units
	if resErr == nil {
		units = res.Units
	}
	l.changed(ctx, "holding.committed", h, units)
	return h, nil
}

// Reservation returns a reservation by id.
func (l *HoldingLedger) Reservation(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := l.ledger.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("holding_ledger: get reservation %s: %w", id, err)
	}
	return r, nil
}

// Release returns the units of a reservation.
func (l *HoldingLedger) Release(ctx context.Context, reservationID string) error {
	if err := l.ledger.ReleaseReservation(ctx, reservationID, l.now()); err != nil {
		return fmt.Errorf("holding_ledger: release reservation %s: %w", reservationID, err)
	}
	l.logger.InfoContext(ctx, "holding_ledger: reservation released",
		slog.String("reservation_id", reservationID),
	)
	return nil
}

func (l *HoldingLedger) requireIssued(ctx context.Context, propertyID string) error {
	p, err := l.properties.GetByID(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("holding_ledger: get property %s: %w", propertyID, err)
	}
	if !p.Purchasable() {
		return domain.Violation(domain.ErrPropertyNotPurchasable, "property", propertyID, "status is %s", p.Status)
	}
	return nil
}

func (l *HoldingLedger) changed(ctx context.Context, event string, h domain.TokenHolding, delta int64) {
	detail := map[string]any{
		"property_id": h.PropertyID,
		"holder_id":   h.HolderID,
		"units":       h.Units,
		"delta":       delta,
		"cost_basis":  h.CostBasis,
	}
	l.fx.record(ctx, event, detail)
	payload := map[string]any{"event": event}
	for k, v := range detail {
		payload[k] = v
	}
	l.fx.publish(ctx, domain.ChannelHoldings, payload)

	l.logger.InfoContext(ctx, "holding_ledger: "+strings.TrimPrefix(event, "holding."),
		slog.String("property_id", h.PropertyID),
		slog.String("holder_id", h.HolderID),
		slog.Int64("units", h.Units),
	)
}

func validateMovement(propertyID, holderID string, units int64) error {
	switch {
	case strings.TrimSpace(propertyID) == "":
		return domain.Violation(domain.ErrInvalidRequest, "holding", holderID, "property id is required")
	case strings.TrimSpace(holderID) == "":
		return domain.Violation(domain.ErrInvalidRequest, "holding", "", "holder id is required")
	case units <= 0:
		return domain.Violation(domain.ErrInvalidRequest, "holding", holderID, "units must be > 0, got %d", units)
	}
	return nil
}
