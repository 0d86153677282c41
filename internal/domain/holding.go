package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenHolding is one investor's cumulative position in one property.
type TokenHolding struct {
	HolderID    string    `json:"holder_id"`
	PropertyID  string    `json:"property_id"`
	Account     string    `json:"account"`
	Units       int64     `json:"units"`
	LockedUnits int64     `json:"locked_units"`
	CostBasis   int64     `json:"cost_basis"`
	AcquiredAt  time.Time `json:"acquired_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FreeUnits are the units not locked by an in-flight resale.
func (h TokenHolding) FreeUnits() int64 {
	return h.Units - h.LockedUnits
}

// SupplyState is the per-property supply ledger row.
type SupplyState struct {
	PropertyID    string    `json:"property_id"`
	TotalSupply   int64     `json:"total_supply"`
	IssuedUnits   int64     `json:"issued_units"`
	ReservedUnits int64     `json:"reserved_units"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available returns the units that can still be reserved.
func (s SupplyState) Available() int64 {
	return s.TotalSupply - s.IssuedUnits - s.ReservedUnits
}

// ReservationKind distinguishes where reserved units come from.
type ReservationKind string

const (
	// ReserveIssue draws units from the unissued pool (primary purchase).
	ReserveIssue ReservationKind = "issue"
	// ReserveTransfer locks a seller's units (resale).
	ReserveTransfer ReservationKind = "transfer"
)

// ReservationStatus is the lifecycle of a reservation.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation holds units for an in-flight purchase or resale until
// settlement resolves.
type Reservation struct {
	ID         string            `json:"id"`
	Kind       ReservationKind   `json:"kind"`
	PropertyID string            `json:"property_id"`
	HolderID   string            `json:"holder_id"`
	SellerID   string            `json:"seller_id,omitempty"`
	Account    string            `json:"account"`
	Units      int64             `json:"units"`
	UnitPrice  int64             `json:"unit_price"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ClosedAt   *time.Time        `json:"closed_at,omitempty"`
}

// ProportionalCost returns the share of costBasis carried by n of units,
// rounded half-even. It is used when units leave a holding.
func ProportionalCost(costBasis, units, n int64) int64 {
	if units <= 0 || n <= 0 {
		return 0
	}
	if n >= units {
		return costBasis
	}
	return decimal.NewFromInt(costBasis).
		Mul(decimal.NewFromInt(n)).
		Div(decimal.NewFromInt(units)).
		RoundBank(0).
		IntPart()
}
