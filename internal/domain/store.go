package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PropertyStore persists tokenized properties.
type PropertyStore interface {
	Create(ctx context.Context, p TokenizedProperty) error
	GetByID(ctx context.Context, id string) (TokenizedProperty, error)
	// Transition applies t only if the current status equals t.From. It
	// returns ErrInvalidStateTransition when the status has moved on.
	Transition(ctx context.Context, t PropertyTransition) (TokenizedProperty, error)
	List(ctx context.Context, status PropertyStatus, opts ListOpts) ([]TokenizedProperty, error)
}

// ValuationStore persists valuation snapshots.
type ValuationStore interface {
	Insert(ctx context.Context, snap ValuationSnapshot) error
	ListByProperty(ctx context.Context, propertyID string) ([]ValuationSnapshot, error)
}

// LedgerStore owns supply, holdings and reservations. Every method that
// changes units is atomic with respect to concurrent calls for the same
// property.
type LedgerStore interface {
	// OpenSupply creates the supply row for a property. Calling it again with
	// the same total is a no-op.
	OpenSupply(ctx context.Context, propertyID string, totalSupply int64) error
	GetSupply(ctx context.Context, propertyID string) (SupplyState, error)

	// Reserve holds capacity from the unissued pool (ReserveIssue) or locks
	// seller units (ReserveTransfer).
	Reserve(ctx context.Context, r Reservation) (Reservation, error)
	// CommitReservation credits the holder (and debits the seller for a
	// transfer) and closes the reservation. ErrReservationClosed if it is no
	// longer held.
	CommitReservation(ctx context.Context, id string, at time.Time) (TokenHolding, error)
	// ReleaseReservation returns the reserved units. ErrReservationClosed if
	// it is no longer held.
	ReleaseReservation(ctx context.Context, id string, at time.Time) error
	GetReservation(ctx context.Context, id string) (Reservation, error)

	// Credit issues units straight to a holder.
	Credit(ctx context.Context, propertyID, holderID string, units, unitPrice int64, at time.Time) (TokenHolding, error)
	// Debit removes free units from a holder and returns them to the pool.
	Debit(ctx context.Context, propertyID, holderID string, units int64, at time.Time) (TokenHolding, error)

	GetHolding(ctx context.Context, propertyID, holderID string) (TokenHolding, error)
	// ListHoldings returns the holdings of a property with units > 0.
	ListHoldings(ctx context.Context, propertyID string) ([]TokenHolding, error)
	ListHoldingsByHolder(ctx context.Context, holderID string) ([]TokenHolding, error)
}

// TransactionStore persists the append-only transaction log.
type TransactionStore interface {
	Create(ctx context.Context, tx TokenTransaction) error
	GetByID(ctx context.Context, id string) (TokenTransaction, error)
	// RecordAttempt bumps the attempt counter of a pending transaction and
	// stores the network reference when one is given.
	RecordAttempt(ctx context.Context, id, networkRef string, at time.Time) (int, error)
	// Resolve moves a pending transaction to a final status. It returns
	// ErrTransactionFinal when the row is no longer pending.
	Resolve(ctx context.Context, r TransactionResolution) error
	ListPending(ctx context.Context, limit int) ([]TokenTransaction, error)
	ListByHolder(ctx context.Context, holderID string, opts ListOpts) ([]TokenTransaction, error)
	ListByProperty(ctx context.Context, propertyID string, opts ListOpts) ([]TokenTransaction, error)
	ListBefore(ctx context.Context, before time.Time) ([]TokenTransaction, error)
}

// DistributionStore persists revenue distributions and their entries.
type DistributionStore interface {
	Create(ctx context.Context, d RevenueDistribution) error
	GetByID(ctx context.Context, id string) (RevenueDistribution, error)
	ListByProperty(ctx context.Context, propertyID string, opts ListOpts) ([]RevenueDistribution, error)
	ListByHolder(ctx context.Context, holderID string, opts ListOpts) ([]HolderDistribution, error)
	ListBefore(ctx context.Context, before time.Time) ([]RevenueDistribution, error)
}

// AuditEntry is a single audit log row. PropertyID is lifted from the
// detail's "property_id" so a property's trail can be read back by index.
type AuditEntry struct {
	ID         int64          `json:"id"`
	Event      string         `json:"event"`
	PropertyID string         `json:"property_id,omitempty"`
	Detail     map[string]any `json:"detail"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByProperty(ctx context.Context, propertyID string, opts ListOpts) ([]AuditEntry, error)
}

// AuditPropertyID returns the property an audit detail belongs to, or "".
func AuditPropertyID(detail map[string]any) string {
	id, _ := detail["property_id"].(string)
	return id
}
