package domain

import "time"

// TransactionKind is the kind of unit movement.
type TransactionKind string

const (
	TxIssuance TransactionKind = "issuance"
	TxPurchase TransactionKind = "purchase"
	TxTransfer TransactionKind = "transfer"
	TxSale     TransactionKind = "sale"
)

// SettlementStatus is the settlement state of a transaction.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// TokenTransaction is an append-only record of a unit movement. Only pending
// rows change, and only once, to confirmed or failed.
type TokenTransaction struct {
	ID            string           `json:"id"`
	PropertyID    string           `json:"property_id"`
	SenderID      string           `json:"sender_id,omitempty"`
	ReceiverID    string           `json:"receiver_id"`
	Units         int64            `json:"units"`
	UnitPrice     int64            `json:"unit_price"`
	TotalValue    int64            `json:"total_value"`
	Kind          TransactionKind  `json:"kind"`
	Status        SettlementStatus `json:"status"`
	NetworkRef    string           `json:"network_ref,omitempty"`
	ReservationID string           `json:"reservation_id,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Attempts      int              `json:"attempts"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	SettledAt     *time.Time       `json:"settled_at,omitempty"`
}

// Final reports whether the transaction can no longer change.
func (t TokenTransaction) Final() bool {
	return t.Status == SettlementConfirmed || t.Status == SettlementFailed
}

// Expired reports whether a pending transaction has passed its deadline.
func (t TokenTransaction) Expired(now time.Time) bool {
	return t.Status == SettlementPending && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// TransactionResolution finalizes a pending transaction.
type TransactionResolution struct {
	ID            string
	Status        SettlementStatus
	NetworkRef    string
	FailureReason string
	At            time.Time
}

// HistoryQuery selects transactions by holder or by property.
type HistoryQuery struct {
	HolderID   string
	PropertyID string
	Limit      int
}
