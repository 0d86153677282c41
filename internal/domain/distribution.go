package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DistributionKind is the revenue source of a distribution.
type DistributionKind string

const (
	DistributionRental       DistributionKind = "rental"
	DistributionSale         DistributionKind = "sale"
	DistributionAppreciation DistributionKind = "appreciation"
)

// Valid reports whether k is a known kind.
func (k DistributionKind) Valid() bool {
	switch k {
	case DistributionRental, DistributionSale, DistributionAppreciation:
		return true
	}
	return false
}

// DistributionEntry is one holder's entitlement in a distribution.
type DistributionEntry struct {
	HolderID string          `json:"holder_id"`
	Units    int64           `json:"units"`
	Exact    decimal.Decimal `json:"exact"`
	Share    int64           `json:"share"`
}

// RevenueDistribution is one immutable payout event.
//
// Shares are rounded half-even to the smallest currency unit. The amounts
// always satisfy:
//
//	DistributedAmount + RoundingResidual  == PerUnit × IssuedUnits
//	PerUnit × IssuedUnits + Unallocated   == TotalRevenue
type RevenueDistribution struct {
	ID                string              `json:"id"`
	PropertyID        string              `json:"property_id"`
	TotalRevenue      int64               `json:"total_revenue"`
	TotalSupply       int64               `json:"total_supply"`
	IssuedUnits       int64               `json:"issued_units"`
	PerUnit           decimal.Decimal     `json:"per_unit"`
	Kind              DistributionKind    `json:"kind"`
	Description       string              `json:"description"`
	Entries           []DistributionEntry `json:"entries"`
	DistributedAmount int64               `json:"distributed_amount"`
	RoundingResidual  decimal.Decimal     `json:"rounding_residual"`
	Unallocated       decimal.Decimal     `json:"unallocated"`
	StatementPath     string              `json:"statement_path,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// HolderDistribution is a distribution entry joined with its header, as seen
// from one holder's portfolio.
type HolderDistribution struct {
	DistributionID string           `json:"distribution_id"`
	PropertyID     string           `json:"property_id"`
	Kind           DistributionKind `json:"kind"`
	Description    string           `json:"description"`
	Units          int64            `json:"units"`
	Share          int64            `json:"share"`
	CreatedAt      time.Time        `json:"created_at"`
}
