package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioPosition is one holding valued at the current unit price.
type PortfolioPosition struct {
	PropertyID   string          `json:"property_id"`
	Name         string          `json:"name,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	Units        int64           `json:"units"`
	CostBasis    int64           `json:"cost_basis"`
	UnitPrice    int64           `json:"unit_price"`
	PriceKnown   bool            `json:"price_known"`
	CurrentValue int64           `json:"current_value"`
	ROIPercent   decimal.Decimal `json:"roi_percent"`
}

// Portfolio is the read-only summary of one holder's investments.
type Portfolio struct {
	HolderID            string               `json:"holder_id"`
	TotalCostBasis      int64                `json:"total_cost_basis"`
	TotalCurrentValue   int64                `json:"total_current_value"`
	ROIPercent          decimal.Decimal      `json:"roi_percent"`
	Positions           []PortfolioPosition  `json:"positions"`
	RecentTransactions  []TokenTransaction   `json:"recent_transactions"`
	RecentDistributions []HolderDistribution `json:"recent_distributions"`
	GeneratedAt         time.Time            `json:"generated_at"`
}
