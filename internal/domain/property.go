package domain

import (
	"math/big"
	"strings"
	"time"
)

// PropertyStatus is the lifecycle state of a tokenized property.
type PropertyStatus string

const (
	PropertyDraft           PropertyStatus = "draft"
	PropertyPendingApproval PropertyStatus = "pending_approval"
	PropertyApproved        PropertyStatus = "approved"
	PropertyRejected        PropertyStatus = "rejected"
	// PropertyIssuing records that asset creation was started. It returns to
	// approved when the network call fails.
	PropertyIssuing         PropertyStatus = "issuing"
	PropertyIssued          PropertyStatus = "issued"
	PropertyActive          PropertyStatus = "active"
	PropertyClosed          PropertyStatus = "closed"
)

// propertyTransitions lists the allowed next states for each state.
var propertyTransitions = map[PropertyStatus][]PropertyStatus{
	PropertyDraft:           {PropertyPendingApproval},
	PropertyPendingApproval: {PropertyApproved, PropertyRejected},
	PropertyApproved:        {PropertyIssuing},
	PropertyIssuing:         {PropertyIssued, PropertyApproved},
	PropertyIssued:          {PropertyActive, PropertyClosed},
	PropertyActive:          {PropertyClosed},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s PropertyStatus) CanTransitionTo(next PropertyStatus) bool {
	for _, allowed := range propertyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s PropertyStatus) Terminal() bool {
	return len(propertyTransitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s PropertyStatus) Valid() bool {
	switch s {
	case PropertyDraft, PropertyPendingApproval, PropertyApproved, PropertyRejected,
		PropertyIssuing, PropertyIssued, PropertyActive, PropertyClosed:
		return true
	}
	return false
}

// DistributionFrequency is how often revenue is expected to be distributed.
type DistributionFrequency string

const (
	FrequencyMonthly   DistributionFrequency = "monthly"
	FrequencyQuarterly DistributionFrequency = "quarterly"
	FrequencyAnnually  DistributionFrequency = "annually"
)

// Valid reports whether f is a known frequency.
func (f DistributionFrequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	}
	return false
}

// TokenizationTerms are the owner-supplied economics of a tokenization request.
// All amounts are in the smallest currency unit.
type TokenizationTerms struct {
	Name                  string                `json:"name"`
	Symbol                string                `json:"symbol"`
	TotalSupply           int64                 `json:"total_supply"`
	UnitPrice             int64                 `json:"unit_price"`
	DeclaredValue         int64                 `json:"declared_value"`
	MinimumInvestment     int64                 `json:"minimum_investment"`
	ExpectedYieldBps      int                   `json:"expected_yield_bps"`
	LockupDays            int                   `json:"lockup_days"`
	DistributionFrequency DistributionFrequency `json:"distribution_frequency"`
	Location              string                `json:"location,omitempty"`
	PropertyType          string                `json:"property_type,omitempty"`
	AreaSqm               int64                 `json:"area_sqm,omitempty"`
}

// TokenValue returns unit price × total supply. ok is false on overflow.
func (t TokenizationTerms) TokenValue() (int64, bool) {
	return MulInt64(t.UnitPrice, t.TotalSupply)
}

// ValuationOverride lets a caller accept a declared value above the
// valuation ceiling. The justification is stored with the snapshot.
type ValuationOverride struct {
	Justification string `json:"justification"`
	ApprovedBy    string `json:"approved_by"`
}

// Present reports whether an override with a justification was supplied.
func (o *ValuationOverride) Present() bool {
	return o != nil && strings.TrimSpace(o.Justification) != ""
}

// TokenizedProperty is one property's tokenization record.
type TokenizedProperty struct {
	ID                    string                `json:"id"`
	PropertyRef           string                `json:"property_ref"`
	Name                  string                `json:"name"`
	Symbol                string                `json:"symbol"`
	TotalSupply           int64                 `json:"total_supply"`
	UnitPrice             int64                 `json:"unit_price"`
	DeclaredValue         int64                 `json:"declared_value"`
	MinimumInvestment     int64                 `json:"minimum_investment"`
	ExpectedYieldBps      int                   `json:"expected_yield_bps"`
	LockupDays            int                   `json:"lockup_days"`
	DistributionFrequency DistributionFrequency `json:"distribution_frequency"`
	Location              string                `json:"location,omitempty"`
	PropertyType          string                `json:"property_type,omitempty"`
	AreaSqm               int64                 `json:"area_sqm,omitempty"`
	Status                PropertyStatus        `json:"status"`
	AssetID               string                `json:"asset_id,omitempty"`
	RejectionReason       string                `json:"rejection_reason,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	IssuedAt              *time.Time            `json:"issued_at,omitempty"`
	ClosedAt              *time.Time            `json:"closed_at,omitempty"`
}

// Purchasable reports whether units can currently be bought.
func (p TokenizedProperty) Purchasable() bool {
	return p.Status == PropertyIssued || p.Status == PropertyActive
}

// Descriptor returns the data sent to a valuation provider.
func (p TokenizedProperty) Descriptor() PropertyDescriptor {
	return PropertyDescriptor{
		PropertyRef:   p.PropertyRef,
		Name:          p.Name,
		Location:      p.Location,
		PropertyType:  p.PropertyType,
		AreaSqm:       p.AreaSqm,
		DeclaredValue: p.DeclaredValue,
	}
}

// TokenValue returns unit price × total supply. ok is false on overflow.
func (p TokenizedProperty) TokenValue() (int64, bool) {
	return MulInt64(p.UnitPrice, p.TotalSupply)
}

// PropertyTransition is a compare-and-set status change. The store applies it
// only when the current status equals From.
type PropertyTransition struct {
	ID              string
	From            PropertyStatus
	To              PropertyStatus
	AssetID         string
	RejectionReason string
	At              time.Time
}

// MulInt64 multiplies a and b, reporting false on overflow.
func MulInt64(a, b int64) (int64, bool) {
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	if !r.IsInt64() {
		return 0, false
	}
	return r.Int64(), true
}
