package domain

import (
	"context"
	"time"
)

// PropertyDescriptor is what a valuation provider needs to price a property.
type PropertyDescriptor struct {
	PropertyRef   string `json:"property_ref"`
	Name          string `json:"name"`
	Location      string `json:"location,omitempty"`
	PropertyType  string `json:"property_type,omitempty"`
	AreaSqm       int64  `json:"area_sqm,omitempty"`
	DeclaredValue int64  `json:"declared_value"`
}

// Estimate is a provider's market value estimate. Confidence is in [0, 1].
type Estimate struct {
	Value      int64   `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ValuationProvider estimates property market value. It is advisory only and
// may be unavailable; callers must fall back.
type ValuationProvider interface {
	Estimate(ctx context.Context, desc PropertyDescriptor) (Estimate, error)
}

// ValuationSource identifies where a snapshot's ceiling came from.
type ValuationSource string

const (
	ValuationFromProvider ValuationSource = "provider"
	ValuationFromFallback ValuationSource = "fallback"
)

// ValuationSnapshot records the value-exceeds-property-value check made when a
// tokenization is submitted.
type ValuationSnapshot struct {
	ID                    string          `json:"id"`
	PropertyID            string          `json:"property_id"`
	DeclaredValue         int64           `json:"declared_value"`
	TokenValue            int64           `json:"token_value"`
	EstimatedValue        int64           `json:"estimated_value"`
	Confidence            float64         `json:"confidence"`
	Source                ValuationSource `json:"source"`
	LowConfidence         bool            `json:"low_confidence"`
	Exceeds               bool            `json:"exceeds"`
	OverrideJustification string          `json:"override_justification,omitempty"`
	OverrideBy            string          `json:"override_by,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}
