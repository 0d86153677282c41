package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// ValuationStore implements domain.ValuationStore using PostgreSQL.
type ValuationStore struct {
	pool *pgxpool.Pool
}

// NewValuationStore creates a new ValuationStore.
func NewValuationStore(pool *pgxpool.Pool) *ValuationStore {
	return &ValuationStore{pool: pool}
}

var _ domain.ValuationStore = (*ValuationStore)(nil)

// Insert appends a snapshot.
func (s *ValuationStore) Insert(ctx context.Context, v domain.ValuationSnapshot) error {
	const query = `
		INSERT INTO valuation_snapshots (
			id, property_id, declared_value, token_value, estimated_value,
			confidence, source, low_confidence, exceeds,
			override_justification, override_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		v.ID, v.PropertyID, v.DeclaredValue, v.TokenValue, v.EstimatedValue,
		v.Confidence, string(v.Source), v.LowConfidence, v.Exceeds,
		v.OverrideJustification, v.OverrideBy, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert valuation snapshot %s: %w", v.ID, err)
	}
	return nil
}

// ListByProperty returns the snapshots of a property, newest first.
func (s *ValuationStore) ListByProperty(ctx context.Context, propertyID string) ([]domain.ValuationSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, property_id, declared_value, token_value, estimated_value,
			confidence, source, low_confidence, exceeds,
			override_justification, override_by, created_at
		FROM valuation_snapshots
		WHERE property_id = $1
		ORDER BY created_at DESC`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list valuation snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.ValuationSnapshot
	for rows.Next() {
		var v domain.ValuationSnapshot
		var source string
		if err := rows.Scan(
			&v.ID, &v.PropertyID, &v.DeclaredValue, &v.TokenValue, &v.EstimatedValue,
			&v.Confidence, &source, &v.LowConfidence, &v.Exceeds,
			&v.OverrideJustification, &v.OverrideBy, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan valuation snapshot: %w", err)
		}
		v.Source = domain.ValuationSource(source)
		out = append(out, v)
	}
	return out, rows.Err()
}
