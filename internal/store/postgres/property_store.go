package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// PropertyStore implements domain.PropertyStore using PostgreSQL.
type PropertyStore struct {
	pool *pgxpool.Pool
}

// NewPropertyStore creates a new PropertyStore backed by the given connection pool.
func NewPropertyStore(pool *pgxpool.Pool) *PropertyStore {
	return &PropertyStore{pool: pool}
}

var _ domain.PropertyStore = (*PropertyStore)(nil)

const propertySelectCols = `id, property_ref, name, symbol, total_supply, unit_price,
	declared_value, minimum_investment, expected_yield_bps, lockup_days,
	distribution_frequency, location, property_type, area_sqm, status,
	asset_id, rejection_reason, created_at, updated_at, issued_at, closed_at`

func scanProperty(row pgx.Row) (domain.TokenizedProperty, error) {
	var p domain.TokenizedProperty
	var freq, status string

	err := row.Scan(
		&p.ID, &p.PropertyRef, &p.Name, &p.Symbol, &p.TotalSupply, &p.UnitPrice,
		&p.DeclaredValue, &p.MinimumInvestment, &p.ExpectedYieldBps, &p.LockupDays,
		&freq, &p.Location, &p.PropertyType, &p.AreaSqm, &status,
		&p.AssetID, &p.RejectionReason, &p.CreatedAt, &p.UpdatedAt, &p.IssuedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	p.DistributionFrequency = domain.DistributionFrequency(freq)
	p.Status = domain.PropertyStatus(status)
	return p, nil
}

func scanProperties(rows pgx.Rows) ([]domain.TokenizedProperty, error) {
	var out []domain.TokenizedProperty
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new property.
func (s *PropertyStore) Create(ctx context.Context, p domain.TokenizedProperty) error {
	const query = `
		INSERT INTO properties (
			id, property_ref, name, symbol, total_supply, unit_price,
			declared_value, minimum_investment, expected_yield_bps, lockup_days,
			distribution_frequency, location, property_type, area_sqm, status,
			asset_id, rejection_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $18
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.PropertyRef, p.Name, p.Symbol, p.TotalSupply, p.UnitPrice,
		p.DeclaredValue, p.MinimumInvestment, p.ExpectedYieldBps, p.LockupDays,
		string(p.DistributionFrequency), p.Location, p.PropertyType, p.AreaSqm, string(p.Status),
		p.AssetID, p.RejectionReason, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create property %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single property.
func (s *PropertyStore) GetByID(ctx context.Context, id string) (domain.TokenizedProperty, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+propertySelectCols+` FROM properties WHERE id = $1`, id)

	p, err := scanProperty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenizedProperty{}, domain.ErrNotFound
		}
		return domain.TokenizedProperty{}, fmt.Errorf("postgres: get property %s: %w", id, err)
	}
	return p, nil
}

// Transition moves a property from t.From to t.To. The WHERE clause on the
// current status makes concurrent transitions mutually exclusive.
func (s *PropertyStore) Transition(ctx context.Context, t domain.PropertyTransition) (domain.TokenizedProperty, error) {
	const query = `
		UPDATE properties SET
			status           = $3,
			asset_id         = CASE WHEN $4 <> '' THEN $4 ELSE asset_id END,
			rejection_reason = CASE WHEN $5 <> '' THEN $5 ELSE rejection_reason END,
			issued_at        = CASE WHEN $3 = 'issued' THEN $6 ELSE issued_at END,
			closed_at        = CASE WHEN $3 = 'closed' THEN $6 ELSE closed_at END,
			updated_at       = $6
		WHERE id = $1 AND status = $2
		RETURNING ` + propertySelectCols

	row := s.pool.QueryRow(ctx, query,
		t.ID, string(t.From), string(t.To), t.AssetID, t.RejectionReason, t.At)

	p, err := scanProperty(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.TokenizedProperty{}, fmt.Errorf("postgres: transition property %s: %w", t.ID, err)
	}

	// Distinguish a missing row from a stale status.
	current, getErr := s.GetByID(ctx, t.ID)
	if getErr != nil {
		return domain.TokenizedProperty{}, getErr
	}
	return domain.TokenizedProperty{}, domain.Violation(domain.ErrInvalidStateTransition,
		"property", t.ID, "status is %s, expected %s", current.Status, t.From)
}

// List returns properties, optionally filtered by status.
func (s *PropertyStore) List(ctx context.Context, status domain.PropertyStatus, opts domain.ListOpts) ([]domain.TokenizedProperty, error) {
	query := `SELECT ` + propertySelectCols + ` FROM properties WHERE 1=1`
	var args []any
	if status != "" {
		query += " AND status = $1"
		args = append(args, string(status))
	}
	query, args = appendWindow(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list properties: %w", err)
	}
	defer rows.Close()

	out, err := scanProperties(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan properties: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
