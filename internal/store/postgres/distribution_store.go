package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// DistributionStore implements domain.DistributionStore using PostgreSQL.
// NUMERIC columns travel as text so no precision is lost.
type DistributionStore struct {
	pool *pgxpool.Pool
}

// NewDistributionStore creates a new DistributionStore.
func NewDistributionStore(pool *pgxpool.Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

var _ domain.DistributionStore = (*DistributionStore)(nil)

const distributionSelectCols = `id, property_id, total_revenue, total_supply, issued_units,
	per_unit::text, kind, description, distributed_amount, rounding_residual::text,
	unallocated::text, statement_path, created_at`

func scanDistribution(row pgx.Row) (domain.RevenueDistribution, error) {
	var d domain.RevenueDistribution
	var perUnit, residual, unallocated, kind string
	err := row.Scan(
		&d.ID, &d.PropertyID, &d.TotalRevenue, &d.TotalSupply, &d.IssuedUnits,
		&perUnit, &kind, &d.Description, &d.DistributedAmount, &residual,
		&unallocated, &d.StatementPath, &d.CreatedAt,
	)
	if err != nil {
		return domain.RevenueDistribution{}, err
	}
	d.Kind = domain.DistributionKind(kind)
	if d.PerUnit, err = decimal.NewFromString(perUnit); err != nil {
		return domain.RevenueDistribution{}, fmt.Errorf("per_unit: %w", err)
	}
	if d.RoundingResidual, err = decimal.NewFromString(residual); err != nil {
		return domain.RevenueDistribution{}, fmt.Errorf("rounding_residual: %w", err)
	}
	if d.Unallocated, err = decimal.NewFromString(unallocated); err != nil {
		return domain.RevenueDistribution{}, fmt.Errorf("unallocated: %w", err)
	}
	return d, nil
}

// Create persists a distribution and its entries in one transaction.
func (s *DistributionStore) Create(ctx context.Context, d domain.RevenueDistribution) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO distributions (
				id, property_id, total_revenue, total_supply, issued_units,
				per_unit, kind, description, distributed_amount, rounding_residual,
				unallocated, statement_path, created_at
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10::numeric, $11::numeric, $12, $13)`,
			d.ID, d.PropertyID, d.TotalRevenue, d.TotalSupply, d.IssuedUnits,
			d.PerUnit.String(), string(d.Kind), d.Description, d.DistributedAmount, d.RoundingResidual.String(),
			d.Unallocated.String(), d.StatementPath, d.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("postgres: create distribution %s: %w", d.ID, err)
		}

		batch := &pgx.Batch{}
		for _, e := range d.Entries {
			batch.Queue(`
				INSERT INTO distribution_entries (distribution_id, holder_id, units, exact, share)
				VALUES ($1, $2, $3, $4::numeric, $5)`,
				d.ID, e.HolderID, e.Units, e.Exact.String(), e.Share)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert distribution entries %s: %w", d.ID, err)
		}
		return nil
	})
}

// GetByID returns a distribution with its entries.
func (s *DistributionStore) GetByID(ctx context.Context, id string) (domain.RevenueDistribution, error) {
	d, err := scanDistribution(s.pool.QueryRow(ctx,
		`SELECT `+distributionSelectCols+` FROM distributions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RevenueDistribution{}, domain.ErrNotFound
		}
		return domain.RevenueDistribution{}, fmt.Errorf("postgres: get distribution %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT holder_id, units, exact::text, share
		FROM distribution_entries
		WHERE distribution_id = $1
		ORDER BY holder_id`, id)
	if err != nil {
		return domain.RevenueDistribution{}, fmt.Errorf("postgres: get distribution entries %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.DistributionEntry
		var exact string
		if err := rows.Scan(&e.HolderID, &e.Units, &exact, &e.Share); err != nil {
			return domain.RevenueDistribution{}, fmt.Errorf("postgres: scan distribution entry: %w", err)
		}
		if e.Exact, err = decimal.NewFromString(exact); err != nil {
			return domain.RevenueDistribution{}, fmt.Errorf("postgres: parse entry amount: %w", err)
		}
		d.Entries = append(d.Entries, e)
	}
	return d, rows.Err()
}

// ListByProperty returns distribution headers of a property. Entries are not
// loaded.
func (s *DistributionStore) ListByProperty(ctx context.Context, propertyID string, opts domain.ListOpts) ([]domain.RevenueDistribution, error) {
	query, args := appendWindow(
		`SELECT `+distributionSelectCols+` FROM distributions WHERE property_id = $1`,
		[]any{propertyID}, "created_at", opts)
	return s.listHeaders(ctx, query, args)
}

// ListBefore returns distributions created before the cutoff, with entries.
func (s *DistributionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RevenueDistribution, error) {
	headers, err := s.listHeaders(ctx,
		`SELECT `+distributionSelectCols+` FROM distributions WHERE created_at < $1 ORDER BY created_at`,
		[]any{before})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RevenueDistribution, 0, len(headers))
	for _, h := range headers {
		d, err := s.GetByID(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *DistributionStore) listHeaders(ctx context.Context, query string, args []any) ([]domain.RevenueDistribution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list distributions: %w", err)
	}
	defer rows.Close()

	var out []domain.RevenueDistribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan distribution: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListByHolder returns one holder's entries joined with their headers.
func (s *DistributionStore) ListByHolder(ctx context.Context, holderID string, opts domain.ListOpts) ([]domain.HolderDistribution, error) {
	query, args := appendWindow(`
		SELECT d.id, d.property_id, d.kind, d.description, e.units, e.share, d.created_at
		FROM distribution_entries e
		JOIN distributions d ON d.id = e.distribution_id
		WHERE e.holder_id = $1`, []any{holderID}, "d.created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list distributions for %s: %w", holderID, err)
	}
	defer rows.Close()

	var out []domain.HolderDistribution
	for rows.Next() {
		var h domain.HolderDistribution
		var kind string
		if err := rows.Scan(&h.DistributionID, &h.PropertyID, &kind, &h.Description,
			&h.Units, &h.Share, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan holder distribution: %w", err)
		}
		h.Kind = domain.DistributionKind(kind)
		out = append(out, h)
	}
	return out, rows.Err()
}
