package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Supply checks
// are expressed as conditional UPDATEs so the database serializes concurrent
// reservations on the supply row.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

const holdingSelectCols = `property_id, holder_id, account, units, locked_units,
	cost_basis, acquired_at, updated_at`

const reservationSelectCols = `id, kind, property_id, holder_id, seller_id, account,
	units, unit_price, status, created_at, closed_at`

func scanHolding(row pgx.Row) (domain.TokenHolding, error) {
	var h domain.TokenHolding
	err := row.Scan(&h.PropertyID, &h.HolderID, &h.Account, &h.Units, &h.LockedUnits,
		&h.CostBasis, &h.AcquiredAt, &h.UpdatedAt)
	return h, err
}

func scanHoldings(rows pgx.Rows) ([]domain.TokenHolding, error) {
	var out []domain.TokenHolding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var r domain.Reservation
	var kind, status string
	err := row.Scan(&r.ID, &kind, &r.PropertyID, &r.HolderID, &r.SellerID, &r.Account,
		&r.Units, &r.UnitPrice, &status, &r.CreatedAt, &r.ClosedAt)
	if err != nil {
		return domain.Reservation{}, err
	}
	r.Kind = domain.ReservationKind(kind)
	r.Status = domain.ReservationStatus(status)
	return r, nil
}

// OpenSupply creates the supply row. A second call is a no-op.
func (s *LedgerStore) OpenSupply(ctx context.Context, propertyID string, totalSupply int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO supply (property_id, total_supply, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (property_id) DO NOTHING`, propertyID, totalSupply)
	if err != nil {
		return fmt.Errorf("postgres: open supply %s: %w", propertyID, err)
	}
	return nil
}

// GetSupply returns the supply row of a property.
func (s *LedgerStore) GetSupply(ctx context.Context, propertyID string) (domain.SupplyState, error) {
	return getSupply(ctx, s.pool, propertyID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSupply(ctx context.Context, q querier, propertyID string) (domain.SupplyState, error) {
	var st domain.SupplyState
	err := q.QueryRow(ctx, `
		SELECT property_id, total_supply, issued_units, reserved_units, updated_at
		FROM supply WHERE property_id = $1`, propertyID).
		Scan(&st.PropertyID, &st.TotalSupply, &st.IssuedUnits, &st.ReservedUnits, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SupplyState{}, domain.ErrNotFound
		}
		return domain.SupplyState{}, fmt.Errorf("postgres: get supply %s: %w", propertyID, err)
	}
	return st, nil
}

// Reserve holds units for an in-flight purchase or resale.
func (s *LedgerStore) Reserve(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	r.Status = domain.ReservationHeld
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		switch r.Kind {
		case domain.ReserveIssue:
			if err := reserveSupply(ctx, tx, r.PropertyID, r.Units, r.CreatedAt); err != nil {
				return err
			}
		case domain.ReserveTransfer:
			if err := lockUnits(ctx, tx, r.PropertyID, r.SellerID, r.Units, r.CreatedAt); err != nil {
				return err
			}
		default:
			return domain.Violation(domain.ErrInvalidRequest, "reservation", r.ID, "unknown kind %q", r.Kind)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (
				id, kind, property_id, holder_id, seller_id, account,
				units, unit_price, status, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, string(r.Kind), r.PropertyID, r.HolderID, r.SellerID, r.Account,
			r.Units, r.UnitPrice, string(r.Status), r.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert reservation %s: %w", r.ID, err)
		}
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return r, nil
}

func reserveSupply(ctx context.Context, tx pgx.Tx, propertyID string, units int64, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE supply SET
			reserved_units = reserved_units + $2,
			updated_at     = $3
		WHERE property_id = $1
		  AND issued_units + reserved_units + $2 <= total_supply`,
		propertyID, units, at)
	if err != nil {
		return fmt.Errorf("postgres: reserve supply %s: %w", propertyID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	st, err := getSupply(ctx, tx, propertyID)
	if err != nil {
		return err
	}
	return domain.Violation(domain.ErrSupplyExceeded, "property", propertyID,
		"requested %d, available %d", units, st.Available())
}

func lockUnits(ctx context.Context, tx pgx.Tx, propertyID, sellerID string, units int64, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE holdings SET
			locked_units = locked_units + $3,
			updated_at   = $4
		WHERE property_id = $1 AND holder_id = $2
		  AND units - locked_units >= $3`,
		propertyID, sellerID, units, at)
	if err != nil {
		return fmt.Errorf("postgres: lock units %s/%s: %w", propertyID, sellerID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Violation(domain.ErrInsufficientUnits, "holding", sellerID,
			"cannot lock %d units of %s", units, propertyID)
	}
	return nil
}

// closeReservation flips a held reservation to status and returns it.
func closeReservation(ctx context.Context, tx pgx.Tx, id string, status domain.ReservationStatus, at time.Time) (domain.Reservation, error) {
	row := tx.QueryRow(ctx, `
		UPDATE reservations SET status = $2, closed_at = $3
		WHERE id = $1 AND status = 'held'
		RETURNING `+reservationSelectCols, id, string(status), at)
	r, err := scanReservation(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, fmt.Errorf("postgres: close reservation %s: %w", id, err)
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("postgres: get reservation %s: %w", id, err)
	}
	return domain.Reservation{}, domain.Violation(domain.ErrReservationClosed, "reservation", id, "status is %s", current)
}

// CommitReservation credits the buyer and closes the reservation.
func (s *LedgerStore) CommitReservation(ctx context.Context, id string, at time.Time) (domain.TokenHolding, error) {
	var out domain.TokenHolding
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := closeReservation(ctx, tx, id, domain.ReservationCommitted, at)
		if err != nil {
			return err
		}

		var cost int64
		switch r.Kind {
		case domain.ReserveIssue:
			if _, err := tx.Exec(ctx, `
				UPDATE supply SET
					reserved_units = reserved_units - $2,
					issued_units   = issued_units + $2,
					updated_at     = $3
				WHERE property_id = $1`, r.PropertyID, r.Units, at); err != nil {
				return fmt.Errorf("postgres: commit supply %s: %w", r.PropertyID, err)
			}
			cost = r.Units * r.UnitPrice

		case domain.ReserveTransfer:
			seller, err := scanHolding(tx.QueryRow(ctx,
				`SELECT `+holdingSelectCols+` FROM holdings
				 WHERE property_id = $1 AND holder_id = $2 FOR UPDATE`, r.PropertyID, r.SellerID))
			if err != nil {
				return fmt.Errorf("postgres: get seller holding %s: %w", r.SellerID, err)
			}
			carried := domain.ProportionalCost(seller.CostBasis, seller.Units, r.Units)
			if _, err := tx.Exec(ctx, `
				UPDATE holdings SET
					units        = units - $3,
					locked_units = locked_units - $3,
					cost_basis   = cost_basis - $4,
					updated_at   = $5
				WHERE property_id = $1 AND holder_id = $2`,
				r.PropertyID, r.SellerID, r.Units, carried, at); err != nil {
				return fmt.Errorf("postgres: debit seller %s: %w", r.SellerID, err)
			}
			cost = carried
			if r.UnitPrice > 0 {
				cost = r.Units * r.UnitPrice
			}
		}

		out, err = creditHolding(ctx, tx, r.PropertyID, r.HolderID, r.Account, r.Units, cost, at)
		return err
	})
	if err != nil {
		return domain.TokenHolding{}, err
	}
	return out, nil
}

func creditHolding(ctx context.Context, tx pgx.Tx, propertyID, holderID, account string, units, cost int64, at time.Time) (domain.TokenHolding, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO holdings (property_id, holder_id, account, units, cost_basis, acquired_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (property_id, holder_id) DO UPDATE SET
			units      = holdings.units + EXCLUDED.units,
			cost_basis = holdings.cost_basis + EXCLUDED.cost_basis,
			account    = CASE WHEN EXCLUDED.account <> '' THEN EXCLUDED.account ELSE holdings.account END,
			updated_at = EXCLUDED.updated_at
		RETURNING `+holdingSelectCols,
		propertyID, holderID, account, units, cost, at)
	h, err := scanHolding(row)
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("postgres: credit holding %s/%s: %w", propertyID, holderID, err)
	}
	return h, nil
}

// ReleaseReservation returns reserved units to where they came from.
func (s *LedgerStore) ReleaseReservation(ctx context.Context, id string, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := closeReservation(ctx, tx, id, domain.ReservationReleased, at)
		if err != nil {
			return err
		}
		switch r.Kind {
		case domain.ReserveIssue:
			_, err = tx.Exec(ctx, `
				UPDATE supply SET reserved_units = reserved_units - $2, updated_at = $3
				WHERE property_id = $1`, r.PropertyID, r.Units, at)
		case domain.ReserveTransfer:
			_, err = tx.Exec(ctx, `
				UPDATE holdings SET locked_units = locked_units - $3, updated_at = $4
				WHERE property_id = $1 AND holder_id = $2`, r.PropertyID, r.SellerID, r.Units, at)
		}
		if err != nil {
			return fmt.Errorf("postgres: release reservation %s: %w", id, err)
		}
		return nil
	})
}

// GetReservation retrieves a reservation by ID.
func (s *LedgerStore) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx,
		`SELECT `+reservationSelectCols+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrNotFound
		}
		return domain.Reservation{}, fmt.Errorf("postgres: get reservation %s: %w", id, err)
	}
	return r, nil
}

// Credit issues units from the pool straight to a holder.
func (s *LedgerStore) Credit(ctx context.Context, propertyID, holderID string, units, unitPrice int64, at time.Time) (domain.TokenHolding, error) {
	cost, ok := domain.MulInt64(units, unitPrice)
	if !ok {
		return domain.TokenHolding{}, domain.Violation(domain.ErrInvalidRequest, "holding", holderID, "cost basis overflows")
	}

	var out domain.TokenHolding
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE supply SET issued_units = issued_units + $2, updated_at = $3
			WHERE property_id = $1 AND issued_units + reserved_units + $2 <= total_supply`,
			propertyID, units, at)
		if err != nil {
			return fmt.Errorf("postgres: credit supply %s: %w", propertyID, err)
		}
		if tag.RowsAffected() == 0 {
			st, err := getSupply(ctx, tx, propertyID)
			if err != nil {
				return err
			}
			return domain.Violation(domain.ErrSupplyExceeded, "property", propertyID,
				"requested %d, available %d", units, st.Available())
		}
		out, err = creditHolding(ctx, tx, propertyID, holderID, "", units, cost, at)
		return err
	})
	if err != nil {
		return domain.TokenHolding{}, err
	}
	return out, nil
}

// Debit removes free units from a holder and returns them to the pool.
func (s *LedgerStore) Debit(ctx context.Context, propertyID, holderID string, units int64, at time.Time) (domain.TokenHolding, error) {
	var out domain.TokenHolding
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		h, err := scanHolding(tx.QueryRow(ctx,
			`SELECT `+holdingSelectCols+` FROM holdings
			 WHERE property_id = $1 AND holder_id = $2 FOR UPDATE`, propertyID, holderID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && h.FreeUnits() < units) {
			return domain.Violation(domain.ErrInsufficientUnits, "holding", holderID,
				"cannot debit %d units of %s", units, propertyID)
		}
		if err != nil {
			return fmt.Errorf("postgres: get holding %s/%s: %w", propertyID, holderID, err)
		}

		carried := domain.ProportionalCost(h.CostBasis, h.Units, units)
		out, err = scanHolding(tx.QueryRow(ctx, `
			UPDATE holdings SET
				units      = units - $3,
				cost_basis = cost_basis - $4,
				updated_at = $5
			WHERE property_id = $1 AND holder_id = $2
			RETURNING `+holdingSelectCols, propertyID, holderID, units, carried, at))
		if err != nil {
			return fmt.Errorf("postgres: debit holding %s/%s: %w", propertyID, holderID, err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE supply SET issued_units = issued_units - $2, updated_at = $3
			WHERE property_id = $1`, propertyID, units, at); err != nil {
			if isCheckViolation(err) {
				return domain.Violation(domain.ErrInsufficientUnits, "property", propertyID, "issued units would go negative")
			}
			return fmt.Errorf("postgres: debit supply %s: %w", propertyID, err)
		}
		return nil
	})
	if err != nil {
		return domain.TokenHolding{}, err
	}
	return out, nil
}

// GetHolding returns one holder's position in one property.
func (s *LedgerStore) GetHolding(ctx context.Context, propertyID, holderID string) (domain.TokenHolding, error) {
	h, err := scanHolding(s.pool.QueryRow(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings WHERE property_id = $1 AND holder_id = $2`,
		propertyID, holderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenHolding{}, domain.ErrNotFound
		}
		return domain.TokenHolding{}, fmt.Errorf("postgres: get holding %s/%s: %w", propertyID, holderID, err)
	}
	return h, nil
}

// ListHoldings returns the non-empty holdings of a property.
func (s *LedgerStore) ListHoldings(ctx context.Context, propertyID string) ([]domain.TokenHolding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings
		 WHERE property_id = $1 AND units > 0
		 ORDER BY holder_id`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings %s: %w", propertyID, err)
	}
	defer rows.Close()

	out, err := scanHoldings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan holdings: %w", err)
	}
	return out, nil
}

// ListHoldingsByHolder returns the non-empty holdings of an investor.
func (s *LedgerStore) ListHoldingsByHolder(ctx context.Context, holderID string) ([]domain.TokenHolding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings
		 WHERE holder_id = $1 AND units > 0
		 ORDER BY property_id`, holderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings for %s: %w", holderID, err)
	}
	defer rows.Close()

	out, err := scanHoldings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan holdings: %w", err)
	}
	return out, nil
}
