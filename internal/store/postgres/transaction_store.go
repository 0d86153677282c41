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

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

var _ domain.TransactionStore = (*TransactionStore)(nil)

const txSelectCols = `id, property_id, sender_id, receiver_id, units, unit_price,
	total_value, kind, status, network_ref, reservation_id, failure_reason,
	attempts, expires_at, created_at, updated_at, settled_at`

func scanTransaction(row pgx.Row) (domain.TokenTransaction, error) {
	var t domain.TokenTransaction
	var kind, status string
	err := row.Scan(
		&t.ID, &t.PropertyID, &t.SenderID, &t.ReceiverID, &t.Units, &t.UnitPrice,
		&t.TotalValue, &kind, &status, &t.NetworkRef, &t.ReservationID, &t.FailureReason,
		&t.Attempts, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt, &t.SettledAt,
	)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.Status = domain.SettlementStatus(status)
	return t, nil
}

func scanTransactions(rows pgx.Rows) ([]domain.TokenTransaction, error) {
	var out []domain.TokenTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create appends a transaction.
func (s *TransactionStore) Create(ctx context.Context, t domain.TokenTransaction) error {
	const query = `
		INSERT INTO transactions (
			id, property_id, sender_id, receiver_id, units, unit_price,
			total_value, kind, status, network_ref, reservation_id, failure_reason,
			attempts, expires_at, created_at, updated_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PropertyID, t.SenderID, t.ReceiverID, t.Units, t.UnitPrice,
		t.TotalValue, string(t.Kind), string(t.Status), t.NetworkRef, t.ReservationID, t.FailureReason,
		t.Attempts, t.ExpiresAt, t.CreatedAt, t.SettledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create transaction %s: %w", t.ID, err)
	}
	return nil
}

// GetByID retrieves a transaction.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.TokenTransaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenTransaction{}, domain.ErrNotFound
		}
		return domain.TokenTransaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return t, nil
}

// RecordAttempt bumps the attempt counter of a pending transaction.
func (s *TransactionStore) RecordAttempt(ctx context.Context, id, networkRef string, at time.Time) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE transactions SET
			attempts    = attempts + 1,
			network_ref = CASE WHEN $2 <> '' THEN $2 ELSE network_ref END,
			updated_at  = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING attempts`, id, networkRef, at).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, s.finalOrMissing(ctx, id)
		}
		return 0, fmt.Errorf("postgres: record attempt %s: %w", id, err)
	}
	return attempts, nil
}

// Resolve finalizes a pending transaction exactly once.
func (s *TransactionStore) Resolve(ctx context.Context, r domain.TransactionResolution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET
			status         = $2,
			network_ref    = CASE WHEN $3 <> '' THEN $3 ELSE network_ref END,
			failure_reason = $4,
			settled_at     = $5,
			updated_at     = $5
		WHERE id = $1 AND status = 'pending'`,
		r.ID, string(r.Status), r.NetworkRef, r.FailureReason, r.At)
	if err != nil {
		return fmt.Errorf("postgres: resolve transaction %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.finalOrMissing(ctx, r.ID)
	}
	return nil
}

func (s *TransactionStore) finalOrMissing(ctx context.Context, id string) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return domain.Violation(domain.ErrTransactionFinal, "transaction", id, "status is %s", t.Status)
}

// ListPending returns the oldest pending transactions.
func (s *TransactionStore) ListPending(ctx context.Context, limit int) ([]domain.TokenTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE status = 'pending'
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending transactions: %w", err)
	}
	defer rows.Close()

	out, err := scanTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending transactions: %w", err)
	}
	return out, nil
}

// ListByHolder returns transactions where the holder is sender or receiver.
func (s *TransactionStore) ListByHolder(ctx context.Context, holderID string, opts domain.ListOpts) ([]domain.TokenTransaction, error) {
	query, args := appendWindow(
		`SELECT `+txSelectCols+` FROM transactions WHERE (sender_id = $1 OR receiver_id = $1)`,
		[]any{holderID}, "created_at", opts)
	return s.list(ctx, "holder "+holderID, query, args)
}

// ListByProperty returns the transactions of a property.
func (s *TransactionStore) ListByProperty(ctx context.Context, propertyID string, opts domain.ListOpts) ([]domain.TokenTransaction, error) {
	query, args := appendWindow(
		`SELECT `+txSelectCols+` FROM transactions WHERE property_id = $1`,
		[]any{propertyID}, "created_at", opts)
	return s.list(ctx, "property "+propertyID, query, args)
}

// ListBefore returns final transactions created before the cutoff.
func (s *TransactionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TokenTransaction, error) {
	return s.list(ctx, "archive",
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE created_at < $1 AND status <> 'pending'
		 ORDER BY created_at`, []any{before})
}

func (s *TransactionStore) list(ctx context.Context, what, query string, args []any) ([]domain.TokenTransaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions (%s): %w", what, err)
	}
	defer rows.Close()

	out, err := scanTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transactions (%s): %w", what, err)
	}
	return out, nil
}
