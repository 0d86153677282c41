package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table. Rows are
// never updated or deleted; archival copies them to object storage.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

var _ domain.AuditStore = (*AuditStore)(nil)

// Log appends an entry. The detail's property_id, when present, is indexed.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: marshal detail: %w", event, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, property_id, detail) VALUES ($1, $2, $3)`,
		event, domain.AuditPropertyID(detail), raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := appendWindow(`SELECT `+auditColumns+` FROM audit_log WHERE TRUE`, nil, "created_at", opts)
	return s.query(ctx, "list audit", query, args)
}

// ListByProperty returns one property's entries newest first.
func (s *AuditStore) ListByProperty(ctx context.Context, propertyID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := appendWindow(`SELECT `+auditColumns+` FROM audit_log WHERE property_id = $1`,
		[]any{propertyID}, "created_at", opts)
	return s.query(ctx, "list audit "+propertyID, query, args)
}

const auditColumns = `id, event, property_id, detail, created_at`

func (s *AuditStore) query(ctx context.Context, op, query string, args []any) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &e.PropertyID, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("decode detail of entry %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return entries, nil
}
