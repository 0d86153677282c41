package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// archivePartSize is the multipart chunk size used for archive uploads.
const archivePartSize int64 = 8 * 1024 * 1024

// TransactionArchiveStore lists settled transactions older than a cutoff.
type TransactionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TokenTransaction, error)
}

// DistributionArchiveStore lists distributions older than a cutoff.
type DistributionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.RevenueDistribution, error)
}

// ArchiveImpl implements domain.Archiver. It copies old ledger history to
// JSONL files in the bucket and records each run in the audit log. Rows are
// never deleted from the primary store.
type ArchiveImpl struct {
	writer        domain.BlobWriter
	transactions  TransactionArchiveStore
	distributions DistributionArchiveStore
	audit         domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	transactions TransactionArchiveStore,
	distributions DistributionArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:        writer,
		transactions:  transactions,
		distributions: distributions,
		audit:         audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveTransactions uploads final transactions created before the cutoff
// to archive/transactions/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	txs, err := a.transactions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	return archive(ctx, a, "transactions", before, txs)
}

// ArchiveDistributions uploads distributions (with entries) created before
// the cutoff to archive/distributions/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveDistributions(ctx context.Context, before time.Time) (int64, error) {
	dists, err := a.distributions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive distributions query: %w", err)
	}
	return archive(ctx, a, "distributions", before, dists)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archivePartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/transactions/2025-01.jsonl
//	archive/distributions/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

