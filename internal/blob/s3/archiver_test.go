package s3blob

import (
	"bufio"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memblob "github.com/alanyoungcy/proptoken/internal/blob/memory"
	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/store/memory"
)

func TestArchiveImpl_ArchiveTransactions(t *testing.T) {
	ctx := context.Background()
	blobs := memblob.New()
	txs := memory.NewTransactionStore()
	audit := memory.NewAuditStore()
	a := NewArchiver(blobs, txs, memory.NewDistributionStore(), audit)

	old := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	for _, tx := range []domain.TokenTransaction{
		{ID: "t1", PropertyID: "p1", ReceiverID: "alice", Units: 5, Kind: domain.TxPurchase, Status: domain.SettlementConfirmed, CreatedAt: old},
		{ID: "t2", PropertyID: "p1", ReceiverID: "bob", Units: 3, Kind: domain.TxPurchase, Status: domain.SettlementPending, CreatedAt: old},
		{ID: "t3", PropertyID: "p1", ReceiverID: "carol", Units: 1, Kind: domain.TxPurchase, Status: domain.SettlementFailed, CreatedAt: old.AddDate(0, 2, 0)},
	} {
		require.NoError(t, txs.Create(ctx, tx))
	}

	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveTransactions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "pending and newer rows stay out of the archive")

	rc, err := blobs.Get(ctx, "archive/transactions/2025-02.jsonl")
	require.NoError(t, err)
	defer rc.Close()

	var lines []domain.TokenTransaction
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		var tx domain.TokenTransaction
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tx))
		lines = append(lines, tx)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, "t1", lines[0].ID)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.transactions", entries[0].Event)
}

func TestArchiveImpl_NothingToArchive(t *testing.T) {
	ctx := context.Background()
	blobs := memblob.New()
	a := NewArchiver(blobs, memory.NewTransactionStore(), memory.NewDistributionStore(), memory.NewAuditStore())

	n, err := a.ArchiveDistributions(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	infos, err := blobs.List(ctx, "archive/")
	require.NoError(t, err)
	assert.Empty(t, infos)
}
