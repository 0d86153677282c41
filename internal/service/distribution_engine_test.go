package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memblob "github.com/alanyoungcy/proptoken/internal/blob/memory"
	"github.com/alanyoungcy/proptoken/internal/domain"
)

func TestAllocate_ProRataWithUnsoldSupply(t *testing.T) {
	a := Allocate(10_000, 1000, []domain.TokenHolding{
		{HolderID: "bob", Units: 200},
		{HolderID: "alice", Units: 300},
	})

	require.Len(t, a.Entries, 2)
	assert.Equal(t, "alice", a.Entries[0].HolderID)
	assert.Equal(t, int64(3000), a.Entries[0].Share)
	assert.Equal(t, "bob", a.Entries[1].HolderID)
	assert.Equal(t, int64(2000), a.Entries[1].Share)

	assert.True(t, a.PerUnit.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(500), a.IssuedUnits)
	assert.Equal(t, int64(5000), a.DistributedAmount)
	assert.True(t, a.RoundingResidual.IsZero())
	assert.True(t, a.Unallocated.Equal(decimal.NewFromInt(5000)))
}

func TestAllocate_ResidualIsReported(t *testing.T) {
	holdings := []domain.TokenHolding{
		{HolderID: "a", Units: 1},
		{HolderID: "b", Units: 1},
		{HolderID: "c", Units: 1},
	}
	a := Allocate(100, 3, holdings)

	for _, e := range a.Entries {
		assert.Equal(t, int64(33), e.Share)
	}
	assert.Equal(t, int64(99), a.DistributedAmount)

	// Σ shares + residual equals per-unit × issued units exactly.
	allocated := a.PerUnit.Mul(decimal.NewFromInt(a.IssuedUnits))
	assert.True(t, decimal.NewFromInt(a.DistributedAmount).Add(a.RoundingResidual).Equal(allocated))
	assert.True(t, a.RoundingResidual.IsPositive())
	assert.True(t, allocated.Add(a.Unallocated).Equal(decimal.NewFromInt(100)))
}

func TestAllocate_RoundsHalfEven(t *testing.T) {
	// 0.5 per unit: exact shares 0.5 and 1.5 round to 0 and 2.
	a := Allocate(5, 10, []domain.TokenHolding{
		{HolderID: "a", Units: 1},
		{HolderID: "b", Units: 3},
	})
	require.Len(t, a.Entries, 2)
	assert.Equal(t, int64(0), a.Entries[0].Share)
	assert.Equal(t, int64(2), a.Entries[1].Share)
	assert.True(t, a.RoundingResidual.Equal(decimal.Zero))
}

func TestAllocate_SkipsEmptyHoldings(t *testing.T) {
	a := Allocate(1000, 100, []domain.TokenHolding{
		{HolderID: "a", Units: 0},
		{HolderID: "b", Units: 10},
	})
	require.Len(t, a.Entries, 1)
	assert.Equal(t, "b", a.Entries[0].HolderID)
	assert.Equal(t, int64(100), a.Entries[0].Share)
}

func TestDistributeRevenue(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	blobs := memblob.New()
	h.engine.WithStatements(blobs, blobs)
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.ledger.Credit(ctx, p.ID, "alice", 300, 100)
	require.NoError(t, err)
	_, err = h.ledger.Credit(ctx, p.ID, "bob", 200, 100)
	require.NoError(t, err)

	d, err := h.engine.DistributeRevenue(ctx, DistributionRequest{
		PropertyID:   p.ID,
		TotalRevenue: 10_000,
		Kind:         domain.DistributionRental,
		Description:  " Q3 rent ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Q3 rent", d.Description)
	assert.Equal(t, int64(1000), d.TotalSupply)
	assert.Equal(t, int64(500), d.IssuedUnits)
	assert.Equal(t, int64(5000), d.DistributedAmount)
	assert.True(t, d.Unallocated.Equal(decimal.NewFromInt(5000)))
	require.Len(t, d.Entries, 2)
	assert.Equal(t, int64(3000), d.Entries[0].Share)
	assert.Equal(t, int64(2000), d.Entries[1].Share)
	assert.Equal(t, StatementPath(p.ID, d.ID), d.StatementPath)

	stored, err := h.engine.GetDistribution(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.DistributedAmount, stored.DistributedAmount)

	listed, err := h.engine.ListDistributions(ctx, p.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	rc, err := h.engine.Statement(ctx, d.ID)
	require.NoError(t, err)
	defer rc.Close()
	var statement domain.RevenueDistribution
	require.NoError(t, json.NewDecoder(rc).Decode(&statement))
	assert.Equal(t, d.ID, statement.ID)
	assert.Len(t, statement.Entries, 2)

	msgs, err := h.bus.StreamRead(ctx, domain.StreamEntitlements, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var ent Entitlement
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ent))
	assert.Equal(t, d.ID, ent.DistributionID)
	assert.Len(t, ent.Entries, 2)
}

func TestDistributeRevenue_Rejections(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.engine.DistributeRevenue(ctx, DistributionRequest{PropertyID: p.ID, TotalRevenue: 0, Kind: domain.DistributionRental})
	assert.ErrorIs(t, err, domain.ErrInvalidDistribution)

	_, err = h.engine.DistributeRevenue(ctx, DistributionRequest{PropertyID: p.ID, TotalRevenue: 100, Kind: "bonus"})
	assert.ErrorIs(t, err, domain.ErrInvalidDistribution)

	_, err = h.engine.DistributeRevenue(ctx, DistributionRequest{PropertyID: p.ID, TotalRevenue: 100, Kind: domain.DistributionRental})
	assert.ErrorIs(t, err, domain.ErrNoHolders)

	pending, err := h.lifecycle.SubmitTokenization(ctx, "prop-2", sampleTerms(), nil)
	require.NoError(t, err)
	_, err = h.engine.DistributeRevenue(ctx, DistributionRequest{PropertyID: pending.ID, TotalRevenue: 100, Kind: domain.DistributionRental})
	assert.ErrorIs(t, err, domain.ErrInvalidDistribution)
}

func TestDistributeRevenue_ClosedPropertyStillPays(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.ledger.Credit(ctx, p.ID, "alice", 1000, 100)
	require.NoError(t, err)
	_, err = h.lifecycle.CloseTokenization(ctx, p.ID)
	require.NoError(t, err)

	d, err := h.engine.DistributeRevenue(ctx, DistributionRequest{PropertyID: p.ID, TotalRevenue: 777, Kind: domain.DistributionSale})
	require.NoError(t, err)
	assert.Equal(t, int64(777), d.DistributedAmount)
	assert.True(t, d.Unallocated.IsZero())
}

func TestStatement_NotExported(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())
	_, err := h.ledger.Credit(ctx, p.ID, "alice", 10, 100)
	require.NoError(t, err)

	d, err := h.engine.DistributeRevenue(ctx, DistributionRequest{PropertyID: p.ID, TotalRevenue: 100, Kind: domain.DistributionRental})
	require.NoError(t, err)
	assert.Empty(t, d.StatementPath)

	_, err = h.engine.Statement(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
