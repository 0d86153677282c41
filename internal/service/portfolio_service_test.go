package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

func TestGetPortfolio(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.NoError(t, err)
	_, err = h.engine.DistributeRevenue(ctx, DistributionRequest{PropertyID: p.ID, TotalRevenue: 500, Kind: domain.DistributionRental})
	require.NoError(t, err)
	require.NoError(t, h.prices.SetUnitPrice(ctx, p.ID, 120, time.Now().UTC().Add(time.Minute)))

	pf, err := h.portfolio.GetPortfolio(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pf.Positions, 1)

	pos := pf.Positions[0]
	assert.Equal(t, "HVA", pos.Symbol)
	assert.Equal(t, int64(10), pos.Units)
	assert.Equal(t, int64(1000), pos.CostBasis)
	assert.Equal(t, int64(120), pos.UnitPrice)
	assert.True(t, pos.PriceKnown)
	assert.Equal(t, int64(1200), pos.CurrentValue)
	assert.True(t, pos.ROIPercent.Equal(decimal.NewFromInt(20)))

	assert.Equal(t, int64(1000), pf.TotalCostBasis)
	assert.Equal(t, int64(1200), pf.TotalCurrentValue)
	assert.True(t, pf.ROIPercent.Equal(decimal.NewFromInt(20)))
	require.Len(t, pf.RecentTransactions, 1)
	assert.Equal(t, domain.TxPurchase, pf.RecentTransactions[0].Kind)
	require.Len(t, pf.RecentDistributions, 1)
	assert.Equal(t, int64(5), pf.RecentDistributions[0].Share)
}

func TestGetPortfolio_EmptyHolder(t *testing.T) {
	h := newHarness(t, &MockNetwork{}, SettlementConfig{})
	ctx := context.Background()

	pf, err := h.portfolio.GetPortfolio(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, pf.Positions)
	assert.True(t, pf.ROIPercent.IsZero())

	_, err = h.portfolio.GetPortfolio(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGetHoldingBalance(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	hold, err := h.portfolio.GetHoldingBalance(ctx, p.ID, "carol")
	require.NoError(t, err)
	assert.Zero(t, hold.Units)

	_, err = h.portfolio.GetHoldingBalance(ctx, "", "carol")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGetTransactionHistory(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	for _, buyer := range []string{"alice", "bob", "alice"} {
		_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: buyer, Account: "acct-" + buyer, Units: 5})
		require.NoError(t, err)
	}

	txs, err := h.portfolio.GetTransactionHistory(ctx, domain.HistoryQuery{HolderID: "alice"})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	txs, err = h.portfolio.GetTransactionHistory(ctx, domain.HistoryQuery{PropertyID: p.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	_, err = h.portfolio.GetTransactionHistory(ctx, domain.HistoryQuery{HolderID: "alice", PropertyID: p.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = h.portfolio.GetTransactionHistory(ctx, domain.HistoryQuery{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestROIPercent(t *testing.T) {
	tests := []struct {
		value, basis int64
		want         string
	}{
		{1200, 1000, "20"},
		{800, 1000, "-20"},
		{1000, 0, "0"},
		{1, 3, "-66.6667"},
	}
	for _, tt := range tests {
		got := roiPercent(tt.value, tt.basis)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "roi(%d, %d) = %s", tt.value, tt.basis, got)
	}
}
