package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/platform/simnet"
)

func TestSimnetFlow_HeldTransferConfirmedByReconciler(t *testing.T) {
	net := simnet.New()
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	net.SetMode(simnet.Hold)
	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 20})
	require.ErrorIs(t, err, domain.ErrSettlementAmbiguous)
	require.NotEmpty(t, tx.NetworkRef)

	sum, err := h.recon.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pending)

	require.NoError(t, net.Settle(tx.NetworkRef, domain.TransferConfirmed))
	sum, err = h.recon.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Confirmed)

	bal, err := h.ledger.BalanceOf(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20), bal)
	assert.Equal(t, int64(20), net.Balance(p.AssetID, "acct-a"))
	assert.Equal(t, int64(980), net.Balance(p.AssetID, simnet.TreasuryAccount))
}

func TestSimnetFlow_LedgerMatchesNetwork(t *testing.T) {
	net := simnet.New()
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 100})
	require.NoError(t, err)
	_, err = h.coord.TransferUnits(ctx, TransferRequest{
		PropertyID: p.ID, FromHolderID: "alice", ToHolderID: "bob", Units: 30, PricePerUnit: 110, ToAccount: "acct-b",
	})
	require.NoError(t, err)

	net.SetMode(simnet.Reject)
	_, err = h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "carol", Account: "acct-c", Units: 10})
	require.ErrorIs(t, err, domain.ErrSettlementFailed)

	holdings, err := h.ledger.Holdings(ctx, p.ID)
	require.NoError(t, err)
	for _, hold := range holdings {
		assert.Equal(t, hold.Units, net.Balance(p.AssetID, hold.Account), hold.HolderID)
	}
	issued, err := h.ledger.TotalIssued(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000-issued, net.Balance(p.AssetID, simnet.TreasuryAccount))
}
