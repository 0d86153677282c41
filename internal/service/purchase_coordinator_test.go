package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

func TestPurchaseUnits_Confirmed(t *testing.T) {
	net := confirmingNetwork()
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 50})
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementConfirmed, tx.Status)
	assert.Equal(t, domain.TxPurchase, tx.Kind)
	assert.Equal(t, int64(5000), tx.TotalValue)
	assert.Equal(t, "sig-ok", tx.NetworkRef)
	require.NotNil(t, tx.SettledAt)

	hold, err := h.ledger.Holding(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), hold.Units)
	assert.Equal(t, int64(5000), hold.CostBasis)
	assert.Equal(t, "acct-a", hold.Account)

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), st.IssuedUnits)
	assert.Equal(t, int64(0), st.ReservedUnits)

	cur, err := h.lifecycle.GetProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyActive, cur.Status)

	net.AssertCalled(t, "Transfer", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool {
		return r.AssetID == "asset-1" && r.From == "" && r.To == "acct-a" && r.Amount == 50 && r.Memo == tx.ID
	}))
}

func TestPurchaseUnits_Validation(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 4})
	assert.ErrorIs(t, err, domain.ErrBelowMinimumInvestment)

	_, err = h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Units: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 1001})
	assert.ErrorIs(t, err, domain.ErrSupplyExceeded)
}

func TestPurchaseUnits_NotIssued(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()

	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
	require.NoError(t, err)

	_, err = h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	assert.ErrorIs(t, err, domain.ErrPropertyNotPurchasable)
}

func TestPurchaseUnits_ConcurrentBuyersCannotOversell(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.coord.PurchaseUnits(ctx, PurchaseRequest{
				PropertyID: p.ID,
				BuyerID:    fmt.Sprintf("buyer-%d", i),
				Account:    fmt.Sprintf("acct-%d", i),
				Units:      600,
			})
		}()
	}
	wg.Wait()

	var exceeded int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrSupplyExceeded)
			exceeded++
		}
	}
	assert.Equal(t, 1, exceeded)

	issued, err := h.ledger.TotalIssued(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), issued)
}

func TestPurchaseUnits_RejectedTransfer(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil)
	net.On("AssociateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	net.On("Transfer", mock.Anything, mock.Anything).
		Return(domain.TransferReceipt{Status: domain.TransferFailed, Reference: "sig-bad"},
			fmt.Errorf("simulate: %w", domain.ErrTransferRejected))
	h := newHarness(t, net, SettlementConfig{})
	alerts := &MockAlerter{}
	alerts.On("Alert", mock.Anything, mock.Anything).Return(nil)
	h.coord.WithAlerter(alerts)
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.ErrorIs(t, err, domain.ErrSettlementFailed)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, domain.SettlementFailed, tx.Status)
	assert.NotEmpty(t, tx.FailureReason)
	alerts.AssertNumberOfCalls(t, "Alert", 1)

	bal, err := h.ledger.BalanceOf(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, bal)

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), st.Available())

	cur, err := h.lifecycle.GetProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyIssued, cur.Status)
}

func TestPurchaseUnits_AssociationFailureIsDefinitive(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil)
	net.On("AssociateAccount", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("account frozen"))
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.ErrorIs(t, err, domain.ErrSettlementFailed)
	assert.Equal(t, domain.SettlementFailed, tx.Status)
	net.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.ReservedUnits)
}

// ambiguousNetwork loses the response of every transfer after submission.
func ambiguousNetwork(status domain.TransferStatus) *MockNetwork {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil)
	net.On("AssociateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	net.On("Transfer", mock.Anything, mock.Anything).
		Return(domain.TransferReceipt{Status: domain.TransferUnknown, Reference: "sig-1"}, context.DeadlineExceeded)
	net.On("QueryTransferStatus", mock.Anything, "sig-1").Return(status, nil)
	return net
}

func TestPurchaseUnits_TimeoutReconciledToFailure(t *testing.T) {
	net := ambiguousNetwork(domain.TransferPending)
	h := newHarness(t, net, SettlementConfig{PendingTimeout: time.Hour})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.ErrorIs(t, err, domain.ErrSettlementAmbiguous)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, domain.SettlementPending, tx.Status)
	assert.Equal(t, "sig-1", tx.NetworkRef)

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.ReservedUnits)

	// Still inside the window: stays pending.
	sum, err := h.recon.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Checked: 1, Pending: 1}, sum)

	h.recon.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	sum, err = h.recon.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Checked: 1, Failed: 1}, sum)

	got, err := h.txs.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, got.Status)
	assert.Contains(t, got.FailureReason, "timed out")

	bal, err := h.ledger.BalanceOf(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, bal)

	st, err = h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.ReservedUnits)
	assert.Equal(t, int64(1000), st.Available())
}

func TestReconciler_ConfirmsLateTransfer(t *testing.T) {
	net := ambiguousNetwork(domain.TransferConfirmed)
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.ErrorIs(t, err, domain.ErrSettlementAmbiguous)

	got, err := h.recon.ReconcileTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementConfirmed, got.Status)

	bal, err := h.ledger.BalanceOf(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)

	// A final transaction is returned unchanged.
	again, err := h.recon.ReconcileTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Status, again.Status)
	bal, err = h.ledger.BalanceOf(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)
}

func TestReconciler_FailsAfterMaxUnknownAttempts(t *testing.T) {
	net := ambiguousNetwork(domain.TransferUnknown)
	h := newHarness(t, net, SettlementConfig{MaxAttempts: 3})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.ErrorIs(t, err, domain.ErrSettlementAmbiguous)
	assert.Equal(t, 1, tx.Attempts)

	got, err := h.recon.ReconcileTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPending, got.Status)
	assert.Equal(t, 2, got.Attempts)

	got, err = h.recon.ReconcileTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, got.Status)
	assert.Contains(t, got.FailureReason, "after 3 attempts")

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.ReservedUnits)
}

func TestReconciler_UnreferencedTransferWaitsForTimeout(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil)
	net.On("AssociateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	net.On("Transfer", mock.Anything, mock.Anything).
		Return(domain.TransferReceipt{Status: domain.TransferUnknown}, errors.New("connection reset by peer"))
	h := newHarness(t, net, SettlementConfig{MaxAttempts: 2, PendingTimeout: time.Hour})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	tx, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.ErrorIs(t, err, domain.ErrSettlementAmbiguous)
	assert.Empty(t, tx.NetworkRef)

	// The transfer may still land, so the units stay reserved past MaxAttempts.
	for range 4 {
		got, err := h.recon.ReconcileTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementPending, got.Status)
	}
	net.AssertNotCalled(t, "QueryTransferStatus", mock.Anything, mock.Anything)

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.ReservedUnits)

	h.recon.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	got, err := h.recon.ReconcileTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, got.Status)
	assert.Contains(t, got.FailureReason, "timed out")

	st, err = h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.ReservedUnits)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, &MockNetwork{}, SettlementConfig{ReconcileInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, h.recon.Run(ctx))
}

func TestTransferUnits_SaleSetsBuyerCostAndPrice(t *testing.T) {
	net := confirmingNetwork()
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 100})
	require.NoError(t, err)

	tx, err := h.coord.TransferUnits(ctx, TransferRequest{
		PropertyID:   p.ID,
		FromHolderID: "alice",
		ToHolderID:   "bob",
		Units:        40,
		PricePerUnit: 150,
		ToAccount:    "acct-b",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxSale, tx.Kind)
	assert.Equal(t, int64(6000), tx.TotalValue)

	alice, err := h.ledger.Holding(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), alice.Units)
	assert.Equal(t, int64(6000), alice.CostBasis)

	bob, err := h.ledger.Holding(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(40), bob.Units)
	assert.Equal(t, int64(6000), bob.CostBasis)

	issued, err := h.ledger.TotalIssued(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), issued)

	price, _, err := h.prices.GetUnitPrice(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), price)

	net.AssertCalled(t, "Transfer", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool {
		return r.From == "acct-a" && r.To == "acct-b" && r.Amount == 40
	}))
}

func TestTransferUnits_GiftCarriesCostBasis(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 100})
	require.NoError(t, err)

	tx, err := h.coord.TransferUnits(ctx, TransferRequest{
		PropertyID:   p.ID,
		FromHolderID: "alice",
		ToHolderID:   "bob",
		Units:        25,
		ToAccount:    "acct-b",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxTransfer, tx.Kind)

	bob, err := h.ledger.Holding(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), bob.CostBasis)

	price, _, err := h.prices.GetUnitPrice(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), price)
}

func TestTransferUnits_InsufficientUnits(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.NoError(t, err)

	_, err = h.coord.TransferUnits(ctx, TransferRequest{
		PropertyID: p.ID, FromHolderID: "alice", ToHolderID: "bob", Units: 11, ToAccount: "acct-b",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientUnits)

	_, err = h.coord.TransferUnits(ctx, TransferRequest{
		PropertyID: p.ID, FromHolderID: "alice", ToHolderID: "alice", Units: 1, ToAccount: "acct-a",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestTransferUnits_SellerWithoutAccountRejected(t *testing.T) {
	net := confirmingNetwork()
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	// Credited off-network, so no settlement account is on file.
	_, err := h.ledger.Credit(ctx, p.ID, "alice", 10, 100)
	require.NoError(t, err)

	_, err = h.coord.TransferUnits(ctx, TransferRequest{
		PropertyID: p.ID, FromHolderID: "alice", ToHolderID: "bob", Units: 5, ToAccount: "acct-b",
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "no settlement account")
	net.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)

	alice, err := h.ledger.Holding(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), alice.Units)
	assert.Zero(t, alice.LockedUnits)
}

func TestTransferUnits_RejectedUnlocksSeller(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil)
	net.On("AssociateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	net.On("Transfer", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool { return r.From == "" })).
		Return(domain.TransferReceipt{Status: domain.TransferConfirmed, Reference: "sig-ok"}, nil)
	net.On("Transfer", mock.Anything, mock.MatchedBy(func(r domain.TransferRequest) bool { return r.From != "" })).
		Return(domain.TransferReceipt{Status: domain.TransferFailed}, nil)
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	_, err := h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	require.NoError(t, err)

	_, err = h.coord.TransferUnits(ctx, TransferRequest{
		PropertyID: p.ID, FromHolderID: "alice", ToHolderID: "bob", Units: 10, PricePerUnit: 120, ToAccount: "acct-b",
	})
	require.ErrorIs(t, err, domain.ErrSettlementFailed)

	alice, err := h.ledger.Holding(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), alice.Units)
	assert.Equal(t, int64(0), alice.LockedUnits)
}
