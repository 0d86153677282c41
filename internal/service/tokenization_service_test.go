package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

func TestSubmitTokenization_RejectsInvalidTerms(t *testing.T) {
	h := newHarness(t, &MockNetwork{}, SettlementConfig{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*domain.TokenizationTerms)
	}{
		{"zero supply", func(tm *domain.TokenizationTerms) { tm.TotalSupply = 0 }},
		{"negative price", func(tm *domain.TokenizationTerms) { tm.UnitPrice = -1 }},
		{"missing symbol", func(tm *domain.TokenizationTerms) { tm.Symbol = " " }},
		{"minimum above value", func(tm *domain.TokenizationTerms) { tm.MinimumInvestment = 200_000 }},
		{"unknown frequency", func(tm *domain.TokenizationTerms) { tm.DistributionFrequency = "weekly" }},
		{"value mismatch", func(tm *domain.TokenizationTerms) { tm.DeclaredValue = 90_000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := sampleTerms()
			tt.mutate(&terms)
			_, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", terms, nil)
			assert.ErrorIs(t, err, domain.ErrInvalidTerms)
		})
	}

	props, err := h.lifecycle.ListProperties(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestSubmitTokenization_StoresPendingWithFallbackSnapshot(t *testing.T) {
	h := newHarness(t, &MockNetwork{}, SettlementConfig{})
	ctx := context.Background()

	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyPendingApproval, p.Status)
	assert.Equal(t, "HVA", p.Symbol)

	snaps, err := h.lifecycle.ListValuations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.ValuationFromFallback, snaps[0].Source)
	assert.Equal(t, int64(120_000), snaps[0].EstimatedValue)
	assert.True(t, snaps[0].LowConfidence)
	assert.False(t, snaps[0].Exceeds)
}

func TestSubmitTokenization_ValuationGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("exceeds without override", func(t *testing.T) {
		h := newHarness(t, &MockNetwork{}, SettlementConfig{})
		val := &MockValuation{}
		val.On("Estimate", mock.Anything, mock.Anything).Return(domain.Estimate{Value: 80_000, Confidence: 0.9}, nil)
		h.lifecycle.WithValuationProvider(val)

		_, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
		assert.ErrorIs(t, err, domain.ErrValuationExceeded)
	})

	t.Run("override is recorded", func(t *testing.T) {
		h := newHarness(t, &MockNetwork{}, SettlementConfig{})
		val := &MockValuation{}
		val.On("Estimate", mock.Anything, mock.Anything).Return(domain.Estimate{Value: 80_000, Confidence: 0.3}, nil)
		h.lifecycle.WithValuationProvider(val)

		p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), &domain.ValuationOverride{
			Justification: "recent independent appraisal",
			ApprovedBy:    "compliance",
		})
		require.NoError(t, err)

		snaps, err := h.lifecycle.ListValuations(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.True(t, snaps[0].Exceeds)
		assert.True(t, snaps[0].LowConfidence)
		assert.Equal(t, domain.ValuationFromProvider, snaps[0].Source)
		assert.Equal(t, "recent independent appraisal", snaps[0].OverrideJustification)
		assert.Equal(t, "compliance", snaps[0].OverrideBy)
	})

	t.Run("low confidence estimate still caps", func(t *testing.T) {
		h := newHarness(t, &MockNetwork{}, SettlementConfig{})
		val := &MockValuation{}
		val.On("Estimate", mock.Anything, mock.Anything).Return(domain.Estimate{Value: 90_000, Confidence: 0.2}, nil)
		h.lifecycle.WithValuationProvider(val)

		// The 120% fallback ceiling would admit this declaration.
		_, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
		require.ErrorIs(t, err, domain.ErrValuationExceeded)
		assert.Contains(t, err.Error(), "provider ceiling 90000")
	})

	t.Run("provider failure falls back", func(t *testing.T) {
		h := newHarness(t, &MockNetwork{}, SettlementConfig{})
		val := &MockValuation{}
		val.On("Estimate", mock.Anything, mock.Anything).Return(domain.Estimate{}, errors.New("timeout"))
		h.lifecycle.WithValuationProvider(val)

		p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
		require.NoError(t, err)
		snaps, err := h.lifecycle.ListValuations(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, domain.ValuationFromFallback, snaps[0].Source)
	})
}

func TestDraftLifecycle(t *testing.T) {
	h := newHarness(t, &MockNetwork{}, SettlementConfig{})
	ctx := context.Background()

	d, err := h.lifecycle.SaveDraft(ctx, "prop-1", sampleTerms())
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyDraft, d.Status)

	_, err = h.lifecycle.ApproveTokenization(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	p, err := h.lifecycle.SubmitDraft(ctx, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyPendingApproval, p.Status)

	_, err = h.lifecycle.SubmitDraft(ctx, d.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRejectTokenization(t *testing.T) {
	h := newHarness(t, &MockNetwork{}, SettlementConfig{})
	ctx := context.Background()

	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
	require.NoError(t, err)

	_, err = h.lifecycle.RejectTokenization(ctx, p.ID, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	rejected, err := h.lifecycle.RejectTokenization(ctx, p.ID, "title deed missing")
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyRejected, rejected.Status)
	assert.Equal(t, "title deed missing", rejected.RejectionReason)

	_, err = h.lifecycle.ApproveTokenization(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestIssueTokenization_CreatesAssetOnce(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.MatchedBy(func(s domain.AssetSpec) bool {
		return s.Symbol == "HVA" && s.TotalSupply == 1000
	})).Return("asset-1", nil).Once()
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()

	p := h.issued(t, sampleTerms())
	assert.Equal(t, domain.PropertyIssued, p.Status)
	assert.Equal(t, "asset-1", p.AssetID)
	require.NotNil(t, p.IssuedAt)

	_, err := h.lifecycle.IssueTokenization(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	net.AssertNumberOfCalls(t, "CreateAsset", 1)

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), st.TotalSupply)
	assert.Equal(t, int64(0), st.IssuedUnits)

	price, _, err := h.prices.GetUnitPrice(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), price)

	txs, err := h.portfolio.GetTransactionHistory(ctx, domain.HistoryQuery{PropertyID: p.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxIssuance, txs[0].Kind)
	assert.Equal(t, domain.SettlementConfirmed, txs[0].Status)
}

func TestIssueTokenization_ConcurrentCallsCreateOneAsset(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil)
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()

	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
	require.NoError(t, err)
	_, err = h.lifecycle.ApproveTokenization(ctx, p.ID)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.lifecycle.IssueTokenization(ctx, p.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	net.AssertNumberOfCalls(t, "CreateAsset", 1)
}

func TestIssueTokenization_NetworkFailureIsRetryable(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("", errors.New("rpc unavailable")).Once()
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-2", nil).Once()
	h := newHarness(t, net, SettlementConfig{})
	alerts := &MockAlerter{}
	alerts.On("Alert", mock.Anything, mock.Anything).Return(nil)
	h.lifecycle.WithAlerter(alerts)
	ctx := context.Background()

	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
	require.NoError(t, err)
	_, err = h.lifecycle.ApproveTokenization(ctx, p.ID)
	require.NoError(t, err)

	_, err = h.lifecycle.IssueTokenization(ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrIssuanceFailed)
	assert.True(t, domain.IsRetryable(err))
	alerts.AssertNumberOfCalls(t, "Alert", 1)

	cur, err := h.lifecycle.GetProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyApproved, cur.Status)

	issued, err := h.lifecycle.IssueTokenization(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "asset-2", issued.AssetID)

	// Both attempts carry the same asset key so the network can dedupe them.
	for _, call := range net.Calls {
		if call.Method == "CreateAsset" {
			assert.Equal(t, p.ID, call.Arguments.Get(1).(domain.AssetSpec).Key)
		}
	}
}

func TestIssueTokenization_SlowNetworkKeepsLockAlive(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(100 * time.Millisecond) }).
		Return("asset-1", nil)
	h := newHarness(t, net, SettlementConfig{})
	h.lifecycle.cfg.LockTTL = 20 * time.Millisecond
	ctx := context.Background()

	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
	require.NoError(t, err)
	_, err = h.lifecycle.ApproveTokenization(ctx, p.ID)
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := h.lifecycle.IssueTokenization(ctx, p.ID)
		first <- err
	}()

	// Well past the lock TTL but before the first call returns.
	time.Sleep(50 * time.Millisecond)
	_, err = h.lifecycle.IssueTokenization(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	require.NoError(t, <-first)
	net.AssertNumberOfCalls(t, "CreateAsset", 1)

	cur, err := h.lifecycle.GetProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyIssued, cur.Status)
	assert.Equal(t, "asset-1", cur.AssetID)
}

func TestIssueTokenization_ResumesInterruptedIssuance(t *testing.T) {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil).Once()
	h := newHarness(t, net, SettlementConfig{})
	ctx := context.Background()

	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-1", sampleTerms(), nil)
	require.NoError(t, err)
	_, err = h.lifecycle.ApproveTokenization(ctx, p.ID)
	require.NoError(t, err)

	// An issuer that died after recording its intent.
	_, err = h.props.Transition(ctx, domain.PropertyTransition{
		ID: p.ID, From: domain.PropertyApproved, To: domain.PropertyIssuing, At: time.Now(),
	})
	require.NoError(t, err)

	issued, err := h.lifecycle.IssueTokenization(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyIssued, issued.Status)
	assert.Equal(t, "asset-1", issued.AssetID)
	net.AssertCalled(t, "CreateAsset", mock.Anything, mock.MatchedBy(func(s domain.AssetSpec) bool {
		return s.Key == p.ID
	}))

	st, err := h.ledger.Supply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), st.TotalSupply)
}

func TestCloseTokenization(t *testing.T) {
	h := newHarness(t, confirmingNetwork(), SettlementConfig{})
	ctx := context.Background()
	p := h.issued(t, sampleTerms())

	closed, err := h.lifecycle.CloseTokenization(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PropertyClosed, closed.Status)

	_, err = h.coord.PurchaseUnits(ctx, PurchaseRequest{PropertyID: p.ID, BuyerID: "alice", Account: "acct-a", Units: 10})
	assert.ErrorIs(t, err, domain.ErrPropertyNotPurchasable)

	_, err = h.lifecycle.CloseTokenization(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestListProperties_UnknownStatus(t *testing.T) {
	h := newHarness(t, &MockNetwork{}, SettlementConfig{})
	_, err := h.lifecycle.ListProperties(context.Background(), "frozen", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, withinTolerance(100_000, 100_000, 0))
	assert.False(t, withinTolerance(100_001, 100_000, 0))
	assert.True(t, withinTolerance(100_500, 100_000, 50))
	assert.False(t, withinTolerance(100_501, 100_000, 50))
	assert.True(t, withinTolerance(99_500, 100_000, 50))
}
