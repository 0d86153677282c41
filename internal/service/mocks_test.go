package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/proptoken/internal/cache/memory"
	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
	memstore "github.com/alanyoungcy/proptoken/internal/store/memory"
)

// MockNetwork is a testify mock of domain.SettlementNetwork.
type MockNetwork struct {
	mock.Mock
}

func (m *MockNetwork) CreateAsset(ctx context.Context, spec domain.AssetSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockNetwork) AssociateAccount(ctx context.Context, account, assetID string) error {
	args := m.Called(ctx, account, assetID)
	return args.Error(0)
}

func (m *MockNetwork) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferReceipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.TransferReceipt), args.Error(1)
}

func (m *MockNetwork) QueryTransferStatus(ctx context.Context, reference string) (domain.TransferStatus, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(domain.TransferStatus), args.Error(1)
}

func (m *MockNetwork) Close() error {
	return m.Called().Error(0)
}

// MockValuation is a testify mock of domain.ValuationProvider.
type MockValuation struct {
	mock.Mock
}

func (m *MockValuation) Estimate(ctx context.Context, desc domain.PropertyDescriptor) (domain.Estimate, error) {
	args := m.Called(ctx, desc)
	return args.Get(0).(domain.Estimate), args.Error(1)
}

// MockAlerter records alerts.
type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, a notify.Alert) error {
	return m.Called(ctx, a).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires every service over the memory stores and caches.
type harness struct {
	props  *memstore.PropertyStore
	vals   *memstore.ValuationStore
	store  *memstore.LedgerStore
	txs    *memstore.TransactionStore
	dists  *memstore.DistributionStore
	audit  *memstore.AuditStore
	locks  *memcache.LockManager
	prices *memcache.UnitPriceCache
	bus    *memcache.SignalBus

	lifecycle *TokenizationService
	ledger    *HoldingLedger
	coord     *PurchaseCoordinator
	recon     *Reconciler
	engine    *DistributionEngine
	portfolio *PortfolioService
}

func newHarness(t *testing.T, network domain.SettlementNetwork, settle SettlementConfig) *harness {
	t.Helper()
	logger := discardLogger()
	h := &harness{
		props:  memstore.NewPropertyStore(),
		vals:   memstore.NewValuationStore(),
		store:  memstore.NewLedgerStore(),
		txs:    memstore.NewTransactionStore(),
		dists:  memstore.NewDistributionStore(),
		audit:  memstore.NewAuditStore(),
		locks:  memcache.NewLockManager(),
		prices: memcache.NewUnitPriceCache(),
		bus:    memcache.NewSignalBus(100),
	}
	h.lifecycle = NewTokenizationService(h.props, h.vals, h.store, h.txs, network, h.locks, h.prices, h.bus, h.audit,
		TokenizationConfig{FallbackMultiplier: 1.2, MinConfidence: 0.5, LockTTL: time.Minute}, logger)
	h.ledger = NewHoldingLedger(h.store, h.props, h.bus, h.audit, logger)
	h.coord = NewPurchaseCoordinator(h.lifecycle, h.ledger, h.txs, network, h.prices, h.bus, h.audit, settle, logger)
	h.recon = NewReconciler(h.coord, h.txs, network, settle, logger)
	h.engine = NewDistributionEngine(h.lifecycle, h.ledger, h.dists, h.bus, h.audit, logger)
	h.portfolio = NewPortfolioService(h.ledger, h.props, h.txs, h.dists, h.prices, PortfolioConfig{RecentLimit: 5}, logger)
	return h
}

func sampleTerms() domain.TokenizationTerms {
	return domain.TokenizationTerms{
		Name:                  "Harbour View Apartments",
		Symbol:                "hva",
		TotalSupply:           1000,
		UnitPrice:             100,
		DeclaredValue:         100_000,
		MinimumInvestment:     500,
		ExpectedYieldBps:      650,
		LockupDays:            90,
		DistributionFrequency: domain.FrequencyQuarterly,
	}
}

// issued submits, approves and issues a property with terms. The network
// must accept one CreateAsset call.
func (h *harness) issued(t *testing.T, terms domain.TokenizationTerms) domain.TokenizedProperty {
	t.Helper()
	ctx := context.Background()
	p, err := h.lifecycle.SubmitTokenization(ctx, "prop-"+terms.Symbol, terms, nil)
	require.NoError(t, err)
	_, err = h.lifecycle.ApproveTokenization(ctx, p.ID)
	require.NoError(t, err)
	p, err = h.lifecycle.IssueTokenization(ctx, p.ID)
	require.NoError(t, err)
	return p
}

// confirmingNetwork returns a mock that creates one asset and confirms every
// transfer.
func confirmingNetwork() *MockNetwork {
	net := &MockNetwork{}
	net.On("CreateAsset", mock.Anything, mock.Anything).Return("asset-1", nil)
	net.On("AssociateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	net.On("Transfer", mock.Anything, mock.Anything).
		Return(domain.TransferReceipt{Status: domain.TransferConfirmed, Reference: "sig-ok"}, nil)
	return net
}
