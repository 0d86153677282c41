package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PortfolioConfig tunes the portfolio projection.
type PortfolioConfig struct {
	// RecentLimit is how many transactions and distribution entries a
	// portfolio includes.
	RecentLimit int
}

// PortfolioService builds read-only views of a holder's investments.
type PortfolioService struct {
	ledger        *HoldingLedger
	properties    domain.PropertyStore
	transactions  domain.TransactionStore
	distributions domain.DistributionStore
	prices        domain.UnitPriceCache
	cfg           PortfolioConfig
	logger        *slog.Logger
	now           func() time.Time
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(
	ledger *HoldingLedger,
	properties domain.PropertyStore,
	transactions domain.TransactionStore,
	distributions domain.DistributionStore,
	prices domain.UnitPriceCache,
	cfg PortfolioConfig,
	logger *slog.Logger,
) *PortfolioService {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	return &PortfolioService{
		ledger:        ledger,
		properties:    properties,
		transactions:  transactions,
		distributions: distributions,
		prices:        prices,
		cfg:           cfg,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// GetPortfolio values every holding of holderID at the latest unit price.
// A position without a known price is valued at cost.
func (s *PortfolioService) GetPortfolio(ctx context.Context, holderID string) (domain.Portfolio, error) {
	if holderID == "" {
		return domain.Portfolio{}, domain.Violation(domain.ErrInvalidRequest, "portfolio", "", "holder id is required")
	}

	holdings, err := s.ledger.HoldingsOf(ctx, holderID)
	if err != nil {
		return domain.Portfolio{}, err
	}

	ids := make([]string, 0, len(holdings))
	for _, h := range holdings {
		ids = append(ids, h.PropertyID)
	}
	cached, err := s.prices.GetUnitPrices(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "portfolio_service: unit price cache unavailable",
			slog.String("holder_id", holderID),
			slog.String("error", err.Error()),
		)
		cached = map[string]int64{}
	}

	pf := domain.Portfolio{
		HolderID:    holderID,
		Positions:   []domain.PortfolioPosition{},
		GeneratedAt: s.now(),
	}
	for _, h := range holdings {
		if h.Units <= 0 {
			continue
		}
		pos := s.position(ctx, h, cached)
		pf.Positions = append(pf.Positions, pos)
		pf.TotalCostBasis += pos.CostBasis
		pf.TotalCurrentValue += pos.CurrentValue
	}
	pf.ROIPercent = roiPercent(pf.TotalCurrentValue, pf.TotalCostBasis)

	recent := domain.ListOpts{Limit: s.cfg.RecentLimit}
	if pf.RecentTransactions, err = s.transactions.ListByHolder(ctx, holderID, recent); err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: recent transactions %s: %w", holderID, err)
	}
	if pf.RecentDistributions, err = s.distributions.ListByHolder(ctx, holderID, recent); err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: recent distributions %s: %w", holderID, err)
	}
	return pf, nil
}

func (s *PortfolioService) position(ctx context.Context, h domain.TokenHolding, cached map[string]int64) domain.PortfolioPosition {
	pos := domain.PortfolioPosition{
		PropertyID: h.PropertyID,
		Units:      h.Units,
		CostBasis:  h.CostBasis,
	}

	price, known := cached[h.PropertyID]
	p, err := s.properties.GetByID(ctx, h.PropertyID)
	if err == nil {
		pos.Name = p.Name
		pos.Symbol = p.Symbol
		if !known && p.UnitPrice > 0 {
			price, known = p.UnitPrice, true
		}
	} else {
		s.logger.WarnContext(ctx, "portfolio_service: property lookup failed",
			slog.String("property_id", h.PropertyID),
			slog.String("error", err.Error()),
		)
	}

	if known {
		if value, ok := domain.MulInt64(h.Units, price); ok {
			pos.UnitPrice = price
			pos.PriceKnown = true
			pos.CurrentValue = value
			pos.ROIPercent = roiPercent(value, h.CostBasis)
			return pos
		}
	}
	pos.CurrentValue = h.CostBasis
	pos.ROIPercent = decimal.Zero
	return pos
}

// GetHoldingBalance returns one holding; a missing holding has zero units.
func (s *PortfolioService) GetHoldingBalance(ctx context.Context, propertyID, holderID string) (domain.TokenHolding, error) {
	if propertyID == "" || holderID == "" {
		return domain.TokenHolding{}, domain.Violation(domain.ErrInvalidRequest, "holding", holderID, "property and holder are required")
	}
	return s.ledger.Holding(ctx, propertyID, holderID)
}

// GetTransaction returns one transaction.
func (s *PortfolioService) GetTransaction(ctx context.Context, id string) (domain.TokenTransaction, error) {
	tx, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return domain.TokenTransaction{}, fmt.Errorf("portfolio_service: get transaction %s: %w", id, err)
	}
	return tx, nil
}

// GetTransactionHistory lists transactions of a holder or of a property,
// newest first. Exactly one of the two must be given.
func (s *PortfolioService) GetTransactionHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.TokenTransaction, error) {
	if (q.HolderID == "") == (q.PropertyID == "") {
		return nil, domain.Violation(domain.ErrInvalidRequest, "history", "", "exactly one of holder or property is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	opts := domain.ListOpts{Limit: limit}

	var (
		txs []domain.TokenTransaction
		err error
	)
	if q.HolderID != "" {
		txs, err = s.transactions.ListByHolder(ctx, q.HolderID, opts)
	} else {
		txs, err = s.transactions.ListByProperty(ctx, q.PropertyID, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: transaction history: %w", err)
	}
	return txs, nil
}

// roiPercent returns (value − basis) / basis × 100 to 4 places, 0 for a zero
// basis.
func roiPercent(value, basis int64) decimal.Decimal {
	if basis == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(value - basis).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(basis), 4)
}
