package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/service"
)

// TradeService moves units between the pool and holders.
type TradeService interface {
	PurchaseUnits(ctx context.Context, req service.PurchaseRequest) (domain.TokenTransaction, error)
	TransferUnits(ctx context.Context, req service.TransferRequest) (domain.TokenTransaction, error)
}

// ReconcileService resolves a pending transaction on demand.
type ReconcileService interface {
	ReconcileTransaction(ctx context.Context, id string) (domain.TokenTransaction, error)
}

// PortfolioService answers the read-only investor queries.
type PortfolioService interface {
	GetPortfolio(ctx context.Context, holderID string) (domain.Portfolio, error)
	GetHoldingBalance(ctx context.Context, propertyID, holderID string) (domain.TokenHolding, error)
	GetTransaction(ctx context.Context, id string) (domain.TokenTransaction, error)
	GetTransactionHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.TokenTransaction, error)
}

// LedgerHandler serves purchases, transfers, holdings and transaction
// history.
type LedgerHandler struct {
	trades     TradeService
	reconciler ReconcileService
	portfolios PortfolioService
	logger     *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(trades TradeService, reconciler ReconcileService, portfolios PortfolioService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		trades:     trades,
		reconciler: reconciler,
		portfolios: portfolios,
		logger:     logger,
	}
}

type listTransactionsResponse struct {
	Transactions []domain.TokenTransaction `json:"transactions"`
}

// Purchase buys units from a property's unissued pool. A settlement whose
// outcome is not yet known answers 202 with the pending transaction.
// POST /api/purchases
func (h *LedgerHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req service.PurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := h.trades.PurchaseUnits(r.Context(), req)
	writeSettlementResult(r.Context(), w, h.logger, "purchase units", tx, err)
}

// Transfer moves units from one holder to another.
// POST /api/transfers
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req service.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := h.trades.TransferUnits(r.Context(), req)
	writeSettlementResult(r.Context(), w, h.logger, "transfer units", tx, err)
}

// Transaction returns one transaction.
// GET /api/transactions/{id}
func (h *LedgerHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.portfolios.GetTransaction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Reconcile asks the settlement network about a pending transaction now.
// POST /api/transactions/{id}/reconcile
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	tx, err := h.reconciler.ReconcileTransaction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "reconcile transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// History lists transactions of one holder or one property.
// GET /api/transactions?holder_id=...|property_id=...&limit=50
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	txs, err := h.portfolios.GetTransactionHistory(r.Context(), domain.HistoryQuery{
		HolderID:   q.Get("holder_id"),
		PropertyID: q.Get("property_id"),
		Limit:      limit,
	})
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "transaction history", err)
		return
	}
	if txs == nil {
		txs = []domain.TokenTransaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Transactions: txs})
}

// Holding returns one holder's balance in a property.
// GET /api/properties/{id}/holdings/{holderID}
func (h *LedgerHandler) Holding(w http.ResponseWriter, r *http.Request) {
	hold, err := h.portfolios.GetHoldingBalance(r.Context(), pathParam(r, "id"), pathParam(r, "holderID"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "holding balance", err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// Portfolio returns a holder's valued positions and recent activity.
// GET /api/holders/{holderID}/portfolio
func (h *LedgerHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := h.portfolios.GetPortfolio(r.Context(), pathParam(r, "holderID"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}
