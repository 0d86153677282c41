package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// errorBody is the JSON shape of every error response. Business failures
// also carry the violated rule and whether the request may be retried.
type errorBody struct {
	Error       string                   `json:"error"`
	Code        string                   `json:"code,omitempty"`
	Entity      string                   `json:"entity,omitempty"`
	ID          string                   `json:"id,omitempty"`
	Rule        string                   `json:"rule,omitempty"`
	Retryable   bool                     `json:"retryable,omitempty"`
	Transaction *domain.TokenTransaction `json:"transaction,omitempty"`
}

type errorClass struct {
	kind   error
	code   string
	status int
}

// errorClasses is checked in order; the first match wins.
var errorClasses = []errorClass{
	{domain.ErrNotFound, "not_found", http.StatusNotFound},
	{domain.ErrInvalidTerms, "invalid_terms", http.StatusBadRequest},
	{domain.ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{domain.ErrInvalidDistribution, "invalid_distribution", http.StatusBadRequest},
	{domain.ErrBelowMinimumInvestment, "below_minimum_investment", http.StatusBadRequest},
	{domain.ErrValuationExceeded, "valuation_exceeded", http.StatusUnprocessableEntity},
	{domain.ErrSupplyExceeded, "supply_exceeded", http.StatusConflict},
	{domain.ErrInsufficientUnits, "insufficient_units", http.StatusConflict},
	{domain.ErrPropertyNotPurchasable, "property_not_purchasable", http.StatusConflict},
	{domain.ErrNoHolders, "no_holders", http.StatusConflict},
	{domain.ErrReservationClosed, "reservation_closed", http.StatusConflict},
	{domain.ErrTransactionFinal, "transaction_final", http.StatusConflict},
	{domain.ErrAlreadyExists, "already_exists", http.StatusConflict},
	{domain.ErrInvalidStateTransition, "invalid_state_transition", http.StatusConflict},
	{domain.ErrLockHeld, "lock_held", http.StatusConflict},
	{domain.ErrIssuanceFailed, "issuance_failed", http.StatusBadGateway},
	{domain.ErrSettlementFailed, "settlement_failed", http.StatusBadGateway},
	{domain.ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{domain.ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
}

// classify maps err to a response body and status. Unknown errors are 500
// with a generic message.
func classify(err error) (errorBody, int) {
	for _, c := range errorClasses {
		if !errors.Is(err, c.kind) {
			continue
		}
		body := errorBody{
			Error:     err.Error(),
			Code:      c.code,
			Retryable: domain.IsRetryable(err),
		}
		var v *domain.ViolationError
		if errors.As(err, &v) {
			body.Entity, body.ID, body.Rule = v.Entity, v.ID, v.Rule
		}
		return body, c.status
	}
	return errorBody{Error: "internal server error", Code: "internal"}, http.StatusInternalServerError
}

// writeServiceError writes the mapped error response. Server errors are
// logged with op.
func writeServiceError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	body, status := classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "handler: "+op+" failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}

// writeSettlementResult writes the outcome of a purchase or transfer. An
// ambiguous settlement is accepted with the pending transaction; a failed
// one carries the failed transaction in the error body.
func writeSettlementResult(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, op string, tx domain.TokenTransaction, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, tx)
	case errors.Is(err, domain.ErrSettlementAmbiguous):
		writeJSON(w, http.StatusAccepted, tx)
	default:
		body, status := classify(err)
		if tx.ID != "" {
			body.Transaction = &tx
		}
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "handler: "+op+" failed", slog.String("error", err.Error()))
		}
		writeJSON(w, status, body)
	}
}
