package domain

import (
	"errors"
	"fmt"
)

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrLockLost      = errors.New("lock no longer held")
)

// Business rule errors. Each one is returned wrapped in a *ViolationError
// naming the entity and the precondition that failed.
var (
	ErrInvalidTerms           = errors.New("invalid tokenization terms")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrIssuanceFailed         = errors.New("issuance failed")
	ErrSupplyExceeded         = errors.New("supply exceeded")
	ErrInsufficientUnits      = errors.New("insufficient units")
	ErrBelowMinimumInvestment = errors.New("below minimum investment")
	ErrPropertyNotPurchasable = errors.New("property not purchasable")
	ErrSettlementFailed       = errors.New("settlement failed")
	ErrSettlementAmbiguous    = errors.New("settlement outcome ambiguous")
	ErrNoHolders              = errors.New("no holders")
	ErrValuationExceeded      = errors.New("declared value exceeds valuation")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidDistribution    = errors.New("invalid distribution")
	ErrReservationClosed      = errors.New("reservation already closed")
	ErrTransactionFinal       = errors.New("transaction already final")
)

// ErrTransferRejected is returned by settlement adapters when the network
// definitively refused a transfer, so no units moved.
var ErrTransferRejected = errors.New("transfer rejected by network")

// ViolationError carries the entity and rule behind a business failure.
// It unwraps to Kind so callers can match with errors.Is.
type ViolationError struct {
	Kind   error
	Entity string
	ID     string
	Rule   string
	Cause  error
}

// Violation builds a *ViolationError. The rule is formatted with args.
func Violation(kind error, entity, id, rule string, args ...any) *ViolationError {
	if len(args) > 0 {
		rule = fmt.Sprintf(rule, args...)
	}
	return &ViolationError{Kind: kind, Entity: entity, ID: id, Rule: rule}
}

// WithCause attaches the underlying error that triggered the violation.
func (e *ViolationError) WithCause(err error) *ViolationError {
	e.Cause = err
	return e
}

func (e *ViolationError) Error() string {
	msg := fmt.Sprintf("%s %s %s: %s", e.Kind, e.Entity, e.ID, e.Rule)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *ViolationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// IsRetryable reports whether the caller may resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIssuanceFailed) ||
		errors.Is(err, ErrSettlementFailed) ||
		errors.Is(err, ErrLockHeld)
}
