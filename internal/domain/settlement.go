package domain

import "context"

// AssetSpec describes a fungible asset to create on the settlement network.
// Key identifies the asset across retries: a second CreateAsset with the same
// Key returns the asset the first one created instead of creating another.
type AssetSpec struct {
	Key         string
	Name        string
	Symbol      string
	TotalSupply int64
}

// TransferRequest moves Amount units of AssetID from one account to another.
// An empty From means the issuer treasury.
type TransferRequest struct {
	AssetID string
	From    string
	To      string
	Amount  int64
	Memo    string
}

// TransferStatus is the network's view of a transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferFailed    TransferStatus = "failed"
	// TransferUnknown means the network has no record of the reference.
	TransferUnknown TransferStatus = "unknown"
)

// TransferReceipt is returned by Transfer. Reference is set whenever the
// transfer may have been submitted, including when Transfer returns an error,
// so the outcome can be looked up later.
type TransferReceipt struct {
	Status    TransferStatus
	Reference string
}

// SettlementNetwork issues, associates and moves fungible units on an external
// ledger. Implementations are explicitly constructed and closed.
//
// Transfer returns an error wrapping ErrTransferRejected only when the network
// definitively refused the transfer. Any other error is an ambiguous outcome.
type SettlementNetwork interface {
	CreateAsset(ctx context.Context, spec AssetSpec) (assetID string, err error)
	AssociateAccount(ctx context.Context, account, assetID string) error
	Transfer(ctx context.Context, req TransferRequest) (TransferReceipt, error)
	QueryTransferStatus(ctx context.Context, reference string) (TransferStatus, error)
	Close() error
}
