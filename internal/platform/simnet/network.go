// Package simnet is an in-process settlement network. Sandbox mode runs the
// whole service against it, and tests use it to script confirmations,
// rejections and transfers that stay pending.
package simnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// Mode decides how the next transfers resolve.
type Mode int

const (
	// Confirm applies transfers immediately.
	Confirm Mode = iota
	// Reject refuses transfers definitively.
	Reject
	// Hold leaves transfers pending until Settle is called.
	Hold
	// Drop returns an ambiguous error after recording the transfer as pending.
	Drop
)

// TreasuryAccount is the account that holds unsold supply.
const TreasuryAccount = "treasury"

type asset struct {
	spec       domain.AssetSpec
	balances   map[string]int64
	associated map[string]bool
}

type transfer struct {
	req    domain.TransferRequest
	status domain.TransferStatus
}

// Network implements domain.SettlementNetwork in memory.
type Network struct {
	mu        sync.Mutex
	assets    map[string]*asset
	byKey     map[string]string // asset key -> asset id
	transfers map[string]*transfer
	mode      Mode
	failAsset bool
}

var _ domain.SettlementNetwork = (*Network)(nil)

// New creates an empty Network in Confirm mode.
func New() *Network {
	return &Network{
		assets:    make(map[string]*asset),
		byKey:     make(map[string]string),
		transfers: make(map[string]*transfer),
	}
}

// SetMode changes how subsequent transfers resolve.
func (n *Network) SetMode(m Mode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = m
}

// FailAssetCreation makes CreateAsset fail until called with false.
func (n *Network) FailAssetCreation(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failAsset = fail
}

// CreateAsset registers a new asset with the whole supply in the treasury. A
// spec whose Key was seen before returns the existing asset.
func (n *Network) CreateAsset(_ context.Context, spec domain.AssetSpec) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failAsset {
		return "", fmt.Errorf("simnet: create asset %s: network unavailable", spec.Symbol)
	}
	if id, ok := n.byKey[spec.Key]; ok {
		return id, nil
	}
	id := "asset-" + uuid.NewString()
	if spec.Key != "" {
		n.byKey[spec.Key] = id
	}
	n.assets[id] = &asset{
		spec:       spec,
		balances:   map[string]int64{TreasuryAccount: spec.TotalSupply},
		associated: map[string]bool{TreasuryAccount: true},
	}
	return id, nil
}

// AssociateAccount opens account for the asset.
func (n *Network) AssociateAccount(_ context.Context, account, assetID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	a, ok := n.assets[assetID]
	if !ok {
		return fmt.Errorf("simnet: unknown asset %s", assetID)
	}
	if account == "" {
		return fmt.Errorf("simnet: empty account")
	}
	a.associated[account] = true
	return nil
}

// Transfer moves units according to the current mode.
func (n *Network) Transfer(_ context.Context, req domain.TransferRequest) (domain.TransferReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.From == "" {
		req.From = TreasuryAccount
	}
	ref := "sim-" + uuid.NewString()

	if n.mode == Reject {
		n.transfers[ref] = &transfer{req: req, status: domain.TransferFailed}
		return domain.TransferReceipt{Status: domain.TransferFailed, Reference: ref},
			fmt.Errorf("simnet: transfer refused: %w", domain.ErrTransferRejected)
	}
	if err := n.checkLocked(req); err != nil {
		n.transfers[ref] = &transfer{req: req, status: domain.TransferFailed}
		return domain.TransferReceipt{Status: domain.TransferFailed, Reference: ref}, err
	}

	switch n.mode {
	case Hold:
		n.transfers[ref] = &transfer{req: req, status: domain.TransferPending}
		return domain.TransferReceipt{Status: domain.TransferPending, Reference: ref}, nil
	case Drop:
		n.transfers[ref] = &transfer{req: req, status: domain.TransferPending}
		return domain.TransferReceipt{Status: domain.TransferUnknown, Reference: ref},
			fmt.Errorf("simnet: connection lost after submit")
	}

	n.applyLocked(req)
	n.transfers[ref] = &transfer{req: req, status: domain.TransferConfirmed}
	return domain.TransferReceipt{Status: domain.TransferConfirmed, Reference: ref}, nil
}

func (n *Network) checkLocked(req domain.TransferRequest) error {
	a, ok := n.assets[req.AssetID]
	if !ok {
		return fmt.Errorf("simnet: unknown asset %s: %w", req.AssetID, domain.ErrTransferRejected)
	}
	if !a.associated[req.To] {
		return fmt.Errorf("simnet: %s not associated with %s: %w", req.To, req.AssetID, domain.ErrTransferRejected)
	}
	if a.balances[req.From] < req.Amount {
		return fmt.Errorf("simnet: %s holds %d, needs %d: %w", req.From, a.balances[req.From], req.Amount, domain.ErrTransferRejected)
	}
	return nil
}

func (n *Network) applyLocked(req domain.TransferRequest) {
	a := n.assets[req.AssetID]
	a.balances[req.From] -= req.Amount
	a.balances[req.To] += req.Amount
}

// Settle resolves a pending transfer. Confirming applies the movement.
func (n *Network) Settle(ref string, status domain.TransferStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.transfers[ref]
	if !ok || t.status != domain.TransferPending {
		return fmt.Errorf("simnet: no pending transfer %s", ref)
	}
	if status == domain.TransferConfirmed {
		if err := n.checkLocked(t.req); err != nil {
			t.status = domain.TransferFailed
			return err
		}
		n.applyLocked(t.req)
	}
	t.status = status
	return nil
}

// Forget drops a transfer so queries report it as unknown.
func (n *Network) Forget(ref string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.transfers, ref)
}

// QueryTransferStatus reports the status of a reference.
func (n *Network) QueryTransferStatus(_ context.Context, reference string) (domain.TransferStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.transfers[reference]
	if !ok {
		return domain.TransferUnknown, nil
	}
	return t.status, nil
}

// Balance returns the units of assetID held by account.
func (n *Network) Balance(assetID, account string) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	a, ok := n.assets[assetID]
	if !ok {
		return 0
	}
	return a.balances[account]
}

// AssetCount returns how many assets were created.
func (n *Network) AssetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.assets)
}

// Close is a no-op.
func (n *Network) Close() error { return nil }
