// Package solananet settles unit movements as SPL token transfers on Solana.
//
// Each tokenized property becomes one SPL mint whose whole supply is minted to
// the treasury's associated token account. The mint address is derived from
// the treasury key and the asset key, so a retried issuance finds the mint it
// already created. The treasury pays fees and creates investor token
// accounts but owns only its own. Sales from the treasury are signed by the
// treasury; resales are signed by the seller's key, resolved through
// HolderKeys, with the treasury as fee payer.
package solananet

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// MaxDecimals is the largest supported mint precision. SPL allows up to 255,
// but 10^decimals must fit a uint64 scale with room for real supplies.
const MaxDecimals = 9

// mintSeedDomain separates mint key derivation from any other use of the
// treasury secret.
const mintSeedDomain = "proptoken/mint/"

// HolderKeys resolves the signing key of a holder account for resales.
type HolderKeys interface {
	Key(account string) (solana.PrivateKey, error)
}

// Config holds RPC and token parameters.
type Config struct {
	RPCURL      string
	Commitment  string
	Decimals    uint8
	SendTimeout time.Duration
	// PollInterval is how often signature status is polled while waiting for
	// confirmation.
	PollInterval time.Duration
}

// Network implements domain.SettlementNetwork.
type Network struct {
	rpc        *rpc.Client
	treasury   solana.PrivateKey
	commitment rpc.CommitmentType
	decimals   uint8
	timeout    time.Duration
	poll       time.Duration
	holders    HolderKeys
	logger     *slog.Logger
}

var _ domain.SettlementNetwork = (*Network)(nil)

// New creates a Network that signs with treasury.
func New(cfg Config, treasury solana.PrivateKey, logger *slog.Logger) (*Network, error) {
	if cfg.Decimals > MaxDecimals {
		return nil, fmt.Errorf("solana: decimals %d above maximum %d", cfg.Decimals, MaxDecimals)
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	commitment := rpc.CommitmentType(cfg.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}
	return &Network{
		rpc:        rpc.New(cfg.RPCURL),
		treasury:   treasury,
		commitment: commitment,
		decimals:   cfg.Decimals,
		timeout:    timeout,
		poll:       poll,
		logger:     logger.With(slog.String("component", "solana")),
	}, nil
}

// WithHolderKeys enables resales from holder accounts whose keys hk holds.
func (n *Network) WithHolderKeys(hk HolderKeys) *Network {
	n.holders = hk
	return n
}

// Treasury returns the treasury public key in base58.
func (n *Network) Treasury() string {
	return n.treasury.PublicKey().String()
}

// CreateAsset creates a mint and mints the full supply to the treasury. It
// returns the mint address once the transaction reaches the configured
// commitment. When the mint for spec.Key already exists its address is
// returned without sending anything.
func (n *Network) CreateAsset(ctx context.Context, spec domain.AssetSpec) (string, error) {
	amount, err := n.baseUnits(spec.TotalSupply)
	if err != nil {
		return "", err
	}

	mint, err := n.mintKey(spec.Key)
	if err != nil {
		return "", fmt.Errorf("solana: mint key: %w", err)
	}
	if spec.Key != "" {
		_, err := n.rpc.GetAccountInfoWithOpts(ctx, mint.PublicKey(), &rpc.GetAccountInfoOpts{Commitment: n.commitment})
		if err == nil {
			n.logger.InfoContext(ctx, "solana: asset already exists",
				slog.String("mint", mint.PublicKey().String()),
				slog.String("key", spec.Key),
			)
			return mint.PublicKey().String(), nil
		}
		if !errors.Is(err, rpc.ErrNotFound) {
			return "", fmt.Errorf("solana: look up mint %s: %w", mint.PublicKey(), err)
		}
	}
	payer := n.treasury.PublicKey()

	rent, err := n.rpc.GetMinimumBalanceForRentExemption(ctx, token.MINT_SIZE, n.commitment)
	if err != nil {
		return "", fmt.Errorf("solana: rent exemption: %w", err)
	}
	treasuryATA, _, err := solana.FindAssociatedTokenAddress(payer, mint.PublicKey())
	if err != nil {
		return "", fmt.Errorf("solana: derive treasury account: %w", err)
	}

	ixs := []solana.Instruction{
		system.NewCreateAccountInstruction(rent, token.MINT_SIZE, token.ProgramID, payer, mint.PublicKey()).Build(),
		token.NewInitializeMint2Instruction(n.decimals, payer, payer, mint.PublicKey()).Build(),
		associatedtokenaccount.NewCreateInstruction(payer, payer, mint.PublicKey()).Build(),
		token.NewMintToInstruction(amount, mint.PublicKey(), treasuryATA, payer, nil).Build(),
	}

	sig, err := n.send(ctx, ixs, mint)
	if err != nil {
		return "", fmt.Errorf("solana: create asset %s: %w", spec.Symbol, err)
	}
	status, err := n.await(ctx, sig)
	if err != nil {
		return "", fmt.Errorf("solana: create asset %s: %w", spec.Symbol, err)
	}
	if status != domain.TransferConfirmed {
		return "", fmt.Errorf("solana: create asset %s: mint transaction %s is %s", spec.Symbol, sig, status)
	}

	n.logger.InfoContext(ctx, "solana: asset created",
		slog.String("mint", mint.PublicKey().String()),
		slog.String("symbol", spec.Symbol),
		slog.Int64("supply", spec.TotalSupply),
		slog.String("signature", sig.String()),
	)
	return mint.PublicKey().String(), nil
}

// AssociateAccount makes sure account has a token account for the asset. It
// is a no-op when the account already exists.
func (n *Network) AssociateAccount(ctx context.Context, account, assetID string) error {
	owner, mint, err := parseAccountAndMint(account, assetID)
	if err != nil {
		return err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return fmt.Errorf("solana: derive token account: %w", err)
	}

	if _, err := n.rpc.GetAccountInfo(ctx, ata); err == nil {
		return nil
	} else if !errors.Is(err, rpc.ErrNotFound) {
		return fmt.Errorf("solana: get token account %s: %w", ata, err)
	}

	payer := n.treasury.PublicKey()
	ixs := []solana.Instruction{
		associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build(),
	}
	sig, err := n.send(ctx, ixs)
	if err != nil {
		return fmt.Errorf("solana: associate %s: %w", account, err)
	}
	status, err := n.await(ctx, sig)
	if err != nil {
		return fmt.Errorf("solana: associate %s: %w", account, err)
	}
	if status != domain.TransferConfirmed {
		return fmt.Errorf("solana: associate %s: transaction %s is %s", account, sig, status)
	}
	return nil
}

// Transfer moves units with TransferChecked, signed by the owner of the
// source account. Preflight rejections, on-chain failures and sellers without
// a signing key wrap domain.ErrTransferRejected. Any other send error returns
// an unknown receipt carrying the transaction signature, which is fixed
// before submission, so the outcome can be looked up later. A transfer that
// was sent but not confirmed within the send timeout returns a pending
// receipt.
func (n *Network) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferReceipt, error) {
	amount, err := n.baseUnits(req.Amount)
	if err != nil {
		return domain.TransferReceipt{Status: domain.TransferFailed}, err
	}
	to, mint, err := parseAccountAndMint(req.To, req.AssetID)
	if err != nil {
		return domain.TransferReceipt{Status: domain.TransferFailed}, err
	}
	owner, err := n.sourceOwner(req.From)
	if err != nil {
		return domain.TransferReceipt{Status: domain.TransferFailed}, err
	}
	from := owner.PublicKey()

	source, _, err := solana.FindAssociatedTokenAddress(from, mint)
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("solana: derive source account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return domain.TransferReceipt{}, fmt.Errorf("solana: derive destination account: %w", err)
	}

	ixs := []solana.Instruction{
		token.NewTransferCheckedInstruction(amount, n.decimals, source, mint, dest, from, nil).Build(),
	}
	sig, err := n.send(ctx, ixs, owner)
	if err != nil {
		return sendFailure(sig, err)
	}
	ref := sig.String()

	status, err := n.await(ctx, sig)
	if err != nil {
		// Sent but not confirmed in time: the reconciler takes it from here.
		n.logger.WarnContext(ctx, "solana: transfer unconfirmed",
			slog.String("signature", ref),
			slog.String("error", err.Error()),
		)
		return domain.TransferReceipt{Status: domain.TransferPending, Reference: ref}, nil
	}
	if status == domain.TransferFailed {
		return domain.TransferReceipt{Status: status, Reference: ref},
			fmt.Errorf("solana: transfer %s failed on chain: %w", ref, domain.ErrTransferRejected)
	}
	return domain.TransferReceipt{Status: status, Reference: ref}, nil
}

// QueryTransferStatus looks up a transaction signature.
func (n *Network) QueryTransferStatus(ctx context.Context, reference string) (domain.TransferStatus, error) {
	sig, err := solana.SignatureFromBase58(reference)
	if err != nil {
		return domain.TransferUnknown, fmt.Errorf("solana: reference %q: %w", reference, err)
	}
	out, err := n.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return domain.TransferUnknown, nil
		}
		return domain.TransferUnknown, fmt.Errorf("solana: signature status %s: %w", reference, err)
	}
	if len(out.Value) == 0 {
		return domain.TransferUnknown, nil
	}
	return statusOf(out.Value[0], n.commitment), nil
}

// Close releases the RPC client.
func (n *Network) Close() error {
	return n.rpc.Close()
}

// sourceOwner returns the key that owns the source token account: the
// treasury when from is empty or the treasury itself, else the seller's key.
func (n *Network) sourceOwner(from string) (solana.PrivateKey, error) {
	if from == "" || from == n.Treasury() {
		return n.treasury, nil
	}
	pub, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return nil, fmt.Errorf("solana: sender %q: %w", from, domain.ErrTransferRejected)
	}
	if n.holders == nil {
		return nil, fmt.Errorf("solana: no signing key for sender %s: %w", from, domain.ErrTransferRejected)
	}
	key, err := n.holders.Key(from)
	if err != nil {
		return nil, fmt.Errorf("solana: signing key for sender %s: %v: %w", from, err, domain.ErrTransferRejected)
	}
	if !key.PublicKey().Equals(pub) {
		return nil, fmt.Errorf("solana: signing key for sender %s does not match: %w", from, domain.ErrTransferRejected)
	}
	return key, nil
}

// sendFailure maps a send error to a receipt. The signature is kept whenever
// the transaction was signed, since a transport error does not prove the
// cluster never received it.
func sendFailure(sig solana.Signature, err error) (domain.TransferReceipt, error) {
	var ref string
	if sig != (solana.Signature{}) {
		ref = sig.String()
	}
	if errors.Is(err, domain.ErrTransferRejected) {
		return domain.TransferReceipt{Status: domain.TransferFailed, Reference: ref}, fmt.Errorf("solana: transfer: %w", err)
	}
	return domain.TransferReceipt{Status: domain.TransferUnknown, Reference: ref}, fmt.Errorf("solana: transfer: %w", err)
}

// mintKey derives the mint keypair for an asset key from the treasury secret.
// An empty key yields a random mint.
func (n *Network) mintKey(key string) (solana.PrivateKey, error) {
	if key == "" {
		return solana.NewRandomPrivateKey()
	}
	h := sha256.New()
	h.Write(n.treasury)
	h.Write([]byte(mintSeedDomain))
	h.Write([]byte(key))
	return solana.PrivateKey(ed25519.NewKeyFromSeed(h.Sum(nil))), nil
}

// send builds, signs and submits a transaction paid by the treasury. Extra
// signers are added for instructions that create accounts or move tokens the
// treasury does not own. Once the transaction is signed its signature is
// returned even when submission fails.
func (n *Network) send(ctx context.Context, ixs []solana.Instruction, extra ...solana.PrivateKey) (solana.Signature, error) {
	recent, err := n.rpc.GetLatestBlockhash(ctx, n.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(n.treasury.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	signers := append([]solana.PrivateKey{n.treasury}, extra...)
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig := tx.Signatures[0]

	if _, err := n.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: n.commitment,
	}); err != nil {
		return sig, classifySendError(err)
	}
	return sig, nil
}

// await polls the signature until it reaches the configured commitment,
// fails, or the send timeout elapses.
func (n *Network) await(ctx context.Context, sig solana.Signature) (domain.TransferStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	ticker := time.NewTicker(n.poll)
	defer ticker.Stop()

	for {
		out, err := n.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(out.Value) > 0 {
			switch st := statusOf(out.Value[0], n.commitment); st {
			case domain.TransferConfirmed, domain.TransferFailed:
				return st, nil
			}
		}

		select {
		case <-ctx.Done():
			return domain.TransferPending, fmt.Errorf("await %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (n *Network) baseUnits(units int64) (uint64, error) {
	if units <= 0 {
		return 0, fmt.Errorf("solana: amount must be positive, got %d", units)
	}
	if n.decimals > MaxDecimals {
		return 0, fmt.Errorf("solana: decimals %d above maximum %d", n.decimals, MaxDecimals)
	}
	scale := uint64(1)
	for range n.decimals {
		scale *= 10
	}
	if uint64(units) > math.MaxUint64/scale {
		return 0, fmt.Errorf("solana: amount %d overflows at %d decimals", units, n.decimals)
	}
	return uint64(units) * scale, nil
}

// statusOf maps an RPC signature status to a transfer status. A nil result
// means the cluster does not know the signature.
func statusOf(res *rpc.SignatureStatusesResult, want rpc.CommitmentType) domain.TransferStatus {
	if res == nil {
		return domain.TransferUnknown
	}
	if res.Err != nil {
		return domain.TransferFailed
	}
	switch res.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return domain.TransferConfirmed
	case rpc.ConfirmationStatusConfirmed:
		if want != rpc.CommitmentFinalized {
			return domain.TransferConfirmed
		}
	case rpc.ConfirmationStatusProcessed:
		if want == rpc.CommitmentProcessed {
			return domain.TransferConfirmed
		}
	}
	return domain.TransferPending
}

// classifySendError marks JSON-RPC errors (preflight simulation failures,
// malformed transactions) as definitive rejections. Transport errors stay
// ambiguous because the node may have forwarded the transaction.
func classifySendError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s (code %d): %w", rpcErr.Message, rpcErr.Code, domain.ErrTransferRejected)
	}
	return err
}

func parseAccountAndMint(account, assetID string) (solana.PublicKey, solana.PublicKey, error) {
	owner, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{},
			fmt.Errorf("solana: account %q: %w", account, domain.ErrTransferRejected)
	}
	mint, err := solana.PublicKeyFromBase58(assetID)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{},
			fmt.Errorf("solana: asset %q: %w", assetID, domain.ErrTransferRejected)
	}
	return owner, mint, nil
}
