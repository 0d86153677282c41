package solananet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		res  *rpc.SignatureStatusesResult
		want rpc.CommitmentType
		out  domain.TransferStatus
	}{
		{"unknown signature", nil, rpc.CommitmentFinalized, domain.TransferUnknown},
		{"failed on chain", &rpc.SignatureStatusesResult{Err: map[string]any{"InstructionError": []any{0, "Custom"}}}, rpc.CommitmentFinalized, domain.TransferFailed},
		{"finalized", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}, rpc.CommitmentFinalized, domain.TransferConfirmed},
		{"confirmed but finality required", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, rpc.CommitmentFinalized, domain.TransferPending},
		{"confirmed is enough", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, rpc.CommitmentConfirmed, domain.TransferConfirmed},
		{"processed only", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusProcessed}, rpc.CommitmentConfirmed, domain.TransferPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, statusOf(tt.res, tt.want))
		})
	}
}

func TestClassifySendError(t *testing.T) {
	rejected := classifySendError(&jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed"})
	assert.ErrorIs(t, rejected, domain.ErrTransferRejected)

	transport := classifySendError(errors.New("connection reset by peer"))
	assert.NotErrorIs(t, transport, domain.ErrTransferRejected)
}

func TestBaseUnits(t *testing.T) {
	n := &Network{decimals: 2}
	v, err := n.baseUnits(150)
	require.NoError(t, err)
	assert.Equal(t, uint64(15000), v)

	_, err = n.baseUnits(0)
	assert.Error(t, err)

	n = &Network{decimals: MaxDecimals}
	v, err = n.baseUnits(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000_000), v)

	n = &Network{decimals: 20}
	_, err = n.baseUnits(1)
	assert.ErrorContains(t, err, "above maximum")
}

func TestNewRejectsUnsupportedDecimals(t *testing.T) {
	key := newKey(t)
	_, err := New(Config{RPCURL: "http://127.0.0.1:0", Decimals: 10}, key, discard())
	assert.ErrorContains(t, err, "decimals 10")

	n, err := New(Config{RPCURL: "http://127.0.0.1:0", Decimals: MaxDecimals}, key, discard())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey().String(), n.Treasury())
}

func TestParseAccountAndMint_RejectsGarbage(t *testing.T) {
	_, _, err := parseAccountAndMint("not-a-key", "So11111111111111111111111111111111111111112")
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
}

func TestMintKeyIsDerivedFromAssetKey(t *testing.T) {
	n := &Network{treasury: newKey(t)}

	a, err := n.mintKey("prop-1")
	require.NoError(t, err)
	again, err := n.mintKey("prop-1")
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), again.PublicKey())
	require.NoError(t, a.Validate())

	b, err := n.mintKey("prop-2")
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey(), b.PublicKey())

	other := &Network{treasury: newKey(t)}
	c, err := other.mintKey("prop-1")
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey(), c.PublicKey())

	r1, err := n.mintKey("")
	require.NoError(t, err)
	r2, err := n.mintKey("")
	require.NoError(t, err)
	assert.NotEqual(t, r1.PublicKey(), r2.PublicKey())
}

func TestSendFailureKeepsSignature(t *testing.T) {
	sig := solana.Signature{1, 2, 3}

	receipt, err := sendFailure(sig, errors.New("connection reset by peer"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransferRejected)
	assert.Equal(t, domain.TransferUnknown, receipt.Status)
	assert.Equal(t, sig.String(), receipt.Reference)

	receipt, err = sendFailure(sig, classifySendError(&jsonrpc.RPCError{Code: -32002, Message: "simulation failed"}))
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
	assert.Equal(t, domain.TransferFailed, receipt.Status)

	// Failed before signing: nothing to look up.
	receipt, _ = sendFailure(solana.Signature{}, errors.New("latest blockhash: timeout"))
	assert.Equal(t, domain.TransferUnknown, receipt.Status)
	assert.Empty(t, receipt.Reference)
}

type keyMap map[string]solana.PrivateKey

func (m keyMap) Key(account string) (solana.PrivateKey, error) {
	k, ok := m[account]
	if !ok {
		return nil, fmt.Errorf("no key for %s", account)
	}
	return k, nil
}

func TestSourceOwner(t *testing.T) {
	treasury := newKey(t)
	seller := newKey(t)
	stranger := newKey(t)
	n := &Network{treasury: treasury}

	for _, from := range []string{"", treasury.PublicKey().String()} {
		owner, err := n.sourceOwner(from)
		require.NoError(t, err)
		assert.Equal(t, treasury.PublicKey(), owner.PublicKey())
	}

	// Without a keyring the treasury cannot move an investor's tokens.
	_, err := n.sourceOwner(seller.PublicKey().String())
	assert.ErrorIs(t, err, domain.ErrTransferRejected)

	n.WithHolderKeys(keyMap{
		seller.PublicKey().String():   seller,
		stranger.PublicKey().String(): seller,
	})
	owner, err := n.sourceOwner(seller.PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, seller.PublicKey(), owner.PublicKey())

	_, err = n.sourceOwner(stranger.PublicKey().String())
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
	_, err = n.sourceOwner(newKey(t).PublicKey().String())
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
	_, err = n.sourceOwner("acct-a")
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
}

// rpcServer answers getLatestBlockhash and drops the connection on
// sendTransaction, the way a node that dies mid-request does.
func rpcServer(t *testing.T, sends *atomic.Int32) *httptest.Server {
	t.Helper()
	blockhash := newKey(t).PublicKey().String()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "getLatestBlockhash":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result": map[string]any{
					"context": map[string]any{"slot": 1},
					"value":   map[string]any{"blockhash": blockhash, "lastValidBlockHeight": 100},
				},
			})
		case "sendTransaction":
			sends.Add(1)
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTransfer_TransportFailureReturnsSignature(t *testing.T) {
	var sends atomic.Int32
	srv := rpcServer(t, &sends)
	n, err := New(Config{RPCURL: srv.URL}, newKey(t), discard())
	require.NoError(t, err)

	receipt, err := n.Transfer(context.Background(), domain.TransferRequest{
		AssetID: newKey(t).PublicKey().String(),
		To:      newKey(t).PublicKey().String(),
		Amount:  5,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransferRejected)
	assert.Equal(t, int32(1), sends.Load())
	assert.Equal(t, domain.TransferUnknown, receipt.Status)
	require.NotEmpty(t, receipt.Reference)
	sig, err := solana.SignatureFromBase58(receipt.Reference)
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, sig)
}

func TestTransfer_ResaleWithoutSellerKeySendsNothing(t *testing.T) {
	var sends atomic.Int32
	srv := rpcServer(t, &sends)
	n, err := New(Config{RPCURL: srv.URL}, newKey(t), discard())
	require.NoError(t, err)

	receipt, err := n.Transfer(context.Background(), domain.TransferRequest{
		AssetID: newKey(t).PublicKey().String(),
		From:    newKey(t).PublicKey().String(),
		To:      newKey(t).PublicKey().String(),
		Amount:  5,
	})
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
	assert.Equal(t, domain.TransferFailed, receipt.Status)
	assert.Zero(t, sends.Load())
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
