package solana

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTipTx(t *testing.T, payer solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{TipInstruction(payer, solana.NewWallet().PublicKey(), 1000)},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	return tx
}

func TestKeypairSigner_SignAll(t *testing.T) {
	wallet := solana.NewWallet()
	signer := NewKeypairSigner(wallet.PrivateKey, testLogger())

	txs := []*solana.Transaction{newTipTx(t, wallet.PublicKey()), newTipTx(t, wallet.PublicKey())}
	signed, err := signer.SignAll(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, signed, 2)
	for _, tx := range signed {
		require.Len(t, tx.Signatures, 1)
		assert.NoError(t, tx.VerifySignatures())
	}
}

func TestKeypairSigner_ForeignPayer(t *testing.T) {
	signer := NewKeypairSigner(solana.NewWallet().PrivateKey, testLogger())

	_, err := signer.SignAll(context.Background(), []*solana.Transaction{newTipTx(t, solana.NewWallet().PublicKey())})
	require.Error(t, err)
}

func TestKeypairSigner_CancelledContext(t *testing.T) {
	wallet := solana.NewWallet()
	signer := NewKeypairSigner(wallet.PrivateKey, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := signer.SignAll(ctx, []*solana.Transaction{newTipTx(t, wallet.PublicKey())})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadKeypairSigner(t *testing.T) {
	wallet := solana.NewWallet()
	keyBytes := make([]int, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		keyBytes[i] = int(b)
	}
	raw, err := json.Marshal(keyBytes)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	signer, err := LoadKeypairSigner(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), signer.PublicKey())

	_, err = LoadKeypairSigner(filepath.Join(t.TempDir(), "missing.json"), testLogger())
	assert.Error(t, err)
}

// bridgeHandler emulates a wallet signing bridge backed by a local key.
func bridgeHandler(t *testing.T, key solana.PrivateKey) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		local := NewKeypairSigner(key, testLogger())
		out := signResponse{}
		for _, encoded := range req.Transactions {
			tx, err := solana.TransactionFromBase64(encoded)
			require.NoError(t, err)
			_, err = local.SignAll(r.Context(), []*solana.Transaction{tx})
			require.NoError(t, err)
			out.Transactions = append(out.Transactions, tx.MustToBase64())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func TestRemoteSigner_SignAll(t *testing.T) {
	wallet := solana.NewWallet()
	server := httptest.NewServer(bridgeHandler(t, wallet.PrivateKey))
	defer server.Close()

	signer := NewRemoteSigner(server.URL, nil, testLogger())
	txs := []*solana.Transaction{newTipTx(t, wallet.PublicKey()), newTipTx(t, wallet.PublicKey())}

	signed, err := signer.SignAll(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, signed, 2)
	for _, tx := range signed {
		assert.NoError(t, tx.VerifySignatures())
	}
}

func TestRemoteSigner_UserRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"User rejected the request."}`))
	}))
	defer server.Close()

	wallet := solana.NewWallet()
	signer := NewRemoteSigner(server.URL, nil, testLogger())

	_, err := signer.SignAll(context.Background(), []*solana.Transaction{newTipTx(t, wallet.PublicKey())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "User rejected the request.")
}

func TestRemoteSigner_WrongCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactions":[]}`))
	}))
	defer server.Close()

	wallet := solana.NewWallet()
	signer := NewRemoteSigner(server.URL, nil, testLogger())

	_, err := signer.SignAll(context.Background(), []*solana.Transaction{newTipTx(t, wallet.PublicKey())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1")
}

func TestRemoteSigner_ModifiedMessage(t *testing.T) {
	wallet := solana.NewWallet()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		other := newTipTx(t, wallet.PublicKey())
		_, err := NewKeypairSigner(wallet.PrivateKey, testLogger()).SignAll(r.Context(), []*solana.Transaction{other})
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(signResponse{Transactions: []string{other.MustToBase64()}})
	}))
	defer server.Close()

	signer := NewRemoteSigner(server.URL, nil, testLogger())
	_, err := signer.SignAll(context.Background(), []*solana.Transaction{newTipTx(t, wallet.PublicKey())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modified")
}
