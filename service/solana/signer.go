package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
)

// KeypairSigner signs transactions with a single local private key.
type KeypairSigner struct {
	key    solana.PrivateKey
	logger *slog.Logger
}

// NewKeypairSigner creates a signer for the given private key.
func NewKeypairSigner(key solana.PrivateKey, logger *slog.Logger) *KeypairSigner {
	return &KeypairSigner{key: key, logger: logger}
}

// LoadKeypairSigner reads a solana-keygen JSON keypair file.
func LoadKeypairSigner(path string, logger *slog.Logger) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypairSigner(key, logger), nil
}

// PublicKey returns the signer's address.
func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// SignAll signs every transaction in place and returns them in the same order.
// It fails without partial results if any transaction needs a key it doesn't hold.
func (s *KeypairSigner) SignAll(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pub := s.key.PublicKey()
	getter := func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &s.key
		}
		return nil
	}

	for i, tx := range txs {
		if _, err := tx.Sign(getter); err != nil {
			return nil, fmt.Errorf("failed to sign transaction %d: %w", i, err)
		}
	}

	s.logger.DebugContext(ctx, "signed transactions", "count", len(txs), "signer", pub.String())
	return txs, nil
}

// RemoteSigner forwards transactions to a signing bridge over HTTP.
// The bridge receives {"transactions": [base64...]} and answers with the same
// shape carrying signed transactions, or {"error": "..."} with a non-2xx status
// when the wallet holder declines.
type RemoteSigner struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// RemoteSignerTimeout bounds one signing round trip so a human has time to
// approve the request.
const RemoteSignerTimeout = 2 * time.Minute

// NewRemoteSigner creates a signer backed by the bridge at url.
// If httpClient is nil, a client with RemoteSignerTimeout is used.
func NewRemoteSigner(url string, httpClient *http.Client, logger *slog.Logger) *RemoteSigner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: RemoteSignerTimeout}
	}
	return &RemoteSigner{url: url, httpClient: httpClient, logger: logger}
}

type signRequest struct {
	Transactions []string `json:"transactions"`
}

type signResponse struct {
	Transactions []string `json:"transactions"`
	Error        string   `json:"error,omitempty"`
}

// SignAll sends all transactions in one request. A declined request surfaces the
// bridge's error text unchanged so callers can classify it.
func (s *RemoteSigner) SignAll(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	req := signRequest{Transactions: make([]string, 0, len(txs))}
	for i, tx := range txs {
		encoded, err := tx.ToBase64()
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %d: %w", i, err)
		}
		req.Transactions = append(req.Transactions, encoded)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sign request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sign response: %w", err)
	}

	var out signResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("invalid sign response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		s.logger.WarnContext(ctx, "remote signer declined", "status", resp.StatusCode, "error", msg)
		return nil, fmt.Errorf("remote signer: %s", msg)
	}

	if len(out.Transactions) != len(txs) {
		return nil, fmt.Errorf("remote signer returned %d transactions, expected %d", len(out.Transactions), len(txs))
	}

	signed := make([]*solana.Transaction, len(out.Transactions))
	for i, encoded := range out.Transactions {
		tx, err := solana.TransactionFromBase64(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode signed transaction %d: %w", i, err)
		}
		if err := sameMessage(txs[i], tx); err != nil {
			return nil, fmt.Errorf("signed transaction %d: %w", i, err)
		}
		if err := tx.VerifySignatures(); err != nil {
			return nil, fmt.Errorf("signed transaction %d: %w", i, err)
		}
		signed[i] = tx
	}
	return signed, nil
}

// sameMessage rejects a signed transaction whose message differs from the one
// that was sent for signing.
func sameMessage(want, got *solana.Transaction) error {
	a, err := want.Message.MarshalBinary()
	if err != nil {
		return err
	}
	b, err := got.Message.MarshalBinary()
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		return fmt.Errorf("message was modified by signer")
	}
	return nil
}
