package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/basketswap/service/metrics"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)

	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)

	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// Client provides the ledger operations the basket engine needs.
// It wraps the RPC client with domain-specific operations, logging and metrics.
type Client struct {
	rpc     RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new ledger client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:     rpcClient,
		logger:  logger,
		metrics: m,
	}
}

// LatestBlockhash fetches a fresh blockhash at confirmed commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.metrics.RecordLedgerCall("getLatestBlockhash", err, time.Since(start).Seconds())
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: empty response")
	}

	c.logger.DebugContext(ctx, "fetched blockhash",
		"blockhash", out.Value.Blockhash.String(),
		"last_valid_block_height", out.Value.LastValidBlockHeight,
	)
	return out.Value.Blockhash, nil
}

// LookupTables resolves address lookup tables into their address lists.
// Any table that cannot be fetched or decoded fails the whole call.
func (c *Client) LookupTables(ctx context.Context, addresses []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(addresses))
	for _, addr := range addresses {
		if _, ok := tables[addr]; ok {
			continue
		}

		start := time.Now()
		info, err := c.rpc.GetAccountInfo(ctx, addr)
		c.metrics.RecordLedgerCall("getAccountInfo", err, time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch lookup table %s: %w", addr, err)
		}
		if info == nil || info.Value == nil || info.Value.Data == nil {
			return nil, fmt.Errorf("lookup table %s not found", addr)
		}

		state, err := addresslookuptable.DecodeAddressLookupTableState(info.Value.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("failed to decode lookup table %s: %w", addr, err)
		}
		tables[addr] = state.Addresses
	}
	return tables, nil
}

// SendTransaction submits a signed transaction. Preflight runs at confirmed
// commitment so an expired blockhash surfaces here rather than as a silent drop.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.metrics.RecordLedgerCall("sendTransaction", err, time.Since(start).Seconds())
	if err != nil {
		c.logger.WarnContext(ctx, "send transaction failed", "error", err)
		return solana.Signature{}, err
	}
	return sig, nil
}

// SignatureStatuses fetches the status for each signature, in order.
// Entries are nil for signatures the ledger has not seen.
func (c *Client) SignatureStatuses(ctx context.Context, signatures []solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, signatures...)
	c.metrics.RecordLedgerCall("getSignatureStatuses", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to get signature statuses: %w", err)
	}
	if out == nil {
		return make([]*rpc.SignatureStatusesResult, len(signatures)), nil
	}
	return out.Value, nil
}

// TokenBalance returns the raw balance of owner's associated token account for mint.
// A missing account is a zero balance.
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	c.metrics.RecordLedgerCall("getTokenAccountBalance", err, time.Since(start).Seconds())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "could not find account") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get token balance for %s: %w", mint, err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}

	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}
