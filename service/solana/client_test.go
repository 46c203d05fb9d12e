package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	blockhash solana.Hash
	accounts  map[solana.PublicKey][]byte
	statuses  []*rpc.SignatureStatusesResult
	balances  map[solana.PublicKey]string
	sent      []*solana.Transaction
	sendErr   error
	err       error

	accountCalls int
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash, LastValidBlockHeight: 100},
	}, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	m.accountCalls++
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.accounts[account]
	if !ok {
		return &rpc.GetAccountInfoResult{}, nil
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	}, nil
}

func (m *mockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetSignatureStatusesResult{Value: m.statuses}, nil
}

func (m *mockRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	amount, ok := m.balances[account]
	if !ok {
		return nil, errors.New("failed to get token account balance: Invalid param: could not find account")
	}
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: amount},
	}, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, nil, logger)
}

// lookupTableData lays out an address lookup table account: a 56 byte header
// followed by the raw addresses.
func lookupTableData(addrs ...solana.PublicKey) []byte {
	data := make([]byte, 56)
	data[0] = 1
	for _, a := range addrs {
		data = append(data, a[:]...)
	}
	return data
}

func TestLatestBlockhash(t *testing.T) {
	hash := solana.HashFromBytes([]byte("blockhash-blockhash-blockhash-32"))
	client := newTestClient(&mockRPCClient{blockhash: hash})

	got, err := client.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, got)
}

func TestLatestBlockhash_Error(t *testing.T) {
	client := newTestClient(&mockRPCClient{err: errors.New("connection refused")})

	_, err := client.LatestBlockhash(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLookupTables(t *testing.T) {
	table := solana.NewWallet().PublicKey()
	a1 := solana.NewWallet().PublicKey()
	a2 := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{accounts: map[solana.PublicKey][]byte{
		table: lookupTableData(a1, a2),
	}}
	client := newTestClient(mock)

	tables, err := client.LookupTables(context.Background(), []solana.PublicKey{table, table})
	require.NoError(t, err)
	require.Contains(t, tables, table)
	assert.Equal(t, solana.PublicKeySlice{a1, a2}, tables[table])
	assert.Equal(t, 1, mock.accountCalls, "duplicate tables should be fetched once")
}

func TestLookupTables_Missing(t *testing.T) {
	client := newTestClient(&mockRPCClient{})

	_, err := client.LookupTables(context.Background(), []solana.PublicKey{solana.NewWallet().PublicKey()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSignatureStatuses(t *testing.T) {
	statuses := []*rpc.SignatureStatusesResult{
		{Slot: 10, ConfirmationStatus: rpc.ConfirmationStatusFinalized},
		nil,
	}
	client := newTestClient(&mockRPCClient{statuses: statuses})

	got, err := client.SignatureStatuses(context.Background(), []solana.Signature{{1}, {2}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(10), got[0].Slot)
	assert.Nil(t, got[1])
}

func TestTokenBalance(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)

	client := newTestClient(&mockRPCClient{balances: map[solana.PublicKey]string{ata: "123456"}})

	t.Run("existing account", func(t *testing.T) {
		bal, err := client.TokenBalance(context.Background(), owner, mint)
		require.NoError(t, err)
		assert.Equal(t, uint64(123456), bal)
	})

	t.Run("missing account is zero", func(t *testing.T) {
		bal, err := client.TokenBalance(context.Background(), owner, solana.NewWallet().PublicKey())
		require.NoError(t, err)
		assert.Zero(t, bal)
	})
}

func TestSendTransaction(t *testing.T) {
	wallet := solana.NewWallet()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{TipInstruction(wallet.PublicKey(), solana.NewWallet().PublicKey(), 1000)},
		solana.Hash{9},
		solana.TransactionPayer(wallet.PublicKey()),
	)
	require.NoError(t, err)

	signer := NewKeypairSigner(wallet.PrivateKey, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err = signer.SignAll(context.Background(), []*solana.Transaction{tx})
	require.NoError(t, err)

	mock := &mockRPCClient{}
	client := newTestClient(mock)

	sig, err := client.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
	assert.Len(t, mock.sent, 1)

	mock.sendErr = errors.New("Blockhash not found")
	_, err = client.SendTransaction(context.Background(), tx)
	require.Error(t, err)
}
