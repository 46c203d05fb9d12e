package basket

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/basketswap/service/relay"
	"github.com/brojonat/basketswap/service/router"
	solsvc "github.com/brojonat/basketswap/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	solMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	jupMint  = solana.MustPublicKeyFromBase58("JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN")
	bonkMint = solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	wifMint  = solana.MustPublicKeyFromBase58("EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm")

	swapProgram = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FeeWallet = solana.NewWallet().PublicKey()
	cfg.QuoteTimeout = time.Second
	cfg.QuoteMaxAge = time.Minute
	cfg.ConfirmPollInterval = time.Millisecond
	cfg.ConfirmTimeout = 50 * time.Millisecond
	cfg.ExpiryRecoveryTimeout = 20 * time.Millisecond
	cfg.BundlePollInterval = time.Millisecond
	cfg.BundlePollAttempts = 3
	return cfg
}

// fakeRouter quotes every swap at a 2x rate and builds a single-instruction swap.
type fakeRouter struct {
	mu         sync.Mutex
	quoteCalls map[solana.PublicKey]int
	params     []router.QuoteParams
	swapParams []router.SwapParams
	quoteErr   map[solana.PublicKey]error
	swapErr    error
	tables     []solana.PublicKey
	block      bool
	fetchedAt  time.Time
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		quoteCalls: map[solana.PublicKey]int{},
		quoteErr:   map[solana.PublicKey]error{},
	}
}

func (r *fakeRouter) Quote(ctx context.Context, p router.QuoteParams) (*router.Quote, error) {
	r.mu.Lock()
	r.quoteCalls[p.OutputMint]++
	r.quoteCalls[p.InputMint]++
	r.params = append(r.params, p)
	err := r.quoteErr[p.OutputMint]
	if err == nil {
		err = r.quoteErr[p.InputMint]
	}
	block := r.block
	fetchedAt := r.fetchedAt
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	return &router.Quote{
		InputMint:   p.InputMint,
		OutputMint:  p.OutputMint,
		InAmount:    p.Amount,
		OutAmount:   p.Amount * 2,
		SlippageBps: p.SlippageBps,
		RoutePlan:   []router.RouteStep{{Label: "fake", Percent: 100}},
		FetchedAt:   fetchedAt,
	}, nil
}

func (r *fakeRouter) calls(mint solana.PublicKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quoteCalls[mint]
}

func (r *fakeRouter) SwapInstructions(ctx context.Context, q *router.Quote, p router.SwapParams) (*router.SwapInstructions, error) {
	r.mu.Lock()
	r.swapParams = append(r.swapParams, p)
	r.mu.Unlock()

	if r.swapErr != nil {
		return nil, r.swapErr
	}
	ix := solana.NewInstruction(swapProgram, solana.AccountMetaSlice{
		solana.Meta(p.UserPublicKey).WRITE().SIGNER(),
		solana.Meta(q.InputMint).WRITE(),
		solana.Meta(q.OutputMint).WRITE(),
	}, []byte{0xe5, 0x17})
	return &router.SwapInstructions{Swap: ix, AddressLookupTables: r.tables}, nil
}

// fakeLedger hands out a new blockhash per call and reports every sent
// signature as finalized unless told otherwise.
type fakeLedger struct {
	mu          sync.Mutex
	blockhashes []solana.Hash
	tables      map[solana.PublicKey]solana.PublicKeySlice
	sent        []*solana.Transaction
	sentSigs    map[solana.Signature]bool
	sendFn      func(tx *solana.Transaction) error
	statusFn    func(sig solana.Signature) *rpc.SignatureStatusesResult
	statusPolls int
	balances    map[solana.PublicKey]uint64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		sentSigs: map[solana.Signature]bool{},
		balances: map[solana.PublicKey]uint64{},
	}
}

func (l *fakeLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := solana.Hash{0xb1, byte(len(l.blockhashes) + 1)}
	l.blockhashes = append(l.blockhashes, h)
	return h, nil
}

func (l *fakeLedger) LookupTables(ctx context.Context, addrs []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	out := map[solana.PublicKey]solana.PublicKeySlice{}
	for _, a := range addrs {
		if t, ok := l.tables[a]; ok {
			out[a] = t
		}
	}
	return out, nil
}

func (l *fakeLedger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if l.sendFn != nil {
		if err := l.sendFn(tx); err != nil {
			return solana.Signature{}, err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, tx)
	l.sentSigs[tx.Signatures[0]] = true
	return tx.Signatures[0], nil
}

func (l *fakeLedger) SignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusPolls++
	out := make([]*rpc.SignatureStatusesResult, len(sigs))
	for i, sig := range sigs {
		if l.statusFn != nil {
			out[i] = l.statusFn(sig)
			continue
		}
		if l.sentSigs[sig] {
			out[i] = &rpc.SignatureStatusesResult{Slot: 100, ConfirmationStatus: rpc.ConfirmationStatusFinalized}
		}
	}
	return out, nil
}

func (l *fakeLedger) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	return l.balances[mint], nil
}

func (l *fakeLedger) polls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusPolls
}

// fakeRelay accepts every bundle and reports it landed.
type fakeRelay struct {
	mu          sync.Mutex
	bundles     [][]*solana.Transaction
	sendErr     error
	status      *relay.BundleStatus
	statusCalls int
}

func (r *fakeRelay) SendBundle(ctx context.Context, txs []string) (relay.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	decoded := make([]*solana.Transaction, len(txs))
	for i, s := range txs {
		tx, err := solana.TransactionFromBase64(s)
		if err != nil {
			return relay.Submission{}, err
		}
		decoded[i] = tx
	}
	r.bundles = append(r.bundles, decoded)
	if r.sendErr != nil {
		return relay.Submission{}, r.sendErr
	}
	return relay.Submission{BundleID: "bundle-1", Endpoint: "https://relay.test"}, nil
}

func (r *fakeRelay) BundleStatus(ctx context.Context, endpoint, bundleID string) (*relay.BundleStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusCalls++
	if r.status != nil {
		return r.status, nil
	}
	return &relay.BundleStatus{BundleID: bundleID, Slot: 777, ConfirmationStatus: "finalized"}, nil
}

// countingSigner signs with a local key and can fail a given call.
type countingSigner struct {
	mu     sync.Mutex
	inner  Signer
	calls  int
	failOn map[int]error
}

func (s *countingSigner) SignAll(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	s.mu.Lock()
	s.calls++
	err := s.failOn[s.calls]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.SignAll(ctx, txs)
}

type harness struct {
	engine *Engine
	router *fakeRouter
	ledger *fakeLedger
	relay  *fakeRelay
	signer *countingSigner
	owner  solana.PublicKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	wallet := solana.NewWallet()
	h := &harness{
		router: newFakeRouter(),
		ledger: newFakeLedger(),
		relay:  &fakeRelay{},
		signer: &countingSigner{
			inner:  solsvc.NewKeypairSigner(wallet.PrivateKey, testLogger()),
			failOn: map[int]error{},
		},
		owner: wallet.PublicKey(),
	}
	h.engine = NewEngine(testConfig(), h.router, h.ledger, h.relay, nil, testLogger())
	return h
}

func (h *harness) buy(allocs []Allocation, amount float64) *ExecutionResult {
	return h.engine.ExecuteBasketBuy(context.Background(), BuyRequest{
		OrderID:     "order-1",
		Owner:       h.owner,
		Signer:      h.signer,
		Allocations: allocs,
		Amount:      amount,
	})
}

// feeTransfers decodes every token TransferChecked instruction in txs.
func feeTransfers(t *testing.T, txs []*solana.Transaction) (amounts []uint64, decimals []uint8) {
	t.Helper()
	for _, tx := range txs {
		for _, ix := range tx.Message.Instructions {
			if !tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(solsvc.TokenProgramID) {
				continue
			}
			if len(ix.Data) == 0 || ix.Data[0] != solsvc.TokenProgramTransferCheckedInstruction {
				continue
			}
			amount, dec, err := solsvc.DecodeTransferChecked(ix.Data)
			if err != nil {
				t.Fatalf("failed to decode fee transfer: %v", err)
			}
			amounts = append(amounts, amount)
			decimals = append(decimals, dec)
		}
	}
	return amounts, decimals
}

func txTouches(tx *solana.Transaction, key solana.PublicKey) bool {
	for _, k := range tx.Message.AccountKeys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

func twoTokenBasket() []Allocation {
	return []Allocation{
		{Symbol: "JUP", Mint: jupMint, Weight: 60, Decimals: 6},
		{Symbol: "BONK", Mint: bonkMint, Weight: 40, Decimals: 5},
	}
}
