package basket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/basketswap/service/metrics"
	"github.com/brojonat/basketswap/service/relay"
	"github.com/brojonat/basketswap/service/router"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Router prices swaps and builds their instructions.
type Router interface {
	Quote(ctx context.Context, params router.QuoteParams) (*router.Quote, error)
	SwapInstructions(ctx context.Context, quote *router.Quote, params router.SwapParams) (*router.SwapInstructions, error)
}

// Ledger is the subset of ledger RPC the engine uses.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	LookupTables(ctx context.Context, addresses []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatuses(ctx context.Context, signatures []solana.Signature) ([]*rpc.SignatureStatusesResult, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
}

// Relay submits atomic bundles.
type Relay interface {
	SendBundle(ctx context.Context, txs []string) (relay.Submission, error)
	BundleStatus(ctx context.Context, endpoint, bundleID string) (*relay.BundleStatus, error)
}

// Signer signs a batch of transactions in one request. It either signs all of
// them or returns an error; a declined request is classified as UserRejection.
type Signer interface {
	SignAll(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error)
}

// Config holds the engine's economics and timing.
type Config struct {
	Input          InputAsset
	PlatformFeeBps int
	FeeWallet      solana.PublicKey
	SlippageBps    int

	TipLamports uint64
	TipAccounts []solana.PublicKey

	QuoteTimeout time.Duration
	QuoteMaxAge  time.Duration

	ConfirmPollInterval   time.Duration
	ConfirmTimeout        time.Duration
	ExpiryRecoveryTimeout time.Duration
	BundlePollInterval    time.Duration
	BundlePollAttempts    int
}

// DefaultConfig returns mainnet timings with USDC as the input asset.
func DefaultConfig() Config {
	return Config{
		Input: InputAsset{
			Symbol:   "USDC",
			Mint:     solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
			Decimals: 6,
		},
		PlatformFeeBps:        10,
		SlippageBps:           100,
		TipLamports:           100_000,
		TipAccounts:           relay.DefaultTipAccounts,
		QuoteTimeout:          10 * time.Second,
		QuoteMaxAge:           30 * time.Second,
		ConfirmPollInterval:   1200 * time.Millisecond,
		ConfirmTimeout:        45 * time.Second,
		ExpiryRecoveryTimeout: 10 * time.Second,
		BundlePollInterval:    2 * time.Second,
		BundlePollAttempts:    30,
	}
}

// budgetSlack covers the ledger and relay calls that have no timeout of their
// own in Config: blockhash and lookup-table reads, sends, balance reads.
const budgetSlack = time.Minute

// ExecutionBudget is the longest one order with legs transactions can run:
// a quote round before each path and a stale-quote refresh, one signing round
// per path, sequential confirmation of every direct leg, expiry recovery and
// the full bundle poll.
func (c Config) ExecutionBudget(legs int, signing time.Duration) time.Duration {
	quoting := 3 * c.QuoteTimeout
	direct := signing + time.Duration(legs)*c.ConfirmTimeout + c.ExpiryRecoveryTimeout
	bundle := signing + time.Duration(c.BundlePollAttempts)*c.BundlePollInterval
	return quoting + direct + bundle + budgetSlack
}

// Engine turns basket orders into signed transactions and delivers them.
// It holds no per-order state; concurrent orders share nothing but the
// collaborators.
type Engine struct {
	cfg     Config
	router  Router
	ledger  Ledger
	relay   Relay
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an engine. If metrics is nil, no metrics will be recorded.
func NewEngine(cfg Config, r Router, l Ledger, rl Relay, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		router:  r,
		ledger:  l,
		relay:   rl,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) slippage(override int) int {
	if override > 0 {
		return override
	}
	return e.cfg.SlippageBps
}

// GetSwapPreview prices a basket deposit without side effects. Cancelling ctx
// abandons in-flight quote requests.
func (e *Engine) GetSwapPreview(ctx context.Context, req PreviewRequest) (preview *SwapPreview, err error) {
	defer func() { e.metrics.RecordPreview(err) }()

	if err := CheckAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	if len(req.Allocations) == 0 {
		return nil, fmt.Errorf("basket has no allocations")
	}

	plan, err := ResolveWeights(req.Allocations, req.Amount, req.Weights, e.cfg.PlatformFeeBps, e.cfg.Input)
	if err != nil {
		return nil, err
	}
	quotes, err := e.fetchQuotes(ctx, plan, e.slippage(req.SlippageBps))
	if err != nil {
		return nil, err
	}

	return e.buildPreview(req.Amount, plan, quotes), nil
}

func (e *Engine) buildPreview(gross float64, plan Plan, quotes []*router.Quote) *SwapPreview {
	in := e.cfg.Input
	preview := &SwapPreview{
		InputSymbol:    in.Symbol,
		InputMint:      in.Mint,
		GrossAmount:    fromRaw(plan.GrossRaw, in.Decimals),
		TotalFeeAmount: fromRaw(plan.FeeRaw, in.Decimals),
		NetInputAmount: fromRaw(plan.NetRaw, in.Decimals),
		GrossRaw:       plan.GrossRaw,
		FeeRaw:         plan.FeeRaw,
		NetRaw:         plan.NetRaw,
		Allocations:    make([]PreviewAllocation, len(plan.Slices)),
		Quotes:         make([]*router.Quote, 0, len(quotes)),
	}

	for i, s := range plan.Slices {
		pa := PreviewAllocation{
			Symbol:      s.Allocation.Symbol,
			Mint:        s.Allocation.Mint,
			Weight:      s.Weight,
			InputAmount: s.InputRaw,
			Passthrough: s.Passthrough,
		}
		if q := quotes[i]; q != nil {
			pa.EstimatedOutput = q.OutAmount
			pa.PriceImpactPct = q.PriceImpactPct
			preview.Quotes = append(preview.Quotes, q)
		} else {
			pa.EstimatedOutput = s.InputRaw
		}
		preview.Allocations[i] = pa
	}
	return preview
}

// ExecuteBasketBuy quotes, signs and delivers a basket purchase. It always
// returns a result; failures are reported in it.
func (e *Engine) ExecuteBasketBuy(ctx context.Context, req BuyRequest) *ExecutionResult {
	o := e.newOrder(ctx, req.OrderID, SideBuy, req.Owner, req.Signer, req.Progress)
	o.slippageBps = e.slippage(req.SlippageBps)

	if err := CheckAmount("amount", req.Amount); err != nil {
		return o.fail(err)
	}

	o.transition(StateQuoting, "", "")
	plan, err := ResolveWeights(req.Allocations, req.Amount, req.Weights, e.cfg.PlatformFeeBps, e.cfg.Input)
	if err != nil {
		return o.fail(err)
	}
	o.result.GrossRaw, o.result.FeeRaw, o.result.NetRaw = plan.GrossRaw, plan.FeeRaw, plan.NetRaw
	if plan.NetRaw == 0 {
		return o.fail(fmt.Errorf("amount %v is below the smallest unit of %s", req.Amount, e.cfg.Input.Symbol))
	}

	quotes, err := e.fetchQuotes(ctx, plan, o.slippageBps)
	if err != nil {
		return o.fail(err)
	}

	if plan.FeeRaw > 0 {
		o.legs = append(o.legs, &leg{kind: legFee, symbol: e.cfg.Input.Symbol, mint: e.cfg.Input.Mint, amount: plan.FeeRaw})
	}
	for i, s := range plan.Slices {
		if quotes[i] == nil {
			continue
		}
		o.legs = append(o.legs, &leg{
			kind:   legSwap,
			symbol: s.Allocation.Symbol,
			mint:   s.Allocation.Mint,
			amount: s.InputRaw,
			quote:  quotes[i],
			params: router.QuoteParams{
				InputMint:   e.cfg.Input.Mint,
				OutputMint:  s.Allocation.Mint,
				Amount:      s.InputRaw,
				SlippageBps: o.slippageBps,
			},
		})
	}

	return e.execute(ctx, o)
}

// ExecuteBasketSell sells Percent of each basket holding back into the input
// asset. The platform fee is taken by the router out of each swap's output.
func (e *Engine) ExecuteBasketSell(ctx context.Context, req SellRequest) *ExecutionResult {
	o := e.newOrder(ctx, req.OrderID, SideSell, req.Owner, req.Signer, req.Progress)
	o.slippageBps = e.slippage(req.SlippageBps)

	if err := CheckAmount("percent", req.Percent); err != nil {
		return o.fail(err)
	}
	if req.Percent > 100 {
		return o.fail(fmt.Errorf("%w: percent must be in (0, 100], got %v", ErrInvalidAmount, req.Percent))
	}

	o.transition(StateQuoting, "", "")
	feeAccount, _, err := solana.FindAssociatedTokenAddress(e.cfg.FeeWallet, e.cfg.Input.Mint)
	if err != nil {
		return o.fail(fmt.Errorf("failed to derive fee account: %w", err))
	}
	o.feeAccount = &feeAccount

	var plan Plan
	for _, a := range req.Allocations {
		s := Slice{Allocation: a, Weight: a.Weight, Passthrough: true}
		if a.Weight > 0 && !a.Mint.Equals(e.cfg.Input.Mint) {
			balance, err := e.ledger.TokenBalance(ctx, req.Owner, a.Mint)
			if err != nil {
				return o.fail(fmt.Errorf("failed to read %s balance: %w", a.Symbol, err))
			}
			s.InputRaw = percentOf(balance, req.Percent)
			s.Passthrough = s.InputRaw == 0
		}
		plan.Slices = append(plan.Slices, s)
	}
	if len(plan.Quoted()) == 0 {
		return o.fail(fmt.Errorf("no basket holdings to sell"))
	}

	quotes, err := e.fetchSellQuotes(ctx, plan, o.slippageBps)
	if err != nil {
		return o.fail(err)
	}

	for i, s := range plan.Slices {
		if quotes[i] == nil {
			continue
		}
		o.result.GrossRaw += quotes[i].OutAmount
		o.legs = append(o.legs, &leg{
			kind:   legSwap,
			symbol: s.Allocation.Symbol,
			mint:   s.Allocation.Mint,
			amount: s.InputRaw,
			quote:  quotes[i],
			params: e.sellQuoteParams(s, o.slippageBps),
		})
	}

	return e.execute(ctx, o)
}

func (e *Engine) sellQuoteParams(s Slice, slippageBps int) router.QuoteParams {
	return router.QuoteParams{
		InputMint:      s.Allocation.Mint,
		OutputMint:     e.cfg.Input.Mint,
		Amount:         s.InputRaw,
		SlippageBps:    slippageBps,
		PlatformFeeBps: e.cfg.PlatformFeeBps,
	}
}
