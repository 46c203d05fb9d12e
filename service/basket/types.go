package basket

import (
	"time"

	"github.com/brojonat/basketswap/service/router"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Allocation is one weighted token of a basket. Weights are basket-relative
// percentages and are expected, not required, to sum to 100.
type Allocation struct {
	Symbol   string           `json:"symbol"`
	Mint     solana.PublicKey `json:"mint"`
	Weight   float64          `json:"weight"`
	Decimals uint8            `json:"decimals"`
}

// InputAsset is the deposit asset a basket is bought with and sold into.
type InputAsset struct {
	Symbol   string           `json:"symbol"`
	Mint     solana.PublicKey `json:"mint"`
	Decimals uint8            `json:"decimals"`
}

// Side is the direction of a basket order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Outcome is what the caller renders: success, a quiet cancellation, or a
// failure with a retry prompt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Path is a delivery path.
type Path string

const (
	PathDirect Path = "direct"
	PathBundle Path = "bundle"
)

// State is a step of the execution state machine.
type State string

const (
	StateQuoting    State = "quoting"
	StateAssembling State = "assembling"
	StateSigning    State = "signing"
	StateSubmitting State = "submitting"
	StateConfirming State = "confirming"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// PreviewRequest asks for a priced basket without executing it.
type PreviewRequest struct {
	Allocations []Allocation
	// Amount is the gross deposit in user units (e.g. 100 USDC).
	Amount float64
	// Weights optionally overrides allocation weights by symbol.
	Weights map[string]float64
	// SlippageBps overrides the engine default when positive.
	SlippageBps int
}

// PreviewAllocation is the priced view of one allocation.
type PreviewAllocation struct {
	Symbol          string           `json:"symbol"`
	Mint            solana.PublicKey `json:"mint"`
	Weight          float64          `json:"weight"`
	InputAmount     uint64           `json:"input_amount,string"`
	EstimatedOutput uint64           `json:"estimated_output,string"`
	PriceImpactPct  float64          `json:"price_impact_pct"`
	// Passthrough slices are not swapped: zero weight, zero amount, or the
	// input asset itself kept as is.
	Passthrough bool `json:"passthrough"`
}

// SwapPreview is constructed fresh for each preview request.
type SwapPreview struct {
	InputSymbol    string              `json:"input_symbol"`
	InputMint      solana.PublicKey    `json:"input_mint"`
	GrossAmount    decimal.Decimal     `json:"gross_amount"`
	TotalFeeAmount decimal.Decimal     `json:"total_fee_amount"`
	NetInputAmount decimal.Decimal     `json:"net_input_amount"`
	GrossRaw       uint64              `json:"gross_raw,string"`
	FeeRaw         uint64              `json:"fee_raw,string"`
	NetRaw         uint64              `json:"net_raw,string"`
	Allocations    []PreviewAllocation `json:"allocations"`
	Quotes         []*router.Quote     `json:"quotes"`
}

// BuyRequest executes a basket purchase.
type BuyRequest struct {
	OrderID     string
	Owner       solana.PublicKey
	Signer      Signer
	Allocations []Allocation
	Amount      float64
	Weights     map[string]float64
	SlippageBps int
	// Progress, when set, receives a snapshot of the result at every state
	// change and every confirmed leg, on the executing goroutine.
	Progress func(*ExecutionResult)
}

// SellRequest sells a percentage of each basket holding back into the input asset.
type SellRequest struct {
	OrderID     string
	Owner       solana.PublicKey
	Signer      Signer
	Allocations []Allocation
	// Percent of each holding to sell, in (0, 100].
	Percent     float64
	SlippageBps int
	Progress    func(*ExecutionResult)
}

// LegResult reports one fee or swap leg of an execution.
type LegResult struct {
	Kind            string `json:"kind"`
	Symbol          string `json:"symbol,omitempty"`
	Mint            string `json:"mint,omitempty"`
	InputAmount     uint64 `json:"input_amount,string"`
	EstimatedOutput uint64 `json:"estimated_output,string"`
	Signature       string `json:"signature,omitempty"`
	Landed          bool   `json:"landed"`
	Path            Path   `json:"path,omitempty"`
}

// Transition is one recorded state change.
type Transition struct {
	State  State     `json:"state"`
	Path   Path      `json:"path,omitempty"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// ExecutionResult is the terminal value of an execution. It is always
// returned, never an error, so the caller can render the outcome.
type ExecutionResult struct {
	OrderID    string       `json:"order_id"`
	Side       Side         `json:"side"`
	Success    bool         `json:"success"`
	Outcome    Outcome      `json:"outcome"`
	Path       Path         `json:"path,omitempty"`
	BundleID   string       `json:"bundle_id,omitempty"`
	Slot       uint64       `json:"slot,omitempty"`
	Signatures []string     `json:"signatures"`
	Error      string       `json:"error,omitempty"`
	ErrorClass ErrorClass   `json:"error_class,omitempty"`
	GrossRaw   uint64       `json:"gross_raw,string"`
	FeeRaw     uint64       `json:"fee_raw,string"`
	NetRaw     uint64       `json:"net_raw,string"`
	Legs       []LegResult  `json:"legs"`
	Trace      []Transition `json:"trace"`

	err error
}

// Err returns the underlying failure, if any. It does not survive serialization.
func (r *ExecutionResult) Err() error {
	return r.err
}

// AnyLanded reports whether any leg reached the ledger.
func (r *ExecutionResult) AnyLanded() bool {
	for _, l := range r.Legs {
		if l.Landed {
			return true
		}
	}
	return false
}
