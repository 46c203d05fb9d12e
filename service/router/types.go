package router

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ErrMalformedResponse marks a router payload that failed boundary validation.
var ErrMalformedResponse = errors.New("malformed router response")

// QuoteParams describes one exact-in swap to price.
type QuoteParams struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	SlippageBps int

	// PlatformFeeBps asks the router to reserve a fee out of the output.
	// Zero disables it.
	PlatformFeeBps int
}

// RouteStep is one hop of a route plan.
type RouteStep struct {
	AmmKey     string `json:"amm_key"`
	Label      string `json:"label"`
	InputMint  string `json:"input_mint"`
	OutputMint string `json:"output_mint"`
	Percent    int    `json:"percent"`
}

// Quote is a validated router quote. It is immutable once returned; the raw
// payload is kept so it can be sent back verbatim to build instructions.
type Quote struct {
	InputMint            solana.PublicKey `json:"input_mint"`
	OutputMint           solana.PublicKey `json:"output_mint"`
	InAmount             uint64           `json:"in_amount,string"`
	OutAmount            uint64           `json:"out_amount,string"`
	OtherAmountThreshold uint64           `json:"other_amount_threshold,string"`
	PriceImpactPct       float64          `json:"price_impact_pct"`
	SlippageBps          int              `json:"slippage_bps"`
	RoutePlan            []RouteStep      `json:"route_plan"`
	FetchedAt            time.Time        `json:"fetched_at"`

	raw json.RawMessage
}

// Raw returns the router's original quote payload.
func (q *Quote) Raw() json.RawMessage {
	return q.raw
}

// Age reports how long ago the quote was fetched.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.FetchedAt)
}

// SwapParams configures instruction building for a quote.
type SwapParams struct {
	UserPublicKey solana.PublicKey

	// FeeAccount receives the platform fee reserved by the quote. It must be a
	// token account for the quote's output mint.
	FeeAccount *solana.PublicKey
}

// SwapInstructions is the decoded instruction set for one quoted swap.
type SwapInstructions struct {
	ComputeBudget       []solana.Instruction
	Setup               []solana.Instruction
	Swap                solana.Instruction
	Cleanup             solana.Instruction
	Other               []solana.Instruction
	AddressLookupTables []solana.PublicKey
}

// Instructions returns every instruction in execution order.
func (s *SwapInstructions) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(s.ComputeBudget)+len(s.Setup)+len(s.Other)+2)
	out = append(out, s.ComputeBudget...)
	out = append(out, s.Setup...)
	out = append(out, s.Swap)
	if s.Cleanup != nil {
		out = append(out, s.Cleanup)
	}
	out = append(out, s.Other...)
	return out
}

// wireQuote is the router's quote JSON.
type wireQuote struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []wireRouteStep `json:"routePlan"`
}

type wireRouteStep struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

type wireAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type wireInstruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []wireAccount `json:"accounts"`
	Data      string        `json:"data"`
}

type wireSwapInstructions struct {
	ComputeBudgetInstructions   []wireInstruction `json:"computeBudgetInstructions"`
	SetupInstructions           []wireInstruction `json:"setupInstructions"`
	SwapInstruction             *wireInstruction  `json:"swapInstruction"`
	CleanupInstruction          *wireInstruction  `json:"cleanupInstruction"`
	OtherInstructions           []wireInstruction `json:"otherInstructions"`
	AddressLookupTableAddresses []string          `json:"addressLookupTableAddresses"`
	Error                       string            `json:"error"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// parseQuote validates a raw quote payload against the request that produced it.
func parseQuote(raw []byte, params QuoteParams, fetchedAt time.Time) (*Quote, error) {
	var w wireQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, malformed("decode quote: %v", err)
	}

	inputMint, err := solana.PublicKeyFromBase58(w.InputMint)
	if err != nil {
		return nil, malformed("inputMint %q: %v", w.InputMint, err)
	}
	outputMint, err := solana.PublicKeyFromBase58(w.OutputMint)
	if err != nil {
		return nil, malformed("outputMint %q: %v", w.OutputMint, err)
	}
	if !inputMint.Equals(params.InputMint) || !outputMint.Equals(params.OutputMint) {
		return nil, malformed("quote is for %s -> %s, requested %s -> %s",
			inputMint, outputMint, params.InputMint, params.OutputMint)
	}

	inAmount, err := strconv.ParseUint(w.InAmount, 10, 64)
	if err != nil {
		return nil, malformed("inAmount %q: %v", w.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(w.OutAmount, 10, 64)
	if err != nil {
		return nil, malformed("outAmount %q: %v", w.OutAmount, err)
	}
	var threshold uint64
	if w.OtherAmountThreshold != "" {
		if threshold, err = strconv.ParseUint(w.OtherAmountThreshold, 10, 64); err != nil {
			return nil, malformed("otherAmountThreshold %q: %v", w.OtherAmountThreshold, err)
		}
	}
	var impact float64
	if w.PriceImpactPct != "" {
		if impact, err = strconv.ParseFloat(w.PriceImpactPct, 64); err != nil {
			return nil, malformed("priceImpactPct %q: %v", w.PriceImpactPct, err)
		}
	}
	if len(w.RoutePlan) == 0 {
		return nil, malformed("empty routePlan")
	}

	steps := make([]RouteStep, len(w.RoutePlan))
	for i, s := range w.RoutePlan {
		steps[i] = RouteStep{
			AmmKey:     s.SwapInfo.AmmKey,
			Label:      s.SwapInfo.Label,
			InputMint:  s.SwapInfo.InputMint,
			OutputMint: s.SwapInfo.OutputMint,
			Percent:    s.Percent,
		}
	}

	return &Quote{
		InputMint:            inputMint,
		OutputMint:           outputMint,
		InAmount:             inAmount,
		OutAmount:            outAmount,
		OtherAmountThreshold: threshold,
		PriceImpactPct:       impact,
		SlippageBps:          w.SlippageBps,
		RoutePlan:            steps,
		FetchedAt:            fetchedAt,
		raw:                  append(json.RawMessage(nil), raw...),
	}, nil
}

func decodeInstruction(w *wireInstruction) (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(w.ProgramID)
	if err != nil {
		return nil, malformed("programId %q: %v", w.ProgramID, err)
	}

	accounts := make(solana.AccountMetaSlice, len(w.Accounts))
	for i, a := range w.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, malformed("account %d of %s: %v", i, w.ProgramID, err)
		}
		accounts[i] = solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner)
	}

	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, malformed("instruction data for %s: %v", w.ProgramID, err)
	}

	return solana.NewInstruction(programID, accounts, data), nil
}

func decodeInstructions(ws []wireInstruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(ws))
	for i := range ws {
		ix, err := decodeInstruction(&ws[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ix)
	}
	return out, nil
}

func parseSwapInstructions(raw []byte) (*SwapInstructions, error) {
	var w wireSwapInstructions
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, malformed("decode swap instructions: %v", err)
	}
	if w.Error != "" {
		return nil, fmt.Errorf("router rejected swap: %s", w.Error)
	}
	if w.SwapInstruction == nil {
		return nil, malformed("missing swapInstruction")
	}

	var (
		out SwapInstructions
		err error
	)
	if out.ComputeBudget, err = decodeInstructions(w.ComputeBudgetInstructions); err != nil {
		return nil, err
	}
	if out.Setup, err = decodeInstructions(w.SetupInstructions); err != nil {
		return nil, err
	}
	if out.Swap, err = decodeInstruction(w.SwapInstruction); err != nil {
		return nil, err
	}
	if w.CleanupInstruction != nil {
		if out.Cleanup, err = decodeInstruction(w.CleanupInstruction); err != nil {
			return nil, err
		}
	}
	if out.Other, err = decodeInstructions(w.OtherInstructions); err != nil {
		return nil, err
	}

	for _, addr := range w.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, malformed("lookup table %q: %v", addr, err)
		}
		out.AddressLookupTables = append(out.AddressLookupTables, pk)
	}

	return &out, nil
}
