package basket

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidAmount is wrapped by every rejection of an amount, percentage or
// weight the engine cannot price.
var ErrInvalidAmount = errors.New("invalid amount")

// CheckAmount rejects NaN, infinities and values that are not positive.
func CheckAmount(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number, got %v", ErrInvalidAmount, name, v)
	}
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidAmount, name, v)
	}
	return nil
}

// CheckWeight rejects NaN, infinities and negative weights. Zero is allowed.
func CheckWeight(symbol string, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: weight for %s must be a finite number, got %v", ErrInvalidAmount, symbol, w)
	}
	if w < 0 {
		return fmt.Errorf("%w: weight for %s cannot be negative", ErrInvalidAmount, symbol)
	}
	return nil
}

// Slice is one allocation's share of the net deposit, in raw input units.
type Slice struct {
	Allocation  Allocation
	Weight      float64
	InputRaw    uint64
	Passthrough bool
}

// Plan is the fee split and per-allocation amounts for one deposit.
type Plan struct {
	GrossRaw uint64
	FeeRaw   uint64
	NetRaw   uint64
	Slices   []Slice
}

// Quoted returns the indexes of slices that need a swap.
func (p Plan) Quoted() []int {
	var idx []int
	for i, s := range p.Slices {
		if !s.Passthrough {
			idx = append(idx, i)
		}
	}
	return idx
}

// ResolveWeights splits a gross deposit into a platform fee and per-allocation
// raw amounts. All math after the initial conversion is done on integer raw
// units, and each slice is floored, so the slices never sum to more than the
// net amount. Weights that do not sum to 100 are used as given. Amounts or
// weights that are not finite, and deposits too large for raw units, are
// rejected with ErrInvalidAmount.
func ResolveWeights(allocs []Allocation, gross float64, overrides map[string]float64, feeBps int, input InputAsset) (Plan, error) {
	var plan Plan
	if math.IsNaN(gross) || math.IsInf(gross, 0) {
		return plan, fmt.Errorf("%w: amount must be a finite number, got %v", ErrInvalidAmount, gross)
	}
	for _, a := range allocs {
		if err := CheckWeight(a.Symbol, weightFor(a, overrides)); err != nil {
			return plan, err
		}
	}

	if gross <= 0 {
		plan.Slices = make([]Slice, 0, len(allocs))
		for _, a := range allocs {
			plan.Slices = append(plan.Slices, Slice{Allocation: a, Weight: weightFor(a, overrides), Passthrough: true})
		}
		return plan, nil
	}

	grossRaw := decimal.NewFromFloat(gross).Shift(int32(input.Decimals)).Floor()
	feeRaw := grossRaw.Mul(decimal.NewFromInt(int64(feeBps))).Div(decimal.NewFromInt(10_000)).Floor()
	netRaw := grossRaw.Sub(feeRaw)

	var err error
	if plan.GrossRaw, err = toRaw(grossRaw); err != nil {
		return Plan{}, fmt.Errorf("amount %v: %w", gross, err)
	}
	if plan.FeeRaw, err = toRaw(feeRaw); err != nil {
		return Plan{}, fmt.Errorf("fee for %v: %w", gross, err)
	}
	if plan.NetRaw, err = toRaw(netRaw); err != nil {
		return Plan{}, fmt.Errorf("net amount for %v: %w", gross, err)
	}
	plan.Slices = make([]Slice, 0, len(allocs))

	for _, a := range allocs {
		w := weightFor(a, overrides)
		s := Slice{Allocation: a, Weight: w}
		if w > 0 {
			if s.InputRaw, err = toRaw(netRaw.Mul(decimal.NewFromFloat(w)).Div(hundred).Floor()); err != nil {
				return Plan{}, fmt.Errorf("%s slice: %w", a.Symbol, err)
			}
		}
		s.Passthrough = w <= 0 || s.InputRaw == 0 || a.Mint.Equals(input.Mint)
		plan.Slices = append(plan.Slices, s)
	}
	return plan, nil
}

func weightFor(a Allocation, overrides map[string]float64) float64 {
	if w, ok := overrides[a.Symbol]; ok {
		return w
	}
	return a.Weight
}

// toRaw converts a non-negative integral decimal to raw units. Values past
// the uint64 range are an error, never wrapped.
func toRaw(d decimal.Decimal) (uint64, error) {
	if d.Sign() <= 0 {
		return 0, nil
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: %s raw units exceed the token amount range", ErrInvalidAmount, b.String())
	}
	return b.Uint64(), nil
}

// fromRaw converts raw units to a user-denominated decimal.
func fromRaw(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals))
}

// percentOf returns floor(raw * pct / 100). pct is in (0, 100], so the
// result never exceeds raw.
func percentOf(raw uint64, pct float64) uint64 {
	v, _ := toRaw(decimal.NewFromUint64(raw).Mul(decimal.NewFromFloat(pct)).Div(hundred).Floor())
	return v
}
