package basket

import (
	"fmt"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usdc = InputAsset{Symbol: "USDC", Mint: usdcMint, Decimals: 6}

func TestResolveWeights_SixtyForty(t *testing.T) {
	plan, err := ResolveWeights(twoTokenBasket(), 100, nil, 10, usdc)
	require.NoError(t, err)

	assert.Equal(t, uint64(100_000_000), plan.GrossRaw)
	assert.Equal(t, uint64(100_000), plan.FeeRaw)
	assert.Equal(t, uint64(99_900_000), plan.NetRaw)
	require.Len(t, plan.Slices, 2)
	assert.Equal(t, uint64(59_940_000), plan.Slices[0].InputRaw)
	assert.Equal(t, uint64(39_960_000), plan.Slices[1].InputRaw)
	assert.Equal(t, []int{0, 1}, plan.Quoted())
}

func TestResolveWeights_SlicesNeverExceedNet(t *testing.T) {
	baskets := map[string][]float64{
		"even":     {50, 50},
		"thirds":   {33.34, 33.33, 33.33},
		"uneven":   {12.5, 7.25, 40.25, 40},
		"sevenths": {14.2857, 14.2857, 14.2857, 14.2857, 14.2857, 14.2857, 14.2858},
	}
	amounts := []float64{0.000001, 0.01, 1, 3.333333, 17.77, 100, 12345.678901}

	for name, weights := range baskets {
		allocs := make([]Allocation, len(weights))
		for i, w := range weights {
			allocs[i] = Allocation{Symbol: fmt.Sprintf("T%d", i), Mint: solana.NewWallet().PublicKey(), Weight: w}
		}
		for _, amount := range amounts {
			t.Run(fmt.Sprintf("%s/%v", name, amount), func(t *testing.T) {
				plan, err := ResolveWeights(allocs, amount, nil, 10, usdc)
				require.NoError(t, err)

				assert.Equal(t, plan.GrossRaw, plan.FeeRaw+plan.NetRaw)

				var sum uint64
				for _, s := range plan.Slices {
					sum += s.InputRaw
				}
				assert.LessOrEqual(t, sum, plan.NetRaw)
				// Each slice loses strictly less than one raw unit to flooring.
				assert.Less(t, plan.NetRaw-sum, uint64(len(allocs)))
			})
		}
	}
}

func TestResolveWeights_Passthrough(t *testing.T) {
	allocs := []Allocation{
		{Symbol: "JUP", Mint: jupMint, Weight: 50},
		{Symbol: "USDC", Mint: usdcMint, Weight: 50},
		{Symbol: "BONK", Mint: bonkMint, Weight: 0},
	}

	plan, err := ResolveWeights(allocs, 10, nil, 0, usdc)
	require.NoError(t, err)

	assert.False(t, plan.Slices[0].Passthrough)
	assert.True(t, plan.Slices[1].Passthrough, "self swap must pass through")
	assert.Equal(t, uint64(5_000_000), plan.Slices[1].InputRaw)
	assert.True(t, plan.Slices[2].Passthrough, "zero weight must pass through")
	assert.Zero(t, plan.Slices[2].InputRaw)
	assert.Equal(t, []int{0}, plan.Quoted())
}

func TestResolveWeights_Overrides(t *testing.T) {
	plan, err := ResolveWeights(twoTokenBasket(), 10, map[string]float64{"JUP": 20, "BONK": 80}, 0, usdc)
	require.NoError(t, err)

	assert.Equal(t, 20.0, plan.Slices[0].Weight)
	assert.Equal(t, uint64(2_000_000), plan.Slices[0].InputRaw)
	assert.Equal(t, uint64(8_000_000), plan.Slices[1].InputRaw)
}

func TestResolveWeights_WeightsUsedAsGiven(t *testing.T) {
	allocs := []Allocation{
		{Symbol: "JUP", Mint: jupMint, Weight: 30},
		{Symbol: "BONK", Mint: bonkMint, Weight: 30},
	}

	plan, err := ResolveWeights(allocs, 10, nil, 0, usdc)
	require.NoError(t, err)

	assert.Equal(t, uint64(3_000_000), plan.Slices[0].InputRaw)
	assert.Equal(t, uint64(3_000_000), plan.Slices[1].InputRaw)
}

func TestResolveWeights_NonPositiveAmount(t *testing.T) {
	for _, amount := range []float64{0, -5} {
		plan, err := ResolveWeights(twoTokenBasket(), amount, nil, 10, usdc)
		require.NoError(t, err)

		assert.Zero(t, plan.GrossRaw)
		assert.Zero(t, plan.NetRaw)
		assert.Empty(t, plan.Quoted())
		for _, s := range plan.Slices {
			assert.True(t, s.Passthrough)
		}
	}
}

func TestResolveWeights_RejectsUnpriceableInput(t *testing.T) {
	tests := []struct {
		name      string
		amount    float64
		overrides map[string]float64
	}{
		{"NaN amount", math.NaN(), nil},
		{"positive infinite amount", math.Inf(1), nil},
		{"negative infinite amount", math.Inf(-1), nil},
		{"amount past the raw range", 1e30, nil},
		{"amount just past the raw range", 2e13, nil},
		{"infinite weight", 100, map[string]float64{"BONK": math.Inf(1)}},
		{"NaN weight", 100, map[string]float64{"JUP": math.NaN()}},
		{"negative weight", 100, map[string]float64{"JUP": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var plan Plan
			var err error
			require.NotPanics(t, func() {
				plan, err = ResolveWeights(twoTokenBasket(), tt.amount, tt.overrides, 10, usdc)
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.Zero(t, plan.GrossRaw)
			assert.Empty(t, plan.Slices)
		})
	}
}

func TestResolveWeights_LargestAmountStaysConsistent(t *testing.T) {
	// 1e13 USDC is 1e19 raw units, still inside uint64.
	plan, err := ResolveWeights(twoTokenBasket(), 1e13, nil, 10, usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000_000_000_000), plan.GrossRaw)
	assert.Equal(t, plan.GrossRaw, plan.FeeRaw+plan.NetRaw)
}

func TestCheckAmount(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -1} {
		assert.ErrorIs(t, CheckAmount("amount", v), ErrInvalidAmount, "%v", v)
	}
	assert.NoError(t, CheckAmount("amount", 0.5))
}

func TestResolveWeights_DustIsPassthrough(t *testing.T) {
	plan, err := ResolveWeights(twoTokenBasket(), 0.000001, nil, 0, usdc)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), plan.NetRaw)
	assert.Empty(t, plan.Quoted())
}

func TestPercentOf(t *testing.T) {
	tests := []struct {
		raw  uint64
		pct  float64
		want uint64
	}{
		{1_000_000, 100, 1_000_000},
		{1_000_000, 50, 500_000},
		{3, 50, 1},
		{1, 33, 0},
		{999_999_999, 12.5, 124_999_999},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percentOf(tt.raw, tt.pct), "%d * %v%%", tt.raw, tt.pct)
	}
}
