package config

import (
	"fmt"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/relay"
	solsvc "github.com/brojonat/basketswap/service/solana"
	"github.com/gagliardetto/solana-go"
)

// EngineConfig converts the environment settings into the basket engine's
// configuration. Mint and wallet addresses are parsed here so a bad value
// fails at startup rather than on the first order.
func (c *Config) EngineConfig() (basket.Config, error) {
	inputMint, err := solana.PublicKeyFromBase58(c.InputMint)
	if err != nil {
		return basket.Config{}, fmt.Errorf("invalid INPUT_MINT %q: %w", c.InputMint, err)
	}
	feeWallet, err := solana.PublicKeyFromBase58(c.FeeWallet)
	if err != nil {
		return basket.Config{}, fmt.Errorf("invalid FEE_WALLET %q: %w", c.FeeWallet, err)
	}

	ec := c.engineTimings()
	ec.Input = basket.InputAsset{
		Symbol:   c.InputSymbol,
		Mint:     inputMint,
		Decimals: c.InputDecimals,
	}
	ec.PlatformFeeBps = c.PlatformFeeBps
	ec.FeeWallet = feeWallet
	ec.SlippageBps = c.SlippageBps
	ec.TipLamports = c.TipLamports
	ec.TipAccounts = relay.DefaultTipAccounts
	return ec, nil
}

func (c *Config) engineTimings() basket.Config {
	return basket.Config{
		QuoteTimeout:          c.QuoteTimeout,
		QuoteMaxAge:           c.QuoteMaxAge,
		ConfirmPollInterval:   c.ConfirmPollInterval,
		ConfirmTimeout:        c.ConfirmTimeout,
		ExpiryRecoveryTimeout: c.ExpiryRecoveryTimeout,
		BundlePollInterval:    c.BundlePollInterval,
		BundlePollAttempts:    c.BundlePollAttempts,
	}
}

// ExecutionBudget is how long an order workflow lets one execution of a
// basket with allocations run, assuming the slowest (remote) signer.
func (c *Config) ExecutionBudget(allocations int) time.Duration {
	// One fee leg plus one swap per allocation.
	return c.engineTimings().ExecutionBudget(allocations+1, solsvc.RemoteSignerTimeout)
}
