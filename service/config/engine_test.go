package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngine_NoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("FEE_WALLET", testFeeWallet)

	cfg, err := LoadEngine()
	require.NoError(t, err)
	assert.Empty(t, cfg.DatabaseURL)

	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoadEngine_StillRequiresLedger(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "")
	t.Setenv("FEE_WALLET", testFeeWallet)

	_, err := LoadEngine()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
}

func TestEngineConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TIP_LAMPORTS", "5000")
	t.Setenv("QUOTE_MAX_AGE", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "USDC", ec.Input.Symbol)
	assert.Equal(t, USDCMintAddress, ec.Input.Mint.String())
	assert.Equal(t, uint8(6), ec.Input.Decimals)
	assert.Equal(t, testFeeWallet, ec.FeeWallet.String())
	assert.Equal(t, uint64(5000), ec.TipLamports)
	assert.Equal(t, 15*time.Second, ec.QuoteMaxAge)
	assert.Equal(t, 30, ec.BundlePollAttempts)
	assert.NotEmpty(t, ec.TipAccounts)
}

func TestEngineConfig_BadAddresses(t *testing.T) {
	cfg := &Config{InputMint: "not-a-mint", FeeWallet: testFeeWallet}
	_, err := cfg.EngineConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INPUT_MINT")

	cfg = &Config{InputMint: USDCMintAddress, FeeWallet: "0OIl"}
	_, err = cfg.EngineConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEE_WALLET")
}

func TestLoadEngine_RejectsNonPositiveTimings(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr string
	}{
		{"BUNDLE_POLL_INTERVAL", "0s", "BundlePollInterval"},
		{"BUNDLE_POLL_INTERVAL", "-2s", "BundlePollInterval"},
		{"QUOTE_TIMEOUT", "0s", "QuoteTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadEngine()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExecutionBudget(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	ec, err := cfg.EngineConfig()
	require.NoError(t, err)

	// A four-token basket has five legs and must outlast five sequential
	// confirmations plus two remote signing rounds.
	budget := cfg.ExecutionBudget(4)
	assert.Equal(t, ec.ExecutionBudget(5, 2*time.Minute), budget)
	assert.Greater(t, budget, 5*cfg.ConfirmTimeout+4*time.Minute)
}
