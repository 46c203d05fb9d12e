package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Well-known mainnet defaults.
const (
	DefaultRouterURL = "https://lite-api.jup.ag/swap/v1"

	// USDCMintAddress is the default deposit asset.
	USDCMintAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// DefaultBundleRelayURLs are the regional block-engine endpoints, tried in order.
var DefaultBundleRelayURLs = []string{
	"https://mainnet.block-engine.jito.wtf/api/v1/bundles",
	"https://amsterdam.mainnet.block-engine.jito.wtf/api/v1/bundles",
	"https://frankfurt.mainnet.block-engine.jito.wtf/api/v1/bundles",
	"https://ny.mainnet.block-engine.jito.wtf/api/v1/bundles",
	"https://tokyo.mainnet.block-engine.jito.wtf/api/v1/bundles",
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Ledger configuration
	SolanaRPCURL      string
	RPCProxyMaxBody   int64
	CatalogPath       string
	SignerKeypairPath string
	SignerURL         string

	// Quote router configuration
	RouterURL              string
	RouterAPIKey           string
	QuoteTimeout           time.Duration
	QuoteMaxAge            time.Duration
	RouterRateLimitBackoff []time.Duration

	// Bundle relay configuration
	BundleRelayURLs []string
	TipLamports     uint64

	// Basket economics
	InputSymbol    string
	InputMint      string
	InputDecimals  uint8
	PlatformFeeBps int
	FeeWallet      string
	SlippageBps    int

	// Confirmation tracking
	ConfirmPollInterval   time.Duration
	ConfirmTimeout        time.Duration
	ExpiryRecoveryTimeout time.Duration
	BundlePollInterval    time.Duration
	BundlePollAttempts    int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	WorkerConcurrency int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg, errs := fromEnv()
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEngine is like Load but only requires what a standalone engine needs:
// no database, Temporal or server settings are validated.
func LoadEngine() (*Config, error) {
	cfg, errs := fromEnv()
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.ValidateEngine(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, []error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Ledger configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	maxBody, err := parseInt("RPC_PROXY_MAX_BODY", 64*1024)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCProxyMaxBody = int64(maxBody)
	cfg.CatalogPath = os.Getenv("CATALOG_PATH")
	cfg.SignerKeypairPath = os.Getenv("SIGNER_KEYPAIR_PATH")
	cfg.SignerURL = os.Getenv("SIGNER_URL")

	// Quote router configuration
	cfg.RouterURL = strings.TrimRight(getEnvOrDefault("ROUTER_URL", DefaultRouterURL), "/")
	cfg.RouterAPIKey = os.Getenv("ROUTER_API_KEY")
	if cfg.QuoteTimeout, err = parseDuration("QUOTE_TIMEOUT", "10s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.QuoteMaxAge, err = parseDuration("QUOTE_MAX_AGE", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.RouterRateLimitBackoff, err = parseDurationList("ROUTER_RATE_LIMIT_BACKOFF", "900ms,1700ms"); err != nil {
		errs = append(errs, err)
	}

	// Bundle relay configuration
	cfg.BundleRelayURLs = DefaultBundleRelayURLs
	if raw := os.Getenv("BUNDLE_RELAY_URLS"); raw != "" {
		cfg.BundleRelayURLs = splitList(raw)
	}
	tip, err := parseInt("TIP_LAMPORTS", 100_000)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.TipLamports = uint64(tip)

	// Basket economics
	cfg.InputSymbol = getEnvOrDefault("INPUT_SYMBOL", "USDC")
	cfg.InputMint = getEnvOrDefault("INPUT_MINT", USDCMintAddress)
	decimals, err := parseInt("INPUT_DECIMALS", 6)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.InputDecimals = uint8(decimals)
	if cfg.PlatformFeeBps, err = parseInt("PLATFORM_FEE_BPS", 10); err != nil {
		errs = append(errs, err)
	}
	cfg.FeeWallet = os.Getenv("FEE_WALLET")
	if cfg.FeeWallet == "" {
		errs = append(errs, fmt.Errorf("FEE_WALLET is required"))
	}
	if cfg.SlippageBps, err = parseInt("SLIPPAGE_BPS", 100); err != nil {
		errs = append(errs, err)
	}

	// Confirmation tracking
	if cfg.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", "1200ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", "45s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ExpiryRecoveryTimeout, err = parseDuration("EXPIRY_RECOVERY_TIMEOUT", "10s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.BundlePollInterval, err = parseDuration("BUNDLE_POLL_INTERVAL", "2s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.BundlePollAttempts, err = parseInt("BUNDLE_POLL_ATTEMPTS", 30); err != nil {
		errs = append(errs, err)
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "basketswap-orders")
	if cfg.WorkerConcurrency, err = parseInt("WORKER_CONCURRENCY", 10); err != nil {
		errs = append(errs, err)
	}

	return cfg, errs
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	errs = append(errs, c.engineErrors()...)
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// ValidateEngine checks only the settings the basket engine depends on.
func (c *Config) ValidateEngine() error {
	if errs := c.engineErrors(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

func (c *Config) engineErrors() []error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.FeeWallet == "" {
		errs = append(errs, fmt.Errorf("FeeWallet is required"))
	}

	if c.RouterURL == "" {
		errs = append(errs, fmt.Errorf("RouterURL is required"))
	}

	if len(c.BundleRelayURLs) == 0 {
		errs = append(errs, fmt.Errorf("at least one bundle relay URL is required"))
	}

	if c.PlatformFeeBps < 0 || c.PlatformFeeBps >= 10_000 {
		errs = append(errs, fmt.Errorf("PlatformFeeBps must be in [0, 10000), got %d", c.PlatformFeeBps))
	}

	if c.SlippageBps <= 0 || c.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("SlippageBps must be in (0, 10000], got %d", c.SlippageBps))
	}

	if c.ConfirmPollInterval <= 0 || c.ConfirmTimeout < c.ConfirmPollInterval {
		errs = append(errs, fmt.Errorf("ConfirmTimeout (%v) must be at least ConfirmPollInterval (%v)", c.ConfirmTimeout, c.ConfirmPollInterval))
	}

	if c.QuoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("QuoteTimeout must be positive, got %v", c.QuoteTimeout))
	}

	if c.BundlePollInterval <= 0 {
		errs = append(errs, fmt.Errorf("BundlePollInterval must be positive, got %v", c.BundlePollInterval))
	}

	if c.BundlePollAttempts <= 0 {
		errs = append(errs, fmt.Errorf("BundlePollAttempts must be positive"))
	}

	if c.RPCProxyMaxBody <= 0 {
		errs = append(errs, fmt.Errorf("RPCProxyMaxBody must be positive"))
	}

	return errs
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseDurationList parses a comma-separated list of durations.
func parseDurationList(key, defaultValue string) ([]time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	var out []time.Duration
	for _, part := range splitList(value) {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid duration %q: %w", key, part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
