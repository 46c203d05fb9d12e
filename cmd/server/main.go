package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/catalog"
	"github.com/brojonat/basketswap/service/config"
	"github.com/brojonat/basketswap/service/db"
	"github.com/brojonat/basketswap/service/metrics"
	"github.com/brojonat/basketswap/service/relay"
	"github.com/brojonat/basketswap/service/router"
	"github.com/brojonat/basketswap/service/server"
	"github.com/brojonat/basketswap/service/solana"
	"github.com/brojonat/basketswap/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("failed to load basket catalog", "error", err, "path", cfg.CatalogPath)
		os.Exit(1)
	}
	logger.Info("loaded basket catalog", "baskets", len(cat.List()))

	// The server only previews; execution happens on the worker.
	engine, err := newEngine(cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create basket engine", "error", err)
		os.Exit(1)
	}

	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	httpServer := server.New(cfg.ServerAddr, cfg, cat, engine, temporalClient, store, metricsCollector, logger)

	// Order event streaming is optional; the API works without NATS.
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("order event streaming disabled", "error", err, "nats_url", cfg.NATSURL)
	} else {
		defer ssePublisher.Close()
		httpServer.WithOrderStream(ssePublisher)
	}

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"router_url", cfg.RouterURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

func newEngine(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*basket.Engine, error) {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	ledger := solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), m, logger)
	quotes := router.NewClient(cfg.RouterURL, logger,
		router.WithAPIKey(cfg.RouterAPIKey),
		router.WithRateLimitBackoff(cfg.RouterRateLimitBackoff),
		router.WithMetrics(m),
	)
	bundles := relay.NewClient(cfg.BundleRelayURLs, logger, relay.WithMetrics(m))
	return basket.NewEngine(engineCfg, quotes, ledger, bundles, m, logger), nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
