package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/catalog"
	"github.com/brojonat/basketswap/service/config"
	"github.com/brojonat/basketswap/service/db"
	"github.com/brojonat/basketswap/service/metrics"
	natspkg "github.com/brojonat/basketswap/service/nats"
	"github.com/brojonat/basketswap/service/relay"
	"github.com/brojonat/basketswap/service/router"
	"github.com/brojonat/basketswap/service/solana"
	"github.com/brojonat/basketswap/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

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

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}
	engine := basket.NewEngine(
		engineCfg,
		router.NewClient(cfg.RouterURL, logger,
			router.WithAPIKey(cfg.RouterAPIKey),
			router.WithRateLimitBackoff(cfg.RouterRateLimitBackoff),
			router.WithMetrics(metricsCollector),
		),
		solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), metricsCollector, logger),
		relay.NewClient(cfg.BundleRelayURLs, logger, relay.WithMetrics(metricsCollector)),
		metricsCollector,
		logger,
	)
	logger.Info("initialized basket engine",
		"input_mint", cfg.InputMint,
		"platform_fee_bps", cfg.PlatformFeeBps,
		"relay_endpoints", len(cfg.BundleRelayURLs),
	)

	signer, err := newSigner(cfg, logger)
	if err != nil {
		logger.Error("failed to create signer", "error", err)
		os.Exit(1)
	}

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:        cfg.TemporalHost,
		TemporalNamespace:   cfg.TemporalNamespace,
		TaskQueue:           cfg.TemporalTaskQueue,
		MaxConcurrentOrders: cfg.WorkerConcurrency,
		Engine:              engine,
		Catalog:             cat,
		Signer:              signer,
		Store:               store,
		Publisher:           natsPublisher,
		Logger:              logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
	}
}

// newSigner prefers a local keypair and falls back to the remote signing bridge.
func newSigner(cfg *config.Config, logger *slog.Logger) (basket.Signer, error) {
	switch {
	case cfg.SignerKeypairPath != "":
		s, err := solana.LoadKeypairSigner(cfg.SignerKeypairPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load keypair: %w", err)
		}
		logger.Info("using keypair signer", "public_key", s.PublicKey().String())
		return s, nil
	case cfg.SignerURL != "":
		logger.Info("using remote signer", "url", cfg.SignerURL)
		return solana.NewRemoteSigner(cfg.SignerURL, nil, logger), nil
	default:
		return nil, errors.New("SIGNER_KEYPAIR_PATH or SIGNER_URL is required")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
