package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/catalog"
	"github.com/brojonat/basketswap/service/config"
	"github.com/brojonat/basketswap/service/db"
	"github.com/brojonat/basketswap/service/metrics"
	"github.com/brojonat/basketswap/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Catalog lists and resolves baskets.
type Catalog interface {
	List() []catalog.Basket
	Get(id string) (catalog.Basket, error)
}

// Previewer prices basket deposits.
type Previewer interface {
	GetSwapPreview(ctx context.Context, req basket.PreviewRequest) (*basket.SwapPreview, error)
}

// OrderService starts order workflows and reports their status.
type OrderService interface {
	StartOrder(ctx context.Context, input temporal.OrderInput) (workflowID, runID string, err error)
	GetOrder(ctx context.Context, orderID string) (*temporal.OrderStatus, error)
}

// PurchaseStore reads purchase history.
type PurchaseStore interface {
	ListPurchasesByOwner(ctx context.Context, params db.ListPurchasesByOwnerParams) ([]*db.Purchase, error)
}

// Server represents the HTTP server for the basket service.
type Server struct {
	addr      string
	cfg       *config.Config
	catalog   Catalog
	previewer Previewer
	orders    OrderService
	store     PurchaseStore
	rpcClient *http.Client
	stream    OrderStream
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The orders service is optional - if nil, order endpoints won't be available.
// The store is optional - if nil, purchase history won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, cat Catalog, previewer Previewer, orders OrderService, store PurchaseStore, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		cfg:       cfg,
		catalog:   cat,
		previewer: previewer,
		orders:    orders,
		store:     store,
		rpcClient: &http.Client{Timeout: 30 * time.Second},
		metrics:   m,
		logger:    logger,
	}
}

// WithOrderStream enables the order event SSE endpoints.
func (s *Server) WithOrderStream(stream OrderStream) *Server {
	s.stream = stream
	return s
}

// Handler builds the routed handler, wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Catalog and pricing
	route("GET /api/v1/baskets", "/api/v1/baskets", handleListBaskets(s.catalog, s.logger))
	route("GET /api/v1/baskets/{id}", "/api/v1/baskets/{id}", handleGetBasket(s.catalog, s.logger))
	route("POST /api/v1/baskets/{id}/preview", "/api/v1/baskets/{id}/preview", handlePreview(s.catalog, s.previewer, s.logger))

	// Orders
	if s.orders != nil {
		var budget func(int) time.Duration
		if s.cfg != nil {
			budget = s.cfg.ExecutionBudget
		}
		route("POST /api/v1/orders", "/api/v1/orders", handlePlaceOrder(s.catalog, s.orders, budget, s.logger))
		route("GET /api/v1/orders/{order_id}", "/api/v1/orders/{order_id}", handleGetOrder(s.orders, s.logger))
	} else {
		s.logger.Warn("order service not configured, order endpoints disabled")
	}

	if s.store != nil {
		route("GET /api/v1/purchases", "/api/v1/purchases", handleListPurchases(s.store, s.logger))
	} else {
		s.logger.Warn("store not configured, purchase endpoints disabled")
	}

	// SSE streaming endpoints (if an order stream is configured)
	if s.stream != nil {
		mux.Handle("GET /api/v1/stream/orders/{owner}", handleStreamOrders(s.stream, s.logger))
		mux.Handle("GET /api/v1/stream/orders", handleStreamOrders(s.stream, s.logger))
	}

	// Ledger RPC proxy
	if s.cfg != nil && s.cfg.SolanaRPCURL != "" {
		route("POST /api/v1/rpc", "/api/v1/rpc", handleRPCProxy(s.cfg.SolanaRPCURL, s.cfg.RPCProxyMaxBody, s.rpcClient, s.metrics, s.logger))
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
