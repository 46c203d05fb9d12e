package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// All Record* methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Quote router metrics
	routerRequestsTotal   *prometheus.CounterVec
	routerRequestDuration *prometheus.HistogramVec
	routerAuthFallbacks   prometheus.Counter
	routerRateLimitHits   prometheus.Counter

	// Ledger RPC metrics
	ledgerRPCCallsTotal   *prometheus.CounterVec
	ledgerRPCCallDuration *prometheus.HistogramVec

	// Execution engine metrics
	executionsTotal       *prometheus.CounterVec
	executionDuration     *prometheus.HistogramVec
	pathFallbacksTotal    prometheus.Counter
	previewsTotal         *prometheus.CounterVec
	confirmationPolls     *prometheus.CounterVec
	expiryRecoveriesTotal *prometheus.CounterVec

	// Bundle relay metrics
	relaySubmissionsTotal *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	rpcProxyRejected    *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		routerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_requests_total",
				Help: "Total number of quote router requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		routerRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_request_duration_seconds",
				Help:    "Duration of quote router requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		routerAuthFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "router_auth_fallbacks_total",
				Help: "Total number of router requests retried without credentials after 401/403",
			},
		),
		routerRateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "router_rate_limit_hits_total",
				Help: "Total number of router 429 responses",
			},
		),

		ledgerRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_calls_total",
				Help: "Total number of ledger RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		ledgerRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rpc_call_duration_seconds",
				Help:    "Duration of ledger RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basket_executions_total",
				Help: "Total number of basket executions by side, delivery path and outcome",
			},
			[]string{"side", "path", "outcome"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "basket_execution_duration_seconds",
				Help:    "Duration of basket executions in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 45, 90, 180},
			},
			[]string{"side", "outcome"},
		),
		pathFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "basket_path_fallbacks_total",
				Help: "Total number of direct-path failures that fell back to the bundle path",
			},
		),
		previewsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basket_previews_total",
				Help: "Total number of swap previews by status",
			},
			[]string{"status"},
		),
		confirmationPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirmation_polls_total",
				Help: "Total number of confirmation status polls by kind (signature, bundle)",
			},
			[]string{"kind"},
		),
		expiryRecoveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockhash_expiry_recoveries_total",
				Help: "Total number of blockhash-expiry send errors and whether the signature landed",
			},
			[]string{"result"},
		),

		relaySubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_submissions_total",
				Help: "Total number of bundle submissions by relay endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		rpcProxyRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_proxy_rejected_total",
				Help: "Total number of ledger RPC proxy requests rejected by reason",
			},
			[]string{"reason"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Router metric helpers

// RecordRouterRequest records a quote router request with duration.
func (m *Metrics) RecordRouterRequest(operation, status string, duration float64) {
	if m == nil {
		return
	}
	m.routerRequestsTotal.WithLabelValues(operation, status).Inc()
	m.routerRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRouterAuthFallback records a retry without credentials.
func (m *Metrics) RecordRouterAuthFallback() {
	if m == nil {
		return
	}
	m.routerAuthFallbacks.Inc()
}

// RecordRouterRateLimitHit records a 429 from the router.
func (m *Metrics) RecordRouterRateLimitHit() {
	if m == nil {
		return
	}
	m.routerRateLimitHits.Inc()
}

// Ledger metric helpers

// RecordLedgerCall records a ledger RPC call with duration.
func (m *Metrics) RecordLedgerCall(method string, err error, duration float64) {
	if m == nil {
		return
	}
	m.ledgerRPCCallsTotal.WithLabelValues(method, statusFromError(err)).Inc()
	m.ledgerRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// Execution metric helpers

// RecordExecution records the terminal outcome of a basket execution.
func (m *Metrics) RecordExecution(side, path, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(side, path, outcome).Inc()
	m.executionDuration.WithLabelValues(side, outcome).Observe(duration)
}

// RecordPathFallback records a direct-path failure that triggered the bundle path.
func (m *Metrics) RecordPathFallback() {
	if m == nil {
		return
	}
	m.pathFallbacksTotal.Inc()
}

// RecordPreview records a swap preview computation.
func (m *Metrics) RecordPreview(err error) {
	if m == nil {
		return
	}
	m.previewsTotal.WithLabelValues(statusFromError(err)).Inc()
}

// RecordConfirmationPoll records a single status poll.
func (m *Metrics) RecordConfirmationPoll(kind string) {
	if m == nil {
		return
	}
	m.confirmationPolls.WithLabelValues(kind).Inc()
}

// RecordExpiryRecovery records the result of a blockhash-expiry recovery poll.
func (m *Metrics) RecordExpiryRecovery(landed bool) {
	if m == nil {
		return
	}
	result := "not_landed"
	if landed {
		result = "landed"
	}
	m.expiryRecoveriesTotal.WithLabelValues(result).Inc()
}

// RecordRelaySubmission records a bundle submission attempt against one relay endpoint.
func (m *Metrics) RecordRelaySubmission(endpoint, status string) {
	if m == nil {
		return
	}
	m.relaySubmissionsTotal.WithLabelValues(endpoint, status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, statusFromError(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordRPCProxyRejected records a rejected proxy request.
func (m *Metrics) RecordRPCProxyRejected(reason string) {
	if m == nil {
		return
	}
	m.rpcProxyRejected.WithLabelValues(reason).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusFromError(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
