package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brojonat/basketswap/service/metrics"
)

// MaxBundleTransactions is the most transactions a relay accepts in one bundle.
const MaxBundleTransactions = 5

// DefaultTimeout bounds a single relay HTTP request.
const DefaultTimeout = 10 * time.Second

// ErrEndpointsExhausted is returned when every endpoint reported congestion.
var ErrEndpointsExhausted = errors.New("all bundle relay endpoints are congested")

// CongestionError means the endpoint is rate limited or congested and the next
// endpoint should be tried.
type CongestionError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *CongestionError) Error() string {
	return fmt.Sprintf("relay %s congested (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
}

// Submission identifies an accepted bundle and the endpoint that accepted it.
type Submission struct {
	BundleID string
	Endpoint string
}

// BundleStatus is one entry of getBundleStatuses.
type BundleStatus struct {
	BundleID           string          `json:"bundle_id"`
	Transactions       []string        `json:"transactions"`
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmation_status"`
	Err                json.RawMessage `json:"err"`
}

// Landed reports whether the bundle reached confirmed or finalized without error.
func (s *BundleStatus) Landed() bool {
	if s == nil {
		return false
	}
	if s.ConfirmationStatus != "confirmed" && s.ConfirmationStatus != "finalized" {
		return false
	}
	return s.ErrMessage() == ""
}

// ErrMessage returns the on-chain error, or "" when the bundle has none.
// Relays report success as either null or {"Ok":null}.
func (s *BundleStatus) ErrMessage() string {
	if s == nil {
		return ""
	}
	raw := strings.TrimSpace(string(s.Err))
	switch raw {
	case "", "null", `{"Ok":null}`:
		return ""
	}
	var result struct {
		Err json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(s.Err, &result); err == nil && result.Err == nil {
		return ""
	}
	return raw
}

// Client submits bundles over JSON-RPC to an ordered list of relay endpoints.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	requestID  atomic.Uint64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records per-endpoint submission metrics.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a relay client. Endpoints are tried in the order given.
func NewClient(endpoints []string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the configured endpoints in failover order.
func (c *Client) Endpoints() []string {
	return c.endpoints
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// SendBundle submits base64-encoded signed transactions as one bundle. A
// congested endpoint advances to the next; any other failure stops the walk.
func (c *Client) SendBundle(ctx context.Context, txs []string) (Submission, error) {
	if len(txs) == 0 {
		return Submission{}, fmt.Errorf("bundle is empty")
	}
	if len(txs) > MaxBundleTransactions {
		return Submission{}, fmt.Errorf("bundle has %d transactions, limit is %d", len(txs), MaxBundleTransactions)
	}

	params := []any{txs, map[string]string{"encoding": "base64"}}
	for _, endpoint := range c.endpoints {
		var bundleID string
		err := c.call(ctx, endpoint, "sendBundle", params, &bundleID)

		var congested *CongestionError
		switch {
		case err == nil:
			c.metrics.RecordRelaySubmission(endpoint, "accepted")
			c.logger.InfoContext(ctx, "bundle accepted", "endpoint", endpoint, "bundle_id", bundleID)
			return Submission{BundleID: bundleID, Endpoint: endpoint}, nil
		case errors.As(err, &congested):
			c.metrics.RecordRelaySubmission(endpoint, "congested")
			c.logger.WarnContext(ctx, "relay congested, trying next endpoint", "endpoint", endpoint, "error", err)
			continue
		default:
			c.metrics.RecordRelaySubmission(endpoint, "error")
			return Submission{}, fmt.Errorf("relay %s rejected bundle: %w", endpoint, err)
		}
	}

	return Submission{}, ErrEndpointsExhausted
}

// BundleStatus fetches the status of a bundle from the endpoint that accepted it.
// It returns nil when the relay has no record of the bundle yet.
func (c *Client) BundleStatus(ctx context.Context, endpoint, bundleID string) (*BundleStatus, error) {
	var result struct {
		Value []*BundleStatus `json:"value"`
	}
	if err := c.call(ctx, endpoint, "getBundleStatuses", []any{[]string{bundleID}}, &result); err != nil {
		return nil, err
	}
	for _, s := range result.Value {
		if s != nil && s.BundleID == bundleID {
			return s, nil
		}
	}
	return nil, nil
}

func (c *Client) call(ctx context.Context, endpoint, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &CongestionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		if isCongestion(rpcResp.Error.Message) {
			return &CongestionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: rpcResp.Error.Message}
		}
		return rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

func isCongestion(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate-limit") ||
		strings.Contains(msg, "congested")
}
