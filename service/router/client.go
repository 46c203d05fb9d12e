package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/basketswap/service/metrics"
)

// DefaultRateLimitBackoff is the wait before each retry of a 429 response.
var DefaultRateLimitBackoff = []time.Duration{900 * time.Millisecond, 1700 * time.Millisecond}

const apiKeyHeader = "x-api-key"

// StatusError is a non-2xx router response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("router returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the swap router's quote and instruction endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    []time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey authenticates requests. On 401/403 the client retries once without it.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimitBackoff sets the waits between 429 retries. Its length is the
// number of retries; an empty schedule disables them.
func WithRateLimitBackoff(backoff []time.Duration) Option {
	return func(c *Client) {
		c.backoff = backoff
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a router client for baseURL (e.g. https://lite-api.jup.ag/swap/v1).
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		backoff:    DefaultRateLimitBackoff,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Quote fetches an exact-in quote.
func (c *Client) Quote(ctx context.Context, params QuoteParams) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", params.InputMint.String())
	q.Set("outputMint", params.OutputMint.String())
	q.Set("amount", strconv.FormatUint(params.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(params.SlippageBps))
	q.Set("swapMode", "ExactIn")
	if params.PlatformFeeBps > 0 {
		q.Set("platformFeeBps", strconv.Itoa(params.PlatformFeeBps))
	}

	raw, err := c.do(ctx, "quote", http.MethodGet, "/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	quote, err := parseQuote(raw, params, c.now())
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "quote received",
		"input_mint", quote.InputMint.String(),
		"output_mint", quote.OutputMint.String(),
		"in_amount", quote.InAmount,
		"out_amount", quote.OutAmount,
		"price_impact_pct", quote.PriceImpactPct,
	)
	return quote, nil
}

type swapInstructionsRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
	FeeAccount              string          `json:"feeAccount,omitempty"`
}

// SwapInstructions asks the router to build the instructions for a quote.
func (c *Client) SwapInstructions(ctx context.Context, quote *Quote, params SwapParams) (*SwapInstructions, error) {
	if len(quote.Raw()) == 0 {
		return nil, fmt.Errorf("quote has no router payload")
	}

	req := swapInstructionsRequest{
		QuoteResponse:           quote.Raw(),
		UserPublicKey:           params.UserPublicKey.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}
	if params.FeeAccount != nil {
		req.FeeAccount = params.FeeAccount.String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := c.do(ctx, "swap_instructions", http.MethodPost, "/swap-instructions", body)
	if err != nil {
		return nil, err
	}
	return parseSwapInstructions(raw)
}

// do sends one logical request, applying the credential fallback and the
// rate-limit backoff schedule. It returns the body of the first 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	useKey := c.apiKey != ""
	rateLimitRetries := 0

	for {
		start := time.Now()
		status, respBody, err := c.send(ctx, method, path, body, useKey)
		if err != nil {
			c.metrics.RecordRouterRequest(op, "error", time.Since(start).Seconds())
			return nil, err
		}
		c.metrics.RecordRouterRequest(op, strconv.Itoa(status), time.Since(start).Seconds())

		switch {
		case status >= 200 && status < 300:
			return respBody, nil

		case (status == http.StatusUnauthorized || status == http.StatusForbidden) && useKey:
			c.metrics.RecordRouterAuthFallback()
			c.logger.WarnContext(ctx, "router rejected credentials, retrying without api key",
				"operation", op, "status", status)
			useKey = false
			continue

		case status == http.StatusTooManyRequests:
			c.metrics.RecordRouterRateLimitHit()
			if rateLimitRetries >= len(c.backoff) {
				return nil, &StatusError{StatusCode: status, Body: string(respBody)}
			}
			wait := c.backoff[rateLimitRetries]
			rateLimitRetries++
			c.logger.WarnContext(ctx, "router rate limited, backing off",
				"operation", op, "attempt", rateLimitRetries, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue

		default:
			return nil, &StatusError{StatusCode: status, Body: string(respBody)}
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, useKey bool) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if useKey {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("router request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read router response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
