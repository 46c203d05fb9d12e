package client

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

	"github.com/brojonat/basketswap/service/basket"
)

// Basket is a catalog entry.
type Basket struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Allocations []basket.Allocation `json:"allocations"`
}

// PreviewRequest asks the server to price a basket deposit.
type PreviewRequest struct {
	Amount      float64            `json:"amount"`
	SlippageBps int                `json:"slippage_bps,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
}

// OrderRequest places a buy or sell order. OrderID is optional; the server
// generates one when empty.
type OrderRequest struct {
	OrderID     string             `json:"order_id,omitempty"`
	BasketID    string             `json:"basket_id"`
	Side        string             `json:"side"`
	Owner       string             `json:"owner"`
	Amount      float64            `json:"amount,omitempty"`
	Percent     float64            `json:"percent,omitempty"`
	SlippageBps int                `json:"slippage_bps,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
}

// PlacedOrder identifies a started order.
type PlacedOrder struct {
	OrderID    string `json:"order_id"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Order is the state of a submitted order.
type Order struct {
	OrderID    string                  `json:"order_id"`
	WorkflowID string                  `json:"workflow_id"`
	RunID      string                  `json:"run_id"`
	State      string                  `json:"state"` // running, completed, failed
	Stage      string                  `json:"stage,omitempty"`
	Result     *basket.ExecutionResult `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// Done reports whether the order has stopped running.
func (o *Order) Done() bool {
	return o.State != "" && o.State != "running"
}

// Purchase is one recorded order.
type Purchase struct {
	OrderID     string          `json:"order_id"`
	Owner       string          `json:"owner"`
	BasketID    string          `json:"basket_id"`
	Side        string          `json:"side"`
	Outcome     string          `json:"outcome"`
	InputMint   string          `json:"input_mint"`
	GrossAmount int64           `json:"gross_amount"`
	FeeAmount   int64           `json:"fee_amount"`
	NetAmount   int64           `json:"net_amount"`
	Path        string          `json:"path"`
	BundleID    *string         `json:"bundle_id,omitempty"`
	Slot        int64           `json:"slot"`
	Signatures  []string        `json:"signatures"`
	Allocations json.RawMessage `json:"allocations"`
	CreatedAt   time.Time       `json:"created_at"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the basketswap service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new basketswap service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListBaskets retrieves the basket catalog.
func (c *Client) ListBaskets(ctx context.Context) ([]Basket, error) {
	var out struct {
		Baskets []Basket `json:"baskets"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/baskets", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Baskets, nil
}

// GetBasket retrieves one basket.
func (c *Client) GetBasket(ctx context.Context, id string) (*Basket, error) {
	var out Basket
	if err := c.do(ctx, http.MethodGet, "/api/v1/baskets/"+url.PathEscape(id), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview prices a basket deposit without executing it.
func (c *Client) Preview(ctx context.Context, basketID string, req PreviewRequest) (*basket.SwapPreview, error) {
	var out basket.SwapPreview
	path := "/api/v1/baskets/" + url.PathEscape(basketID) + "/preview"
	if err := c.do(ctx, http.MethodPost, path, req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("preview received", "basket_id", basketID, "allocations", len(out.Allocations))
	return &out, nil
}

// PlaceOrder starts an order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*PlacedOrder, error) {
	var out PlacedOrder
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("order placed", "order_id", out.OrderID, "workflow_id", out.WorkflowID)
	return &out, nil
}

// GetOrder retrieves an order's state.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AwaitOrder polls an order until it stops running or ctx is done.
func (c *Client) AwaitOrder(ctx context.Context, orderID string, interval time.Duration) (*Order, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		order, err := c.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Done() {
			return order, nil
		}
		c.logger.Debug("order still running", "order_id", orderID, "stage", order.Stage)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListPurchases retrieves an owner's purchase history, most recent first.
func (c *Client) ListPurchases(ctx context.Context, owner string, limit, offset int) ([]*Purchase, error) {
	q := url.Values{}
	q.Set("owner", owner)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out struct {
		Purchases []*Purchase `json:"purchases"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/purchases?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Purchases, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, wantStatus int, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
