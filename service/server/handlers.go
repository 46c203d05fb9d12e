package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/catalog"
	"github.com/brojonat/basketswap/service/db"
	"github.com/brojonat/basketswap/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize = 1 << 16 // orders and previews are small
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxOrderIDLength   = 64
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
	validOrderIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// basketResponse is the JSON response format for a basket.
type basketResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Allocations []basket.Allocation `json:"allocations"`
}

func basketToResponse(b catalog.Basket) basketResponse {
	return basketResponse{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Allocations: b.Allocations,
	}
}

// handleListBaskets returns a handler that lists the catalog.
// GET /api/v1/baskets
func handleListBaskets(cat Catalog, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		baskets := cat.List()
		resp := make([]basketResponse, len(baskets))
		for i, b := range baskets {
			resp[i] = basketToResponse(b)
		}
		logger.Debug("baskets listed", "count", len(resp))
		writeJSON(w, map[string]interface{}{
			"baskets": resp,
			"count":   len(resp),
		}, http.StatusOK)
	})
}

// handleGetBasket returns a handler that retrieves one basket.
// GET /api/v1/baskets/{id}
func handleGetBasket(cat Catalog, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		b, err := cat.Get(id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				writeError(w, "basket not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get basket", "basket_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, basketToResponse(b), http.StatusOK)
	})
}

type previewRequest struct {
	Amount      float64            `json:"amount"`
	SlippageBps int                `json:"slippage_bps,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
}

// handlePreview returns a handler that prices a basket deposit.
// POST /api/v1/baskets/{id}/preview
func handlePreview(cat Catalog, previewer Previewer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req previewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := basket.CheckAmount("amount", req.Amount); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.SlippageBps < 0 || req.SlippageBps > 10_000 {
			writeError(w, "slippage_bps must be between 0 and 10000", http.StatusBadRequest)
			return
		}
		if err := validateWeights(req.Weights); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		b, err := cat.Get(id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				writeError(w, "basket not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get basket", "basket_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		preview, err := previewer.GetSwapPreview(r.Context(), basket.PreviewRequest{
			Allocations: b.Allocations,
			Amount:      req.Amount,
			Weights:     req.Weights,
			SlippageBps: req.SlippageBps,
		})
		if err != nil {
			if errors.Is(err, basket.ErrInvalidAmount) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			var quoteErr *basket.QuoteUnavailableError
			if errors.As(err, &quoteErr) {
				logger.WarnContext(r.Context(), "preview quote unavailable", "basket_id", id, "error", err)
				writeError(w, err.Error(), http.StatusBadGateway)
				return
			}
			logger.ErrorContext(r.Context(), "failed to build preview", "basket_id", id, "error", err)
			writeError(w, "failed to build preview", http.StatusInternalServerError)
			return
		}

		logger.Debug("preview built", "basket_id", id, "amount", req.Amount, "quotes", len(preview.Quotes))
		writeJSON(w, preview, http.StatusOK)
	})
}

type placeOrderRequest struct {
	OrderID     string             `json:"order_id,omitempty"`
	BasketID    string             `json:"basket_id"`
	Side        string             `json:"side"`
	Owner       string             `json:"owner"`
	Amount      float64            `json:"amount,omitempty"`
	Percent     float64            `json:"percent,omitempty"`
	SlippageBps int                `json:"slippage_bps,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
}

type placeOrderResponse struct {
	OrderID    string `json:"order_id"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// handlePlaceOrder returns a handler that starts an order workflow.
// POST /api/v1/orders
// budget, when set, maps a basket's allocation count to the order's execution
// timeout.
func handlePlaceOrder(cat Catalog, orders OrderService, budget func(allocations int) time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req placeOrderRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if req.OrderID == "" {
			req.OrderID = uuid.NewString()
		} else if err := validateOrderID(req.OrderID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Owner); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.SlippageBps < 0 || req.SlippageBps > 10_000 {
			writeError(w, "slippage_bps must be between 0 and 10000", http.StatusBadRequest)
			return
		}
		if err := validateWeights(req.Weights); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		input := temporal.OrderInput{
			OrderID:     req.OrderID,
			BasketID:    req.BasketID,
			Side:        basket.Side(strings.ToLower(req.Side)),
			Owner:       req.Owner,
			Amount:      req.Amount,
			Percent:     req.Percent,
			Weights:     req.Weights,
			SlippageBps: req.SlippageBps,
		}
		if err := input.Validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, err := cat.Get(req.BasketID)
		if err != nil {
			writeError(w, "basket not found", http.StatusNotFound)
			return
		}
		if budget != nil {
			input.ExecutionTimeout = budget(len(b.Allocations))
		}

		workflowID, runID, err := orders.StartOrder(r.Context(), input)
		if err != nil {
			if errors.Is(err, temporal.ErrOrderExists) {
				writeError(w, "order already exists", http.StatusConflict)
				return
			}
			logger.ErrorContext(r.Context(), "failed to start order", "order_id", req.OrderID, "error", err)
			writeError(w, "failed to start order", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "order placed",
			"order_id", req.OrderID,
			"basket_id", req.BasketID,
			"side", string(input.Side),
			"owner", req.Owner,
			"workflow_id", workflowID,
		)

		writeJSON(w, placeOrderResponse{
			OrderID:    req.OrderID,
			WorkflowID: workflowID,
			RunID:      runID,
		}, http.StatusAccepted)
	})
}

// handleGetOrder returns a handler that reports an order's status.
// GET /api/v1/orders/{order_id}
func handleGetOrder(orders OrderService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderID := r.PathValue("order_id")
		if err := validateOrderID(orderID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		status, err := orders.GetOrder(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, temporal.ErrOrderNotFound) {
				writeError(w, "order not found", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to get order", "order_id", orderID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

// handleListPurchases returns a handler that lists an owner's purchases.
// GET /api/v1/purchases?owner=ADDRESS&limit=N&offset=N
func handleListPurchases(store PurchaseStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		owner := query.Get("owner")

		if owner == "" {
			writeError(w, "owner query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(owner); err != nil {
			logger.Debug("invalid address", "address", owner, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := int32(50)
		if s := query.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if n < 1 || n > 1000 {
				writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
				return
			}
			limit = int32(n)
		}

		offset := int32(0)
		if s := query.Get("offset"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if n < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(n)
		}

		purchases, err := store.ListPurchasesByOwner(r.Context(), db.ListPurchasesByOwnerParams{
			Owner:  owner,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list purchases", "owner", owner, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("purchases listed", "owner", owner, "count", len(purchases))

		writeJSON(w, map[string]interface{}{
			"purchases": purchases,
			"count":     len(purchases),
			"limit":     limit,
			"offset":    offset,
		}, http.StatusOK)
	})
}

// decodeBody decodes a size-limited JSON body, writing the error response itself.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for format and parses it as a public key.
func validateAddress(address string) error {
	if address == "" {
		return errorf("owner is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: %v", err)
	}

	return nil
}

func validateOrderID(id string) error {
	if id == "" {
		return errorf("order_id is required")
	}
	if len(id) > maxOrderIDLength {
		return errorf("order_id too long: maximum length is %d characters", maxOrderIDLength)
	}
	if !validOrderIDRegex.MatchString(id) {
		return errorf("invalid order_id: only letters, digits, '-' and '_' are allowed")
	}
	return nil
}

func validateWeights(weights map[string]float64) error {
	for sym, w := range weights {
		if err := basket.CheckWeight(sym, w); err != nil {
			return err
		}
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
