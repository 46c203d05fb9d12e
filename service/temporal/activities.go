package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/catalog"
	"github.com/brojonat/basketswap/service/db"
	natspkg "github.com/brojonat/basketswap/service/nats"
	solanago "github.com/gagliardetto/solana-go"
	"go.temporal.io/sdk/temporal"
)

// OrderInput is a basket order as submitted by a caller.
type OrderInput struct {
	OrderID  string             `json:"order_id"`
	BasketID string             `json:"basket_id"`
	Side     basket.Side        `json:"side"`
	Owner    string             `json:"owner"`
	Amount   float64            `json:"amount,omitempty"`  // buy: gross deposit in input-asset units
	Percent  float64            `json:"percent,omitempty"` // sell: percent of each holding
	Weights  map[string]float64 `json:"weights,omitempty"`

	SlippageBps int `json:"slippage_bps,omitempty"`

	// ExecutionTimeout bounds the ExecuteOrder activity. Zero uses
	// DefaultExecutionTimeout.
	ExecutionTimeout time.Duration `json:"execution_timeout,omitempty"`
}

// Validate checks the fields the workflow needs before anything executes.
func (in OrderInput) Validate() error {
	var errs []error
	if in.OrderID == "" {
		errs = append(errs, fmt.Errorf("order_id is required"))
	}
	if in.BasketID == "" {
		errs = append(errs, fmt.Errorf("basket_id is required"))
	}
	if _, err := solanago.PublicKeyFromBase58(in.Owner); err != nil {
		errs = append(errs, fmt.Errorf("invalid owner %q: %w", in.Owner, err))
	}
	switch in.Side {
	case basket.SideBuy:
		if err := basket.CheckAmount("amount", in.Amount); err != nil {
			errs = append(errs, err)
		}
	case basket.SideSell:
		if basket.CheckAmount("percent", in.Percent) != nil || in.Percent > 100 {
			errs = append(errs, fmt.Errorf("percent must be in (0, 100], got %v", in.Percent))
		}
	default:
		errs = append(errs, fmt.Errorf("side must be buy or sell, got %q", in.Side))
	}
	for sym, w := range in.Weights {
		if err := basket.CheckWeight(sym, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordPurchaseInput contains parameters for the RecordPurchase activity.
type RecordPurchaseInput struct {
	Order  OrderInput              `json:"order"`
	Result *basket.ExecutionResult `json:"result"`
}

// PublishOrderEventInput contains parameters for the PublishOrderEvent activity.
type PublishOrderEventInput struct {
	Order  OrderInput              `json:"order"`
	Result *basket.ExecutionResult `json:"result"`
}

// EngineInterface defines the basket engine operations needed by activities.
type EngineInterface interface {
	ExecuteBasketBuy(ctx context.Context, req basket.BuyRequest) *basket.ExecutionResult
	ExecuteBasketSell(ctx context.Context, req basket.SellRequest) *basket.ExecutionResult
	Config() basket.Config
}

// CatalogInterface resolves basket ids to allocations.
type CatalogInterface interface {
	Get(id string) (catalog.Basket, error)
}

// StoreInterface defines the database operations needed by activities.
type StoreInterface interface {
	CreatePurchase(ctx context.Context, params db.CreatePurchaseParams) (*db.Purchase, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishOrder(ctx context.Context, event *natspkg.OrderEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	engine    EngineInterface
	catalog   CatalogInterface
	signer    basket.Signer
	store     StoreInterface
	publisher PublisherInterface
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher may be nil, in which case order events are not published.
func NewActivities(
	engine EngineInterface,
	cat CatalogInterface,
	signer basket.Signer,
	store StoreInterface,
	publisher PublisherInterface,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		engine:    engine,
		catalog:   cat,
		signer:    signer,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// ExecuteOrder runs a basket order through the engine. Execution failures are
// reported in the result, not as an activity error; only invalid input fails
// the activity, and never retryably.
func (a *Activities) ExecuteOrder(ctx context.Context, input OrderInput) (*basket.ExecutionResult, error) {
	logger := a.logger.With("order_id", input.OrderID, "basket_id", input.BasketID, "side", string(input.Side))

	if err := input.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidOrder", err)
	}
	b, err := a.catalog.Get(input.BasketID)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "UnknownBasket", err)
	}
	owner := solanago.MustPublicKeyFromBase58(input.Owner)

	logger.InfoContext(ctx, "executing basket order", "owner", input.Owner, "allocations", len(b.Allocations))

	hb := startProgressHeartbeat(ctx, heartbeatInterval)
	defer hb.stop()

	var res *basket.ExecutionResult
	switch input.Side {
	case basket.SideBuy:
		res = a.engine.ExecuteBasketBuy(ctx, basket.BuyRequest{
			OrderID:     input.OrderID,
			Owner:       owner,
			Signer:      a.signer,
			Allocations: b.Allocations,
			Amount:      input.Amount,
			Weights:     input.Weights,
			SlippageBps: input.SlippageBps,
			Progress:    hb.record,
		})
	case basket.SideSell:
		res = a.engine.ExecuteBasketSell(ctx, basket.SellRequest{
			OrderID:     input.OrderID,
			Owner:       owner,
			Signer:      a.signer,
			Allocations: b.Allocations,
			Percent:     input.Percent,
			SlippageBps: input.SlippageBps,
			Progress:    hb.record,
		})
	}

	logger.InfoContext(ctx, "basket order finished",
		"outcome", string(res.Outcome),
		"path", string(res.Path),
		"signatures", len(res.Signatures),
		"error", res.Error,
	)
	return res, nil
}

// RecordPurchase writes the order's durable record.
func (a *Activities) RecordPurchase(ctx context.Context, input RecordPurchaseInput) (*db.Purchase, error) {
	res := input.Result
	if res == nil {
		return nil, temporal.NewNonRetryableApplicationError("missing execution result", "InvalidOrder", nil)
	}

	allocations, err := json.Marshal(res.Legs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal legs: %w", err)
	}

	params := db.CreatePurchaseParams{
		OrderID:     res.OrderID,
		Owner:       input.Order.Owner,
		BasketID:    input.Order.BasketID,
		Side:        string(res.Side),
		Outcome:     string(res.Outcome),
		InputMint:   a.engine.Config().Input.Mint.String(),
		GrossAmount: int64(res.GrossRaw),
		FeeAmount:   int64(res.FeeRaw),
		NetAmount:   int64(res.NetRaw),
		Path:        string(res.Path),
		Slot:        int64(res.Slot),
		Signatures:  res.Signatures,
		Allocations: allocations,
	}
	if res.BundleID != "" {
		params.BundleID = &res.BundleID
	}

	purchase, err := a.store.CreatePurchase(ctx, params)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record purchase", "order_id", res.OrderID, "error", err)
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	a.logger.InfoContext(ctx, "recorded purchase", "order_id", res.OrderID, "outcome", purchase.Outcome)
	return purchase, nil
}

// PublishOrderEvent publishes the terminal order event.
func (a *Activities) PublishOrderEvent(ctx context.Context, input PublishOrderEventInput) error {
	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping order event", "order_id", input.Order.OrderID)
		return nil
	}
	if input.Result == nil {
		return temporal.NewNonRetryableApplicationError("missing execution result", "InvalidOrder", nil)
	}

	event := natspkg.FromExecutionResult(input.Order.BasketID, input.Order.Owner, input.Result)
	if err := a.publisher.PublishOrder(ctx, event); err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	return nil
}
