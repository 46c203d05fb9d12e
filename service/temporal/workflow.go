package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// StateQuery is the query name that returns an order workflow's current stage.
const StateQuery = "state"

const (
	// DefaultExecutionTimeout bounds ExecuteOrder when the order does not
	// carry its own budget.
	DefaultExecutionTimeout = 20 * time.Minute
	// ExecuteHeartbeatTimeout is how long ExecuteOrder may go without a
	// heartbeat before Temporal treats the worker as gone.
	ExecuteHeartbeatTimeout = time.Minute
)

// Order workflow stages reported by StateQuery.
const (
	StageExecuting  = "executing"
	StageRecording  = "recording"
	StagePublishing = "publishing"
	StageCompleted  = "completed"
)

// BasketOrderWorkflow executes one basket order and records its outcome.
//
// The workflow performs these steps:
// 1. Execute the order through the engine (ExecuteOrder activity, never retried)
// 2. Record the purchase when anything landed (RecordPurchase activity)
// 3. Publish the terminal order event (PublishOrderEvent activity, best effort)
//
// The engine's direct and bundle paths are the only delivery retries; retrying
// the execution activity could buy the basket twice. If ExecuteOrder times out,
// its last heartbeat stands in for the result and the order ends as failed,
// still recorded and published.
func BasketOrderWorkflow(ctx workflow.Context, input OrderInput) (*basket.ExecutionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("BasketOrderWorkflow started",
		"order_id", input.OrderID,
		"basket_id", input.BasketID,
		"side", string(input.Side),
	)

	stage := StageExecuting
	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (string, error) {
		return stage, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register query handler: %w", err)
	}

	executeCtx := workflow.WithActivityOptions(ctx, executeOptions(input))

	var result *basket.ExecutionResult
	if err := workflow.ExecuteActivity(executeCtx, a.ExecuteOrder, input).Get(ctx, &result); err != nil {
		var timeoutErr *temporalsdk.TimeoutError
		if !errors.As(err, &timeoutErr) {
			logger.Error("failed to execute order", "order_id", input.OrderID, "error", err)
			return nil, fmt.Errorf("failed to execute order: %w", err)
		}
		result = interruptedResult(input, timeoutErr)
		logger.Error("order execution timed out",
			"order_id", input.OrderID,
			"timeout_type", timeoutErr.TimeoutType().String(),
			"landed", len(result.Signatures),
		)
	}

	logger.Info("order executed",
		"order_id", input.OrderID,
		"outcome", string(result.Outcome),
		"path", string(result.Path),
	)

	followUpCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	if result.Success || len(result.Signatures) > 0 {
		stage = StageRecording
		err := workflow.ExecuteActivity(followUpCtx, a.RecordPurchase, RecordPurchaseInput{
			Order:  input,
			Result: result,
		}).Get(ctx, nil)
		if err != nil {
			// The order already executed; losing the record must not hide the result.
			logger.Error("failed to record purchase", "order_id", input.OrderID, "error", err)
		}
	}

	stage = StagePublishing
	err := workflow.ExecuteActivity(followUpCtx, a.PublishOrderEvent, PublishOrderEventInput{
		Order:  input,
		Result: result,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to publish order event", "order_id", input.OrderID, "error", err)
	}

	stage = StageCompleted
	logger.Info("BasketOrderWorkflow completed", "order_id", input.OrderID, "outcome", string(result.Outcome))
	return result, nil
}

// executeOptions never retries ExecuteOrder and bounds it by the order's own
// budget.
func executeOptions(input OrderInput) workflow.ActivityOptions {
	timeout := input.ExecutionTimeout
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    ExecuteHeartbeatTimeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
}

// interruptedResult rebuilds what is known about an execution whose activity
// timed out, from its last heartbeat. Legs that had landed by then are kept so
// they are recorded.
func interruptedResult(input OrderInput, timeoutErr *temporalsdk.TimeoutError) *basket.ExecutionResult {
	res := &basket.ExecutionResult{
		OrderID:    input.OrderID,
		Side:       input.Side,
		Signatures: []string{},
		Legs:       []basket.LegResult{},
	}
	if timeoutErr.HasLastHeartbeatDetails() {
		var last basket.ExecutionResult
		if err := timeoutErr.LastHeartbeatDetails(&last); err == nil && last.OrderID != "" {
			res = &last
		}
	}
	res.Success = false
	res.Outcome = basket.OutcomeFailed
	res.ErrorClass = basket.ClassRetryableOrFatal
	res.Error = "execution interrupted: " + timeoutErr.Error()
	return res
}
