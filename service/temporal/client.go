package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/basketswap/service/basket"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

var (
	// ErrOrderNotFound is returned when no workflow exists for an order id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists is returned when an order id has already been submitted.
	ErrOrderExists = errors.New("order already exists")
)

// Order states reported by GetOrder.
const (
	OrderRunning   = "running"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
)

// OrderStatus is the externally visible state of a submitted order.
type OrderStatus struct {
	OrderID    string                  `json:"order_id"`
	WorkflowID string                  `json:"workflow_id"`
	RunID      string                  `json:"run_id"`
	State      string                  `json:"state"`
	Stage      string                  `json:"stage,omitempty"`
	Result     *basket.ExecutionResult `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// Client submits basket orders to Temporal and reports on them.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return newClient(c, taskQueue, logger), nil
}

func newClient(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// WorkflowID returns the workflow id used for an order.
func WorkflowID(orderID string) string {
	return "basket-order-" + orderID
}

// StartOrder starts the order workflow. An order id can be submitted once.
func (c *Client) StartOrder(ctx context.Context, input OrderInput) (workflowID, runID string, err error) {
	if err := input.Validate(); err != nil {
		return "", "", err
	}
	id := WorkflowID(input.OrderID)

	c.logger.Debug("starting order workflow",
		"order_id", input.OrderID,
		"basket_id", input.BasketID,
		"side", string(input.Side),
		"workflow_id", id,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo: map[string]interface{}{
			"basket_id":  input.BasketID,
			"owner":      input.Owner,
			"side":       string(input.Side),
			"created_by": "basketswap",
		},
	}, BasketOrderWorkflow, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", "", fmt.Errorf("%w: %s", ErrOrderExists, input.OrderID)
		}
		c.logger.Error("failed to start order workflow", "order_id", input.OrderID, "error", err)
		return "", "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("order workflow started",
		"order_id", input.OrderID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), run.GetRunID(), nil
}

// GetOrder reports the state of an order. Completed orders carry their
// execution result; running orders carry the workflow's current stage.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	id := WorkflowID(orderID)

	desc, err := c.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to describe workflow %q: %w", id, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &OrderStatus{
		OrderID:    orderID,
		WorkflowID: id,
		RunID:      info.GetExecution().GetRunId(),
		State:      orderState(info.GetStatus()),
	}

	switch status.State {
	case OrderRunning:
		resp, err := c.client.QueryWorkflow(ctx, id, status.RunID, StateQuery)
		if err != nil {
			c.logger.Warn("failed to query order stage", "order_id", orderID, "error", err)
			break
		}
		var stage string
		if err := resp.Get(&stage); err == nil {
			status.Stage = stage
		}
	case OrderCompleted:
		var result *basket.ExecutionResult
		if err := c.client.GetWorkflow(ctx, id, status.RunID).Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("failed to get workflow result %q: %w", id, err)
		}
		status.Stage = StageCompleted
		status.Result = result
	default:
		if err := c.client.GetWorkflow(ctx, id, status.RunID).Get(ctx, nil); err != nil {
			status.Error = err.Error()
		}
	}

	return status, nil
}

func orderState(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return OrderRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return OrderCompleted
	default:
		return OrderFailed
	}
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
