package temporal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := NewActivities(nil, nil, nil, nil, nil, slog.Default())
	env.RegisterActivity(activities.ExecuteOrder)
	env.RegisterActivity(activities.RecordPurchase)
	env.RegisterActivity(activities.PublishOrderEvent)
	return env, activities
}

func testOrder() OrderInput {
	return OrderInput{
		OrderID:  "order-1",
		BasketID: "meme-index",
		Side:     basket.SideBuy,
		Owner:    testOwner,
		Amount:   100,
	}
}

func TestBasketOrderWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		mockActivities func(execMock, recordMock, publishMock *testsuite.MockCallWrapper)
		wantRecord     bool
		wantError      bool
		validateResult func(*testing.T, *basket.ExecutionResult)
	}{
		{
			name: "successful order is recorded and published",
			mockActivities: func(execMock, recordMock, publishMock *testsuite.MockCallWrapper) {
				execMock.Return(succeededResult("order-1"), nil)
				recordMock.Return(&db.Purchase{OrderID: "order-1"}, nil)
				publishMock.Return(nil)
			},
			wantRecord: true,
			validateResult: func(t *testing.T, res *basket.ExecutionResult) {
				assert.True(t, res.Success)
				assert.Equal(t, basket.OutcomeSucceeded, res.Outcome)
				assert.Equal(t, "bundle-1", res.BundleID)
				assert.Equal(t, uint64(99_900_000), res.NetRaw)
			},
		},
		{
			name: "cancelled order is published but not recorded",
			mockActivities: func(execMock, recordMock, publishMock *testsuite.MockCallWrapper) {
				execMock.Return(&basket.ExecutionResult{
					OrderID:    "order-1",
					Side:       basket.SideBuy,
					Outcome:    basket.OutcomeCancelled,
					ErrorClass: basket.ClassUserRejection,
					Error:      "user rejected the request",
				}, nil)
				publishMock.Return(nil)
			},
			wantRecord: false,
			validateResult: func(t *testing.T, res *basket.ExecutionResult) {
				assert.False(t, res.Success)
				assert.Equal(t, basket.OutcomeCancelled, res.Outcome)
			},
		},
		{
			name: "partially landed failure is still recorded",
			mockActivities: func(execMock, recordMock, publishMock *testsuite.MockCallWrapper) {
				res := succeededResult("order-1")
				res.Success = false
				res.Outcome = basket.OutcomeFailed
				res.Signatures = []string{"sig-fee"}
				execMock.Return(res, nil)
				recordMock.Return(&db.Purchase{OrderID: "order-1"}, nil)
				publishMock.Return(nil)
			},
			wantRecord: true,
			validateResult: func(t *testing.T, res *basket.ExecutionResult) {
				assert.Equal(t, basket.OutcomeFailed, res.Outcome)
				assert.Equal(t, []string{"sig-fee"}, res.Signatures)
			},
		},
		{
			name: "record and publish failures do not hide the result",
			mockActivities: func(execMock, recordMock, publishMock *testsuite.MockCallWrapper) {
				execMock.Return(succeededResult("order-1"), nil)
				recordMock.Return(nil, errors.New("database unavailable"))
				publishMock.Return(errors.New("nats unavailable"))
			},
			wantRecord: true,
			validateResult: func(t *testing.T, res *basket.ExecutionResult) {
				assert.True(t, res.Success)
			},
		},
		{
			name: "timed out execution is recorded from its last heartbeat",
			mockActivities: func(execMock, recordMock, publishMock *testsuite.MockCallWrapper) {
				partial := succeededResult("order-1")
				partial.Success = false
				partial.Outcome = ""
				partial.BundleID = ""
				partial.Signatures = []string{"sig-fee"}
				execMock.Return(nil, temporalsdk.NewTimeoutError(enumspb.TIMEOUT_TYPE_START_TO_CLOSE, nil, partial))
				recordMock.Return(&db.Purchase{OrderID: "order-1"}, nil)
				publishMock.Return(nil)
			},
			wantRecord: true,
			validateResult: func(t *testing.T, res *basket.ExecutionResult) {
				assert.False(t, res.Success)
				assert.Equal(t, basket.OutcomeFailed, res.Outcome)
				assert.Equal(t, basket.ClassRetryableOrFatal, res.ErrorClass)
				assert.Equal(t, []string{"sig-fee"}, res.Signatures)
				assert.Equal(t, uint64(100_000), res.FeeRaw)
				assert.Contains(t, res.Error, "execution interrupted")
			},
		},
		{
			name: "timeout before any heartbeat is published as a failure",
			mockActivities: func(execMock, recordMock, publishMock *testsuite.MockCallWrapper) {
				execMock.Return(nil, temporalsdk.NewTimeoutError(enumspb.TIMEOUT_TYPE_HEARTBEAT, nil))
				publishMock.Return(nil)
			},
			wantRecord: false,
			validateResult: func(t *testing.T, res *basket.ExecutionResult) {
				assert.Equal(t, "order-1", res.OrderID)
				assert.Equal(t, basket.SideBuy, res.Side)
				assert.Equal(t, basket.OutcomeFailed, res.Outcome)
				assert.Empty(t, res.Signatures)
			},
		},
		{
			name: "execution activity error fails the workflow",
			mockActivities: func(execMock, recordMock, publishMock *testsuite.MockCallWrapper) {
				execMock.Return(nil, errors.New("invalid order"))
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newWorkflowEnv(t)

			execMock := env.OnActivity(activities.ExecuteOrder, mock.Anything, mock.Anything)
			recordMock := env.OnActivity(activities.RecordPurchase, mock.Anything, mock.Anything)
			publishMock := env.OnActivity(activities.PublishOrderEvent, mock.Anything, mock.Anything)
			tt.mockActivities(execMock, recordMock, publishMock)

			env.ExecuteWorkflow(BasketOrderWorkflow, testOrder())

			require.True(t, env.IsWorkflowCompleted())
			if tt.wantError {
				assert.Error(t, env.GetWorkflowError())
				env.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything)
				env.AssertNotCalled(t, "PublishOrderEvent", mock.Anything, mock.Anything)
				return
			}

			require.NoError(t, env.GetWorkflowError())
			var res *basket.ExecutionResult
			require.NoError(t, env.GetWorkflowResult(&res))
			tt.validateResult(t, res)

			env.AssertCalled(t, "PublishOrderEvent", mock.Anything, mock.Anything)
			if tt.wantRecord {
				env.AssertCalled(t, "RecordPurchase", mock.Anything, mock.Anything)
			} else {
				env.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestBasketOrderWorkflow_ExecuteIsNotRetried(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	calls := 0
	env.OnActivity(activities.ExecuteOrder, mock.Anything, mock.Anything).
		Return(func(_ context.Context, _ OrderInput) (*basket.ExecutionResult, error) {
			calls++
			return nil, errors.New("worker crashed")
		})

	env.ExecuteWorkflow(BasketOrderWorkflow, testOrder())

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, calls)
}

func TestBasketOrderWorkflow_StateQuery(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.ExecuteOrder, mock.Anything, mock.Anything).Return(succeededResult("order-1"), nil)
	env.OnActivity(activities.RecordPurchase, mock.Anything, mock.Anything).Return(&db.Purchase{OrderID: "order-1"}, nil)
	env.OnActivity(activities.PublishOrderEvent, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(BasketOrderWorkflow, testOrder())
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	value, err := env.QueryWorkflow(StateQuery)
	require.NoError(t, err)
	var stage string
	require.NoError(t, value.Get(&stage))
	assert.Equal(t, StageCompleted, stage)
}

func TestExecuteOptions(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"order budget", 17 * time.Minute, 17 * time.Minute},
		{"default", 0, DefaultExecutionTimeout},
		{"negative falls back", -time.Second, DefaultExecutionTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := testOrder()
			order.ExecutionTimeout = tt.timeout

			opts := executeOptions(order)
			assert.Equal(t, tt.want, opts.StartToCloseTimeout)
			assert.Equal(t, ExecuteHeartbeatTimeout, opts.HeartbeatTimeout)
			require.NotNil(t, opts.RetryPolicy)
			assert.Equal(t, int32(1), opts.RetryPolicy.MaximumAttempts)
		})
	}
}

func TestBasketOrderWorkflow_ExecuteHeartbeats(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	var heartbeatTimeout time.Duration
	env.OnActivity(activities.ExecuteOrder, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ OrderInput) (*basket.ExecutionResult, error) {
			heartbeatTimeout = activity.GetInfo(ctx).HeartbeatTimeout
			return succeededResult("order-1"), nil
		})
	env.OnActivity(activities.RecordPurchase, mock.Anything, mock.Anything).Return(&db.Purchase{OrderID: "order-1"}, nil)
	env.OnActivity(activities.PublishOrderEvent, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(BasketOrderWorkflow, testOrder())
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, ExecuteHeartbeatTimeout, heartbeatTimeout)
}
