package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromExecutionResult(t *testing.T) {
	res := &basket.ExecutionResult{
		OrderID:    "order-1",
		Side:       basket.SideBuy,
		Success:    true,
		Outcome:    basket.OutcomeSucceeded,
		Path:       basket.PathBundle,
		BundleID:   "bundle-1",
		Slot:       777,
		Signatures: []string{"a", "b"},
		GrossRaw:   100_000_000,
		FeeRaw:     100_000,
		NetRaw:     99_900_000,
	}

	event := FromExecutionResult("meme-index", "owner1", res)

	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, "owner1", event.Owner)
	assert.Equal(t, "meme-index", event.BasketID)
	assert.Equal(t, "buy", event.Side)
	assert.Equal(t, "succeeded", event.Outcome)
	assert.Equal(t, "bundle", event.Path)
	assert.Equal(t, uint64(99_900_000), event.NetAmount)
	assert.Equal(t, "orders.owner1", event.Subject())
	assert.WithinDuration(t, time.Now(), event.PublishedAt, 5*time.Second)
}

func TestFromExecutionResult_Failure(t *testing.T) {
	res := &basket.ExecutionResult{
		OrderID:    "order-2",
		Side:       basket.SideSell,
		Outcome:    basket.OutcomeCancelled,
		Error:      "user rejected the request",
		ErrorClass: basket.ClassUserRejection,
	}

	event := FromExecutionResult("meme-index", "owner1", res)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"signatures":[]`)
	assert.Contains(t, string(data), `"error_class":"user_rejection"`)
	assert.NotContains(t, string(data), "bundle_id")
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishOrder(ctx, &OrderEvent{OrderID: "1", Owner: "a"}))
	require.NoError(t, m.PublishOrder(ctx, &OrderEvent{OrderID: "2", Owner: "b"}))

	assert.Len(t, m.GetPublishedEvents(), 2)
	assert.Len(t, m.GetPublishedEventsForOwner("a"), 1)

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishOrder(ctx, &OrderEvent{OrderID: "3"}))
	assert.Len(t, m.GetPublishedEvents(), 2)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
