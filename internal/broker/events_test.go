package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fulfillment-core/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageRoutesOrderCancelled(t *testing.T) {
	handler := NewEventHandler()

	var got *models.OrderCancelledEvent
	handler.OnOrderCancelled(func(_ context.Context, event *models.OrderCancelledEvent) error {
		got = event
		return nil
	})

	event := models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID:    42,
		CustomerID: 7,
		Reason:     "reservation_expired",
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)

	err = handler.HandleMessage(context.Background(), kafka.Message{Value: value})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.OrderID)
	assert.Equal(t, "reservation_expired", got.Reason)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	handler := NewEventHandler()

	called := false
	handler.OnOrderCancelled(func(_ context.Context, _ *models.OrderCancelledEvent) error {
		called = true
		return nil
	})

	value, err := json.Marshal(models.BaseEvent{
		EventID:   "evt-2",
		EventType: "SOMETHING_ELSE",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	err = handler.HandleMessage(context.Background(), kafka.Message{Value: value})
	require.NoError(t, err)
	assert.False(t, called)
}
