package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"fulfillment-core/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderCancelled publishes OrderCancelled event. This is the
// notification collaborator hook: the core guarantees the publish happens
// whenever an order reaches cancelled.
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStockReleased publishes StockReleased event
func (ep *EventPublisher) PublishStockReleased(ctx context.Context, event *models.StockReleasedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentApproved publishes PaymentApproved event
func (ep *EventPublisher) PublishPaymentApproved(ctx context.Context, event *models.PaymentApprovedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentRejected publishes PaymentRejected event
func (ep *EventPublisher) PublishPaymentRejected(ctx context.Context, event *models.PaymentRejectedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishViolationsFound publishes the operator report for an audit pass
func (ep *EventPublisher) PublishViolationsFound(ctx context.Context, event *models.ViolationsFoundEvent) error {
	return ep.producer.PublishEvent(ctx, "audit", event)
}

// PublishPaymentRepaired publishes PaymentRepaired event
func (ep *EventPublisher) PublishPaymentRepaired(ctx context.Context, event *models.PaymentRepairedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentApproved func(context.Context, *models.PaymentApprovedEvent) error
	onPaymentRejected func(context.Context, *models.PaymentRejectedEvent) error
	onOrderCancelled  func(context.Context, *models.OrderCancelledEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentApproved registers a handler for PaymentApproved events
func (eh *EventHandler) OnPaymentApproved(handler func(context.Context, *models.PaymentApprovedEvent) error) {
	eh.onPaymentApproved = handler
}

// OnPaymentRejected registers a handler for PaymentRejected events
func (eh *EventHandler) OnPaymentRejected(handler func(context.Context, *models.PaymentRejectedEvent) error) {
	eh.onPaymentRejected = handler
}

// OnOrderCancelled registers a handler for OrderCancelled events
func (eh *EventHandler) OnOrderCancelled(handler func(context.Context, *models.OrderCancelledEvent) error) {
	eh.onOrderCancelled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypePaymentApproved:
		if eh.onPaymentApproved != nil {
			var event models.PaymentApprovedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentApproved event: %w", err)
			}
			return eh.onPaymentApproved(ctx, &event)
		}

	case models.EventTypePaymentRejected:
		if eh.onPaymentRejected != nil {
			var event models.PaymentRejectedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentRejected event: %w", err)
			}
			return eh.onPaymentRejected(ctx, &event)
		}

	case models.EventTypeOrderCancelled:
		if eh.onOrderCancelled != nil {
			var event models.OrderCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCancelled event: %w", err)
			}
			return eh.onOrderCancelled(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
