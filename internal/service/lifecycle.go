package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-core/internal/models"
	"fulfillment-core/internal/transition"
	"fulfillment-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleService applies validated status transitions to orders and
// payments. Every status write in the system funnels through here or through
// the reaper's expire transaction; nothing patches status fields directly.
type LifecycleService struct {
	store     Datastore
	ledger    *StockLedger
	publisher Publisher
	logger    *zap.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(store Datastore, ledger *StockLedger, publisher Publisher) *LifecycleService {
	return &LifecycleService{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// TransitionPayment moves a payment to the requested status after checking
// the edge. Validation errors are surfaced, never swallowed: they mean a
// caller bug or a stale-state race the caller must see.
func (ls *LifecycleService) TransitionPayment(ctx context.Context, paymentID int64, target string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.TransitionPayment")
	defer span.End()

	payment, err := ls.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if err := transition.CheckPayment(payment.Status, target); err != nil {
		util.TransitionsRejectedTotal.WithLabelValues(transition.EntityPayment, rejectReason(err)).Inc()
		return nil, err
	}

	if err := ls.store.SetPaymentStatus(ctx, paymentID, target); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	util.TransitionsAppliedTotal.WithLabelValues(transition.EntityPayment).Inc()
	ls.logger.Info("Payment transitioned",
		zap.Int64("payment_id", paymentID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("from", payment.Status),
		zap.String("to", target))

	ls.publishPaymentChange(ctx, payment, target)

	payment.Status = target
	return payment, nil
}

// TransitionOrder moves an order to the requested status. The edge check and
// the cross-entity combination rule both gate the write, and the write itself
// is conditional on the status the check saw, so a concurrent writer cannot
// slip a transition in between.
func (ls *LifecycleService) TransitionOrder(ctx context.Context, orderID int64, target string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.TransitionOrder")
	defer span.End()

	order, err := ls.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := transition.CheckOrder(order.Status, target); err != nil {
		util.TransitionsRejectedTotal.WithLabelValues(transition.EntityOrder, rejectReason(err)).Inc()
		return nil, err
	}

	payment, err := ls.store.GetActivePayment(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active payment: %w", err)
	}
	paymentStatus := ""
	if payment != nil {
		paymentStatus = payment.Status
	}
	if !transition.ValidateCombination(target, paymentStatus) {
		util.TransitionsRejectedTotal.WithLabelValues(transition.EntityOrder, "combination").Inc()
		return nil, fmt.Errorf("order %d cannot be %s while payment is %q: %w",
			orderID, target, paymentStatus, transition.ErrInvalidTransition)
	}

	if target == models.OrderStatusCancelled {
		return ls.cancelOrder(ctx, order)
	}

	won, err := ls.store.SetOrderStatusIfCurrent(ctx, orderID, order.Status, target)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("order %d changed concurrently: %w", orderID, transition.ErrInvalidTransition)
	}

	util.TransitionsAppliedTotal.WithLabelValues(transition.EntityOrder).Inc()
	ls.logger.Info("Order transitioned",
		zap.Int64("order_id", orderID),
		zap.String("from", order.Status),
		zap.String("to", target))

	order.Status = target
	return order, nil
}

// cancelOrder cancels a pending order with its reserved stock restored, the
// same atomic path the reaper takes.
func (ls *LifecycleService) cancelOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	var items []models.OrderItem

	if order.Status == models.OrderStatusPending {
		var err error
		items, err = ls.store.GetOrderLineItems(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load line items: %w", err)
		}

		_, won, err := ls.store.ExpirePendingOrder(ctx, order.ID, items, "operator")
		if err != nil {
			return nil, fmt.Errorf("failed to cancel order: %w", err)
		}
		if !won {
			return nil, fmt.Errorf("order %d changed concurrently: %w", order.ID, transition.ErrInvalidTransition)
		}
	} else {
		// Past pending the stock is sold, not reserved; nothing to restore.
		won, err := ls.store.SetOrderStatusIfCurrent(ctx, order.ID, order.Status, models.OrderStatusCancelled)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel order: %w", err)
		}
		if !won {
			return nil, fmt.Errorf("order %d changed concurrently: %w", order.ID, transition.ErrInvalidTransition)
		}
	}

	if ls.ledger != nil {
		for _, item := range items {
			if item.Quantity > 0 {
				ls.ledger.RestoreCached(ctx, item.VariantID, item.Quantity)
			}
		}
	}

	util.TransitionsAppliedTotal.WithLabelValues(transition.EntityOrder).Inc()

	if ls.publisher != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderCancelled,
				Timestamp: time.Now(),
			},
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Reason:     "cancelled_by_operator",
		}
		if err := ls.publisher.PublishOrderCancelled(ctx, event); err != nil {
			ls.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	order.Status = models.OrderStatusCancelled
	return order, nil
}

// HandlePaymentApproved advances the order of an approved payment to
// preparing. Consumed from the event stream with at-least-once delivery, so
// it is idempotent per event id.
func (ls *LifecycleService) HandlePaymentApproved(ctx context.Context, event *models.PaymentApprovedEvent) error {
	ctx, span := util.StartSpan(ctx, "LifecycleService.HandlePaymentApproved")
	defer span.End()

	processed, err := ls.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ls.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if _, err := ls.TransitionOrder(ctx, event.OrderID, models.OrderStatusPreparing); err != nil {
		return fmt.Errorf("failed to advance order %d: %w", event.OrderID, err)
	}

	if err := ls.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ls.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// HandlePaymentRejected cancels the order of a rejected payment, restoring
// its reserved stock.
func (ls *LifecycleService) HandlePaymentRejected(ctx context.Context, event *models.PaymentRejectedEvent) error {
	ctx, span := util.StartSpan(ctx, "LifecycleService.HandlePaymentRejected")
	defer span.End()

	processed, err := ls.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ls.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if _, err := ls.TransitionOrder(ctx, event.OrderID, models.OrderStatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel order %d: %w", event.OrderID, err)
	}

	if err := ls.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ls.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// HandleOrderCancelled cancels the active payment of a cancelled order when
// it is still cancellable. Approved payments are left alone: that combination
// is rejected before any cancellation commits, so seeing one here means the
// refund flow owns it. Idempotent per event id.
func (ls *LifecycleService) HandleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	ctx, span := util.StartSpan(ctx, "LifecycleService.HandleOrderCancelled")
	defer span.End()

	processed, err := ls.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ls.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	payment, err := ls.store.GetActivePayment(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load active payment: %w", err)
	}
	if payment != nil && transition.CanCancelPayment(payment.Status) {
		if _, err := ls.TransitionPayment(ctx, payment.ID, models.PaymentStatusCancelled); err != nil {
			return fmt.Errorf("failed to cancel payment %d: %w", payment.ID, err)
		}
	}

	if err := ls.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ls.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func (ls *LifecycleService) publishPaymentChange(ctx context.Context, payment *models.Payment, target string) {
	if ls.publisher == nil {
		return
	}

	switch target {
	case models.PaymentStatusApproved:
		event := &models.PaymentApprovedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentApproved,
				Timestamp: time.Now(),
			},
			OrderID:   payment.OrderID,
			PaymentID: payment.ID,
			Amount:    payment.Amount,
		}
		if err := ls.publisher.PublishPaymentApproved(ctx, event); err != nil {
			ls.logger.Error("Failed to publish PaymentApproved event", zap.Error(err))
		}
	case models.PaymentStatusRejected:
		event := &models.PaymentRejectedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentRejected,
				Timestamp: time.Now(),
			},
			OrderID:   payment.OrderID,
			PaymentID: payment.ID,
			Reason:    "rejected_by_provider",
		}
		if err := ls.publisher.PublishPaymentRejected(ctx, event); err != nil {
			ls.logger.Error("Failed to publish PaymentRejected event", zap.Error(err))
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, transition.ErrTerminalState):
		return "terminal"
	case errors.Is(err, transition.ErrInvalidTransition):
		return "invalid"
	default:
		return "other"
	}
}
