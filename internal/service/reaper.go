package service

import (
	"context"
	"time"

	"fulfillment-core/internal/models"
	"fulfillment-core/internal/transition"
	"fulfillment-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationReaper releases stock held by unpaid orders once their
// reservation window lapses and drives those orders to cancelled. It runs
// inline before every checkout attempt and on the background schedule; both
// call sites share the same idempotency guarantee, so overlapping sweeps are
// safe.
type ReservationReaper struct {
	store     Datastore
	ledger    *StockLedger
	publisher Publisher
	ttl       time.Duration
	logger    *zap.Logger
}

// SweepResult carries the best-effort counts of one sweep
type SweepResult struct {
	UnitsReleased   int `json:"units_released"`
	OrdersCancelled int `json:"orders_cancelled"`
}

// NewReservationReaper creates a new reservation reaper
func NewReservationReaper(store Datastore, ledger *StockLedger, publisher Publisher, ttl time.Duration) *ReservationReaper {
	return &ReservationReaper{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		ttl:       ttl,
		logger:    util.GetLogger(),
	}
}

// Sweep cancels every pending order created strictly before now minus the
// reservation window whose payment is absent or not approved, restoring its
// reserved stock through compensating restock movements. Per-order failures
// are logged and skipped; the counts returned cover what actually committed.
func (r *ReservationReaper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationReaper.Sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult

	cutoff := now.Add(-r.ttl)
	orders, err := r.store.GetOrdersOlderThan(ctx, models.OrderStatusPending, cutoff)
	if err != nil {
		util.SweepErrorsTotal.WithLabelValues("scan").Inc()
		return result, err
	}

	for _, order := range orders {
		released, cancelled := r.reapOrder(ctx, order)
		result.UnitsReleased += released
		if cancelled {
			result.OrdersCancelled++
		}
	}

	if result.OrdersCancelled > 0 {
		r.logger.Info("Sweep completed",
			zap.Int("orders_cancelled", result.OrdersCancelled),
			zap.Int("units_released", result.UnitsReleased))
	}

	return result, nil
}

// reapOrder expires a single order. The conditional pending -> cancelled
// write inside ExpirePendingOrder is the serialization point: when two sweeps
// race over the same order, exactly one wins and the loser touches no stock.
func (r *ReservationReaper) reapOrder(ctx context.Context, order models.Order) (released int, cancelled bool) {
	var payment *models.Payment
	err := withRetry(func() error {
		var e error
		payment, e = r.store.GetActivePayment(ctx, order.ID)
		return e
	})
	if err != nil {
		util.SweepErrorsTotal.WithLabelValues("payment_lookup").Inc()
		r.logger.Error("Failed to load payment for expired order",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return 0, false
	}

	if payment != nil && payment.Status == models.PaymentStatusApproved {
		// An approved payment means the order is funded; cancellation is
		// refused and the order is left for the normal flow to advance.
		r.logger.Warn("Skipping expired order with approved payment",
			zap.Int64("order_id", order.ID),
			zap.Int64("payment_id", payment.ID))
		return 0, false
	}

	if !transition.CanCancelOrder(order.Status) {
		return 0, false
	}

	var items []models.OrderItem
	err = withRetry(func() error {
		var e error
		items, e = r.store.GetOrderLineItems(ctx, order.ID)
		return e
	})
	if err != nil {
		util.SweepErrorsTotal.WithLabelValues("items_lookup").Inc()
		r.logger.Error("Failed to load line items for expired order",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return 0, false
	}

	released, won, err := r.store.ExpirePendingOrder(ctx, order.ID, items, "reaper")
	if err != nil {
		util.SweepErrorsTotal.WithLabelValues("expire").Inc()
		r.logger.Error("Failed to expire order",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return 0, false
	}
	if !won {
		// Another writer moved the order first; nothing was compensated.
		return 0, false
	}

	util.OrdersExpiredTotal.Inc()
	util.UnitsReleasedTotal.Add(float64(released))

	itemData := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		if r.ledger != nil {
			r.ledger.RestoreCached(ctx, item.VariantID, item.Quantity)
		}
		itemData = append(itemData, models.OrderItemData{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	r.logger.Info("Expired reservation released",
		zap.Int64("order_id", order.ID),
		zap.Int("units_released", released))

	r.publishExpiry(ctx, order, released, itemData)
	return released, true
}

func (r *ReservationReaper) publishExpiry(ctx context.Context, order models.Order, released int, items []models.OrderItemData) {
	if r.publisher == nil {
		return
	}

	cancelEvent := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Reason:     "reservation_expired",
	}
	if err := r.publisher.PublishOrderCancelled(ctx, cancelEvent); err != nil {
		r.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	releaseEvent := &models.StockReleasedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockReleased,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UnitsReleased: released,
		Items:         items,
	}
	if err := r.publisher.PublishStockReleased(ctx, releaseEvent); err != nil {
		r.logger.Error("Failed to publish StockReleased event", zap.Error(err))
	}
}
