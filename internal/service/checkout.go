package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-core/internal/models"
	"fulfillment-core/internal/transition"
	"fulfillment-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutService handles order placement. Stock is deducted at checkout,
// before payment confirmation; the resulting pending order holds the
// reservation until payment approval or until the reaper releases it.
type CheckoutService struct {
	store     Datastore
	ledger    *StockLedger
	publisher Publisher
	reaper    *ReservationReaper
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(store Datastore, ledger *StockLedger, publisher Publisher, reaper *ReservationReaper) *CheckoutService {
	return &CheckoutService{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		reaper:    reaper,
		logger:    util.GetLogger(),
	}
}

// PlaceOrderRequest represents a checkout attempt
type PlaceOrderRequest struct {
	CustomerID     int64              `json:"customer_id" binding:"required"`
	Items          []OrderLineRequest `json:"items" binding:"required,min=1"`
	MethodID       int64              `json:"method_id" binding:"required"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderLineRequest represents one requested line
type OrderLineRequest struct {
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// PlaceOrderResponse represents the response after checkout
type PlaceOrderResponse struct {
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id,omitempty"`
	Status    string `json:"status"`
}

// PlaceOrder creates a pending order with its stock deducted and a pending
// payment alongside. Expired reservations are swept first so their stock is
// sellable again before availability is checked.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	if s.reaper != nil {
		if _, err := s.reaper.Sweep(ctx, time.Now()); err != nil {
			s.logger.Error("Pre-checkout sweep failed", zap.Error(err))
		}
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existingOrder, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existingOrder != nil {
		s.logger.Info("Duplicate checkout request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existingOrder.ID))
		return &PlaceOrderResponse{
			OrderID: existingOrder.ID,
			Status:  existingOrder.Status,
		}, nil
	}

	variants, err := s.validateItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	totalAmount := s.calculateTotal(req.Items, variants)

	order := &models.Order{
		CustomerID:     req.CustomerID,
		TotalAmount:    totalAmount,
		Status:         models.OrderStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.deductLines(ctx, order, req.Items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, err
	}

	payment, err := s.CreatePendingPayment(ctx, order.ID, req.MethodID, totalAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.Int64("total_amount", totalAmount))

	s.publishPlaced(ctx, order, req.Items, variants)

	return &PlaceOrderResponse{
		OrderID:   order.ID,
		PaymentID: payment.ID,
		Status:    order.Status,
	}, nil
}

// deductLines creates the order lines and deducts their stock, one sale
// movement per line. A failed line rolls the already-deducted ones back via
// the same compensating path the reaper uses, cancelling the order.
func (s *CheckoutService) deductLines(ctx context.Context, order *models.Order, items []OrderLineRequest) error {
	var deducted []models.OrderItem

	for _, line := range items {
		variant, err := s.store.GetVariantByID(ctx, line.VariantID)
		if err != nil {
			s.rollbackLines(ctx, order, deducted)
			return err
		}

		orderItem := &models.OrderItem{
			OrderID:   order.ID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: variant.Price,
		}
		if err := s.store.CreateOrderItem(ctx, orderItem); err != nil {
			s.rollbackLines(ctx, order, deducted)
			return fmt.Errorf("failed to create order item: %w", err)
		}

		if err := s.store.DeductStockTx(ctx, line.VariantID, line.Quantity, "checkout", order.ID); err != nil {
			util.StockDeductFailedTotal.WithLabelValues("insufficient").Inc()
			s.rollbackLines(ctx, order, deducted)
			return fmt.Errorf("failed to deduct stock for variant %d: %w", line.VariantID, err)
		}

		if s.ledger != nil {
			s.ledger.DeductCached(ctx, line.VariantID, line.Quantity)
		}
		deducted = append(deducted, *orderItem)
	}

	return nil
}

// rollbackLines compensates the lines already deducted for a checkout that
// failed partway, cancelling the order with the deducted lines restocked.
func (s *CheckoutService) rollbackLines(ctx context.Context, order *models.Order, deducted []models.OrderItem) {
	_, won, err := s.store.ExpirePendingOrder(ctx, order.ID, deducted, "checkout")
	if err != nil {
		s.logger.Error("Failed to roll back partial checkout",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}
	if won && s.ledger != nil {
		for _, item := range deducted {
			s.ledger.RestoreCached(ctx, item.VariantID, item.Quantity)
		}
	}
}

// CreatePendingPayment creates a payment row in its initial status. This is
// the single payment-creation path: checkout uses it, and the auditor's
// repair goes through it too, so creation-time invariants hold either way.
func (s *CheckoutService) CreatePendingPayment(ctx context.Context, orderID, methodID, amount int64) (*models.Payment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %d", amount)
	}

	payment := &models.Payment{
		OrderID:  orderID,
		MethodID: methodID,
		Status:   models.PaymentStatusPending,
		Amount:   amount,
	}
	if !transition.IsInitialPayment(payment.Status) {
		return nil, fmt.Errorf("payment must be created in its initial status")
	}

	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// validateItems validates that all variants exist and quantities are positive
func (s *CheckoutService) validateItems(ctx context.Context, items []OrderLineRequest) (map[int64]*models.ProductVariant, error) {
	variantIDs := make([]int64, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive for variant %d", item.VariantID)
		}
		variantIDs[i] = item.VariantID
	}

	variants, err := s.store.GetVariantsByIDs(ctx, variantIDs)
	if err != nil {
		return nil, err
	}

	if len(variants) != len(items) {
		return nil, fmt.Errorf("some variants not found")
	}

	variantMap := make(map[int64]*models.ProductVariant)
	for i := range variants {
		variantMap[variants[i].ID] = &variants[i]
	}

	return variantMap, nil
}

// calculateTotal calculates the total amount for an order
func (s *CheckoutService) calculateTotal(items []OrderLineRequest, variants map[int64]*models.ProductVariant) int64 {
	var total int64
	for _, item := range items {
		variant := variants[item.VariantID]
		total += variant.Price * int64(item.Quantity)
	}
	return total
}

// GetOrderReport retrieves an order with its lines, payments and movements
func (s *CheckoutService) GetOrderReport(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, []models.Payment, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}

	items, err := s.store.GetOrderLineItems(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}

	payments, err := s.store.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}

	return order, items, payments, nil
}

func (s *CheckoutService) publishPlaced(ctx context.Context, order *models.Order, items []OrderLineRequest, variants map[int64]*models.ProductVariant) {
	if s.publisher == nil {
		return
	}

	itemData := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		itemData = append(itemData, models.OrderItemData{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: variants[item.VariantID].Price,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		Items:       itemData,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}
