package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-core/internal/models"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, total_amount, status, idempotency_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.CustomerID, order.TotalAmount, order.Status, order.IdempotencyKey)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrders retrieves all orders
func (s *Store) GetOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY id")
	return orders, err
}

// GetOrdersOlderThan retrieves orders in a status created strictly before the
// cutoff.
func (s *Store) GetOrdersOlderThan(ctx context.Context, status string, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at",
		status, cutoff)
	return orders, err
}

// SetOrderStatusIfCurrent performs a conditional status update and reports
// whether this caller won the write. Zero rows affected means another writer
// moved the order first.
func (s *Store) SetOrderStatusIfCurrent(ctx context.Context, orderID int64, current, next string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		next, orderID, current)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpirePendingOrder cancels a pending order and appends its compensating
// restock movements in one transaction. The conditional status update is the
// serialization point: when it matches zero rows another writer already moved
// the order, the transaction rolls back and no stock is touched. Otherwise
// the restock legs and the cancellation commit together, so neither is ever
// final without the other.
func (s *Store) ExpirePendingOrder(ctx context.Context, orderID int64, items []models.OrderItem, actor string) (released int, won bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.OrderStatusCancelled, orderID, models.OrderStatusPending)
	if err != nil {
		return 0, false, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (variant_id, quantity, kind, actor, order_id, note)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.VariantID, item.Quantity, models.MovementKindRestock, actor, orderID,
			"reservation expired")
		if err != nil {
			return 0, false, fmt.Errorf("failed to record restock for variant %d: %w", item.VariantID, err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE product_variants SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
			item.Quantity, item.VariantID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to restore stock for variant %d: %w", item.VariantID, err)
		}

		released += item.Quantity
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return released, true, nil
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.db.GetContext(ctx, &item.ID, query,
		item.OrderID, item.VariantID, item.Quantity, item.UnitPrice)
}

// GetOrderLineItems retrieves all line items for an order
func (s *Store) GetOrderLineItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, method_id, status, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.MethodID, payment.Status, payment.Amount)
}

// GetPaymentByID retrieves a payment by ID
func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetActivePayment retrieves the authoritative payment row for an order: the
// most recent one. Returns nil when the order has no payment.
func (s *Store) GetActivePayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentsByOrderID retrieves every payment row for an order
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at", orderID)
	return payments, err
}

// GetPayments retrieves all payment rows
func (s *Store) GetPayments(ctx context.Context) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments, "SELECT * FROM payments ORDER BY id")
	return payments, err
}

// SetPaymentStatus updates payment status
func (s *Store) SetPaymentStatus(ctx context.Context, paymentID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		status, paymentID)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
