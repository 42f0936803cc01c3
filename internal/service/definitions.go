package service

import (
	"context"
	"time"

	"fulfillment-core/internal/models"
)

// Datastore is the slice of the persistent store the services consume.
// *store.Store satisfies it; tests substitute an in-memory fake.
type Datastore interface {
	GetVariantByID(ctx context.Context, id int64) (*models.ProductVariant, error)
	GetVariants(ctx context.Context) ([]models.ProductVariant, error)
	GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.ProductVariant, error)
	GetStock(ctx context.Context, variantID int64) (int, error)
	RecordMovement(ctx context.Context, m *models.StockMovement) error
	AdjustStock(ctx context.Context, variantID int64, delta int) error
	DeductStockTx(ctx context.Context, variantID int64, quantity int, actor string, orderID int64) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	GetOrdersOlderThan(ctx context.Context, status string, cutoff time.Time) ([]models.Order, error)
	SetOrderStatusIfCurrent(ctx context.Context, orderID int64, current, next string) (bool, error)
	ExpirePendingOrder(ctx context.Context, orderID int64, items []models.OrderItem, actor string) (released int, won bool, err error)

	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderLineItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetActivePayment(ctx context.Context, orderID int64) (*models.Payment, error)
	GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error)
	GetPayments(ctx context.Context) ([]models.Payment, error)
	SetPaymentStatus(ctx context.Context, paymentID int64, status string) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Publisher is the slice of the event publisher the services consume.
// *broker.EventPublisher satisfies it.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishStockReleased(ctx context.Context, event *models.StockReleasedEvent) error
	PublishPaymentApproved(ctx context.Context, event *models.PaymentApprovedEvent) error
	PublishPaymentRejected(ctx context.Context, event *models.PaymentRejectedEvent) error
	PublishViolationsFound(ctx context.Context, event *models.ViolationsFoundEvent) error
	PublishPaymentRepaired(ctx context.Context, event *models.PaymentRepairedEvent) error
}

// StockCache is the cached-stock surface of the redis client.
// *redisclient.Client satisfies it. A nil cache degrades to DB-only.
type StockCache interface {
	DeductStock(ctx context.Context, variantID int64, quantity int) (bool, error)
	RestoreStock(ctx context.Context, variantID int64, quantity int) error
	InitStock(ctx context.Context, variantID int64, stock int) error
	GetStock(ctx context.Context, variantID int64) (int, error)
}

// PaymentCreator is the normal-flow payment creation API. The auditor's
// repair path goes through it so repairs obey the same creation invariants
// as organic checkouts. *CheckoutService satisfies it.
type PaymentCreator interface {
	CreatePendingPayment(ctx context.Context, orderID, methodID, amount int64) (*models.Payment, error)
}

// withRetry runs fn and retries it once on failure. Transient store failures
// are retried at the granularity of a single order or line item and must
// never abort the surrounding batch.
func withRetry(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}
