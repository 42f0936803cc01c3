package models

import "time"

// ProductVariant is a sellable SKU with its cached stock count. The count is
// a denormalization of the movement ledger and is reconciled against it.
type ProductVariant struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StockMovement is an immutable ledger entry. Rows are only appended —
// checkout writes sales, the reaper writes restocks, operators write
// adjustments.
type StockMovement struct {
	ID        int64     `db:"id" json:"id"`
	VariantID int64     `db:"variant_id" json:"variant_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Kind      string    `db:"kind" json:"kind"`
	Actor     string    `db:"actor" json:"actor"`
	OrderID   *int64    `db:"order_id" json:"order_id,omitempty"`
	Note      string    `db:"note" json:"note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Movement kinds
const (
	MovementKindSale       = "sale"
	MovementKindRestock    = "restock"
	MovementKindAdjustment = "adjustment"
)

// Order represents a customer order
type Order struct {
	ID             int64     `db:"id" json:"id"`
	CustomerID     int64     `db:"customer_id" json:"customer_id"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	Status         string    `db:"status" json:"status"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem represents one line of an order
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	VariantID int64 `db:"variant_id" json:"variant_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// Payment represents a payment row. At most one row per order is considered
// active; the auditor flags multiplicity as a violation.
type Payment struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	MethodID  int64     `db:"method_id" json:"method_id"`
	Status    string    `db:"status" json:"status"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusPreparing = "preparing"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusReturned  = "returned"
)

// Payment statuses
const (
	PaymentStatusPending         = "pending"
	PaymentStatusPendingApproval = "pending_approval"
	PaymentStatusApproved        = "approved"
	PaymentStatusRejected        = "rejected"
	PaymentStatusCancelled       = "cancelled"
)

// Violation types reported by the consistency auditor
const (
	ViolationOrderWithoutPayment      = "ORDER_WITHOUT_PAYMENT"
	ViolationMultiplePayments         = "MULTIPLE_PAYMENTS"
	ViolationPaymentNonpositiveAmount = "PAYMENT_NONPOSITIVE_AMOUNT"
	ViolationPaymentInvalidStatus     = "PAYMENT_INVALID_STATUS"
)

// Violation severities
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Violation is one audit finding. Findings are advisory: the underlying rows
// may have changed by the time an operator (or the auto-fixer) acts on them.
type Violation struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	OrderID   int64  `json:"order_id,omitempty"`
	PaymentID int64  `json:"payment_id,omitempty"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
