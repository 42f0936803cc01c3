package models

import "time"

// Event types
const (
	EventTypeOrderPlaced     = "ORDER_PLACED"
	EventTypeOrderCancelled  = "ORDER_CANCELLED"
	EventTypeStockReleased   = "STOCK_RELEASED"
	EventTypePaymentApproved = "PAYMENT_APPROVED"
	EventTypePaymentRejected = "PAYMENT_REJECTED"
	EventTypeViolationsFound = "VIOLATIONS_FOUND"
	EventTypePaymentRepaired = "PAYMENT_REPAIRED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when checkout creates an order
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	CustomerID  int64           `json:"customer_id"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderCancelledEvent published when an order reaches cancelled. The
// notification collaborator consumes it; this core guarantees the publish,
// not the delivery.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	CustomerID int64  `json:"customer_id"`
	Reason     string `json:"reason"`
}

// StockReleasedEvent published after the reaper commits compensating
// movements for an expired order.
type StockReleasedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UnitsReleased int             `json:"units_released"`
	Items         []OrderItemData `json:"items"`
}

// PaymentApprovedEvent published when a payment transitions to approved
type PaymentApprovedEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	PaymentID int64 `json:"payment_id"`
	Amount    int64 `json:"amount"`
}

// PaymentRejectedEvent published when a payment transitions to rejected
type PaymentRejectedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}

// ViolationsFoundEvent published after an audit pass with findings
type ViolationsFoundEvent struct {
	BaseEvent
	Violations []Violation `json:"violations"`
	Repaired   int         `json:"repaired"`
}

// PaymentRepairedEvent published when the auditor auto-creates a missing
// payment row.
type PaymentRepairedEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	PaymentID int64 `json:"payment_id"`
	Amount    int64 `json:"amount"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
