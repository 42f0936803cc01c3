package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfillment-core/internal/models"
)

// fakeStore implements Datastore in memory. Mutations are mutex-guarded so
// the concurrent sweep tests exercise the same first-writer-wins semantics
// the SQL store provides.
type fakeStore struct {
	mu        sync.Mutex
	variants  map[int64]*models.ProductVariant
	orders    map[int64]*models.Order
	items     []models.OrderItem
	payments  map[int64]*models.Payment
	movements []models.StockMovement
	processed map[string]bool

	nextOrderID    int64
	nextItemID     int64
	nextPaymentID  int64
	nextMovementID int64

	failItemsFor map[int64]error
	// onGetPaymentsByOrderID runs before the read, letting tests race a
	// writer against the auditor's re-validation.
	onGetPaymentsByOrderID func(orderID int64)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		variants:     map[int64]*models.ProductVariant{},
		orders:       map[int64]*models.Order{},
		payments:     map[int64]*models.Payment{},
		processed:    map[string]bool{},
		failItemsFor: map[int64]error{},
	}
}

func (f *fakeStore) addVariant(id, price int64, stock int) *models.ProductVariant {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := &models.ProductVariant{
		ID:    id,
		SKU:   fmt.Sprintf("SKU-%d", id),
		Name:  fmt.Sprintf("Variant %d", id),
		Price: price,
		Stock: stock,
	}
	f.variants[id] = v
	return v
}

func (f *fakeStore) addOrder(status string, total int64, createdAt time.Time, items ...models.OrderItem) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextOrderID++
	order := &models.Order{
		ID:          f.nextOrderID,
		CustomerID:  42,
		TotalAmount: total,
		Status:      status,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	f.orders[order.ID] = order
	for _, item := range items {
		f.nextItemID++
		item.ID = f.nextItemID
		item.OrderID = order.ID
		f.items = append(f.items, item)
	}
	return order
}

func (f *fakeStore) addPayment(orderID, amount int64, status string) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPaymentID++
	p := &models.Payment{
		ID:        f.nextPaymentID,
		OrderID:   orderID,
		MethodID:  1,
		Status:    status,
		Amount:    amount,
		CreatedAt: time.Unix(f.nextPaymentID, 0),
	}
	f.payments[p.ID] = p
	return p
}

func (f *fakeStore) stockOf(variantID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variants[variantID].Stock
}

func (f *fakeStore) orderStatus(orderID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[orderID].Status
}

func (f *fakeStore) movementsOf(orderID int64, kind string) []models.StockMovement {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StockMovement
	for _, m := range f.movements {
		if m.OrderID != nil && *m.OrderID == orderID && m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeStore) GetVariantByID(_ context.Context, id int64) (*models.ProductVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[id]
	if !ok {
		return nil, fmt.Errorf("variant not found: %d", id)
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) GetVariants(_ context.Context) ([]models.ProductVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ProductVariant
	for _, v := range f.variants {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetVariantsByIDs(_ context.Context, ids []int64) ([]models.ProductVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ProductVariant
	for _, id := range ids {
		if v, ok := f.variants[id]; ok {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (f *fakeStore) GetStock(_ context.Context, variantID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[variantID]
	if !ok {
		return 0, fmt.Errorf("variant not found: %d", variantID)
	}
	return v.Stock, nil
}

func (f *fakeStore) RecordMovement(_ context.Context, m *models.StockMovement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMovementID++
	m.ID = f.nextMovementID
	m.CreatedAt = time.Now()
	f.movements = append(f.movements, *m)
	return nil
}

func (f *fakeStore) AdjustStock(_ context.Context, variantID int64, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[variantID]
	if !ok {
		return fmt.Errorf("variant not found: %d", variantID)
	}
	v.Stock += delta
	return nil
}

func (f *fakeStore) DeductStockTx(_ context.Context, variantID int64, quantity int, actor string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[variantID]
	if !ok {
		return fmt.Errorf("variant not found: %d", variantID)
	}
	if v.Stock < quantity {
		return fmt.Errorf("insufficient stock: available=%d, requested=%d", v.Stock, quantity)
	}
	v.Stock -= quantity
	f.nextMovementID++
	oid := orderID
	f.movements = append(f.movements, models.StockMovement{
		ID:        f.nextMovementID,
		VariantID: variantID,
		Quantity:  -quantity,
		Kind:      models.MovementKindSale,
		Actor:     actor,
		OrderID:   &oid,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) CreateOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextOrderID++
	order.ID = f.nextOrderID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.IdempotencyKey == key && key != "" {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetOrders(_ context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetOrdersOlderThan(_ context.Context, status string, cutoff time.Time) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == status && o.CreatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) SetOrderStatusIfCurrent(_ context.Context, orderID int64, current, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != current {
		return false, nil
	}
	o.Status = next
	return true, nil
}

func (f *fakeStore) ExpirePendingOrder(_ context.Context, orderID int64, items []models.OrderItem, actor string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return 0, false, fmt.Errorf("order not found: %d", orderID)
	}
	if o.Status != models.OrderStatusPending {
		return 0, false, nil
	}
	o.Status = models.OrderStatusCancelled

	released := 0
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		f.nextMovementID++
		oid := orderID
		f.movements = append(f.movements, models.StockMovement{
			ID:        f.nextMovementID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Kind:      models.MovementKindRestock,
			Actor:     actor,
			OrderID:   &oid,
			CreatedAt: time.Now(),
		})
		if v, ok := f.variants[item.VariantID]; ok {
			v.Stock += item.Quantity
		}
		released += item.Quantity
	}
	return released, true, nil
}

func (f *fakeStore) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextItemID++
	item.ID = f.nextItemID
	f.items = append(f.items, *item)
	return nil
}

func (f *fakeStore) GetOrderLineItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failItemsFor[orderID]; ok {
		return nil, err
	}
	var out []models.OrderItem
	for _, item := range f.items {
		if item.OrderID == orderID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPaymentID++
	payment.ID = f.nextPaymentID
	payment.CreatedAt = time.Unix(f.nextPaymentID, 0)
	payment.UpdatedAt = payment.CreatedAt
	cp := *payment
	f.payments[payment.ID] = &cp
	return nil
}

func (f *fakeStore) GetPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment not found: %d", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetActivePayment(_ context.Context, orderID int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Payment
	for _, p := range f.payments {
		if p.OrderID != orderID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) GetPaymentsByOrderID(_ context.Context, orderID int64) ([]models.Payment, error) {
	if f.onGetPaymentsByOrderID != nil {
		f.onGetPaymentsByOrderID(orderID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetPayments(_ context.Context) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) SetPaymentStatus(_ context.Context, paymentID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment not found: %d", paymentID)
	}
	p.Status = status
	return nil
}

func (f *fakeStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID], nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

// fakePublisher implements Publisher, recording every published event.
type fakePublisher struct {
	mu         sync.Mutex
	cancelled  []*models.OrderCancelledEvent
	released   []*models.StockReleasedEvent
	placed     []*models.OrderPlacedEvent
	approved   []*models.PaymentApprovedEvent
	rejected   []*models.PaymentRejectedEvent
	violations []*models.ViolationsFoundEvent
	repaired   []*models.PaymentRepairedEvent
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *fakePublisher) PublishStockReleased(_ context.Context, e *models.StockReleasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, e)
	return nil
}

func (p *fakePublisher) PublishPaymentApproved(_ context.Context, e *models.PaymentApprovedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved = append(p.approved, e)
	return nil
}

func (p *fakePublisher) PublishPaymentRejected(_ context.Context, e *models.PaymentRejectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, e)
	return nil
}

func (p *fakePublisher) PublishViolationsFound(_ context.Context, e *models.ViolationsFoundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations = append(p.violations, e)
	return nil
}

func (p *fakePublisher) PublishPaymentRepaired(_ context.Context, e *models.PaymentRepairedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repaired = append(p.repaired, e)
	return nil
}

func (p *fakePublisher) cancelledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancelled)
}
