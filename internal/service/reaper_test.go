package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReaper(store *fakeStore, pub *fakePublisher) *ReservationReaper {
	return NewReservationReaper(store, nil, pub, 24*time.Hour)
}

func TestSweepReleasesExpiredOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 1000, 5)
	order := fs.addOrder(models.OrderStatusPending, 2000, now.Add(-25*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 2, UnitPrice: 1000})

	pub := &fakePublisher{}
	reaper := newTestReaper(fs, pub)

	result, err := reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{UnitsReleased: 2, OrdersCancelled: 1}, result)

	assert.Equal(t, models.OrderStatusCancelled, fs.orderStatus(order.ID))
	assert.Equal(t, 7, fs.stockOf(1))

	restocks := fs.movementsOf(order.ID, models.MovementKindRestock)
	require.Len(t, restocks, 1)
	assert.Equal(t, 2, restocks[0].Quantity)
	assert.Equal(t, "reaper", restocks[0].Actor)

	// cancellation notification and release report both published
	assert.Equal(t, 1, pub.cancelledCount())
	assert.Len(t, pub.released, 1)
	assert.Equal(t, 2, pub.released[0].UnitsReleased)

	// second sweep finds nothing: compensation happened exactly once
	result, err = reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, 7, fs.stockOf(1))
	assert.Len(t, fs.movementsOf(order.ID, models.MovementKindRestock), 1)
}

func TestSweepCutoffIsStrict(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 500, 0)

	// exactly at the cutoff: not expired
	atCutoff := fs.addOrder(models.OrderStatusPending, 500, now.Add(-24*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 1, UnitPrice: 500})

	reaper := newTestReaper(fs, &fakePublisher{})

	result, err := reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(atCutoff.ID))

	// one second past the cutoff: expired
	result, err = reaper.Sweep(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{UnitsReleased: 1, OrdersCancelled: 1}, result)
	assert.Equal(t, models.OrderStatusCancelled, fs.orderStatus(atCutoff.ID))
}

func TestSweepRefusesOrderWithApprovedPayment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 500, 0)
	order := fs.addOrder(models.OrderStatusPending, 500, now.Add(-48*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 1, UnitPrice: 500})
	payment := fs.addPayment(order.ID, 500, models.PaymentStatusApproved)

	reaper := newTestReaper(fs, &fakePublisher{})

	result, err := reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(order.ID))
	assert.Equal(t, 0, fs.stockOf(1))

	// the payment is left untouched
	p, err := fs.GetPaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusApproved, p.Status)
}

func TestSweepReapsOrderWithUnapprovedPayment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 500, 3)
	order := fs.addOrder(models.OrderStatusPending, 1000, now.Add(-30*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 2, UnitPrice: 500})
	payment := fs.addPayment(order.ID, 1000, models.PaymentStatusPendingApproval)

	reaper := newTestReaper(fs, &fakePublisher{})

	result, err := reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{UnitsReleased: 2, OrdersCancelled: 1}, result)
	assert.Equal(t, models.OrderStatusCancelled, fs.orderStatus(order.ID))
	assert.Equal(t, 5, fs.stockOf(1))

	// the reaper never writes payment status
	p, err := fs.GetPaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPendingApproval, p.Status)
}

func TestSweepRestoresEveryLine(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 100, 0)
	fs.addVariant(2, 200, 10)
	fs.addVariant(3, 300, 1)
	order := fs.addOrder(models.OrderStatusPending, 1400, now.Add(-25*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 3, UnitPrice: 100},
		models.OrderItem{VariantID: 2, Quantity: 4, UnitPrice: 200},
		models.OrderItem{VariantID: 3, Quantity: 1, UnitPrice: 300})

	reaper := newTestReaper(fs, &fakePublisher{})

	result, err := reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{UnitsReleased: 8, OrdersCancelled: 1}, result)

	assert.Equal(t, 3, fs.stockOf(1))
	assert.Equal(t, 14, fs.stockOf(2))
	assert.Equal(t, 2, fs.stockOf(3))
	assert.Len(t, fs.movementsOf(order.ID, models.MovementKindRestock), 3)
}

func TestSweepContinuesPastFailingOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 100, 0)
	broken := fs.addOrder(models.OrderStatusPending, 100, now.Add(-26*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 1, UnitPrice: 100})
	healthy := fs.addOrder(models.OrderStatusPending, 200, now.Add(-25*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 2, UnitPrice: 100})
	fs.failItemsFor[broken.ID] = errors.New("connection reset")

	reaper := newTestReaper(fs, &fakePublisher{})

	result, err := reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{UnitsReleased: 2, OrdersCancelled: 1}, result)
	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(broken.ID))
	assert.Equal(t, models.OrderStatusCancelled, fs.orderStatus(healthy.ID))
}

func TestConcurrentSweepsCompensateOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 100, 0)
	order := fs.addOrder(models.OrderStatusPending, 300, now.Add(-25*time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 3, UnitPrice: 100})

	pub := &fakePublisher{}
	reaper := newTestReaper(fs, pub)

	var wg sync.WaitGroup
	results := make([]SweepResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reaper.Sweep(ctx, now)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	totalCancelled := results[0].OrdersCancelled + results[1].OrdersCancelled
	totalReleased := results[0].UnitsReleased + results[1].UnitsReleased
	assert.Equal(t, 1, totalCancelled)
	assert.Equal(t, 3, totalReleased)

	// exactly one compensating movement and one stock increase
	assert.Equal(t, 3, fs.stockOf(1))
	assert.Len(t, fs.movementsOf(order.ID, models.MovementKindRestock), 1)
	assert.Equal(t, 1, pub.cancelledCount())
}

func TestSweepIgnoresFreshOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fs := newFakeStore()
	fs.addVariant(1, 100, 0)
	fresh := fs.addOrder(models.OrderStatusPending, 100, now.Add(-time.Hour),
		models.OrderItem{VariantID: 1, Quantity: 1, UnitPrice: 100})

	reaper := newTestReaper(fs, &fakePublisher{})

	result, err := reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(fresh.ID))
}
