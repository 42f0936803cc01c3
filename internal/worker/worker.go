package worker

import (
	"context"
	"log"
	"time"

	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/service"
)

// LockManager guards the scheduled sweep so replicas don't scan concurrently.
// Overlap is safe (the expire write is idempotent) but wasteful.
type LockManager interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

const sweepLockKey = "reservation-sweep"

// SweepWorker runs the reservation reaper on a fixed schedule, in addition
// to the inline pre-checkout sweeps.
type SweepWorker struct {
	reaper   *service.ReservationReaper
	locks    LockManager
	interval time.Duration
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(reaper *service.ReservationReaper, locks LockManager, interval time.Duration) *SweepWorker {
	return &SweepWorker{
		reaper:   reaper,
		locks:    locks,
		interval: interval,
	}
}

// Run loops until the context is cancelled
func (w *SweepWorker) Run(ctx context.Context) {
	log.Printf("Starting sweep worker, interval=%s", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweep worker stopped")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *SweepWorker) sweepOnce(ctx context.Context) {
	if w.locks != nil {
		got, err := w.locks.AcquireLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			log.Printf("Sweep lock error: %v", err)
			return
		}
		if !got {
			return
		}
		defer func() {
			if err := w.locks.ReleaseLock(ctx, sweepLockKey); err != nil {
				log.Printf("Sweep unlock error: %v", err)
			}
		}()
	}

	result, err := w.reaper.Sweep(ctx, time.Now())
	if err != nil {
		log.Printf("Scheduled sweep error: %v", err)
		return
	}
	if result.OrdersCancelled > 0 {
		log.Printf("Scheduled sweep: cancelled=%d, released=%d",
			result.OrdersCancelled, result.UnitsReleased)
	}
}

// AuditWorker runs the consistency auditor on a fixed schedule
type AuditWorker struct {
	auditor  *service.ConsistencyAuditor
	interval time.Duration
	autoFix  bool
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(auditor *service.ConsistencyAuditor, interval time.Duration, autoFix bool) *AuditWorker {
	return &AuditWorker{
		auditor:  auditor,
		interval: interval,
		autoFix:  autoFix,
	}
}

// Run loops until the context is cancelled
func (w *AuditWorker) Run(ctx context.Context) {
	log.Printf("Starting audit worker, interval=%s, auto_fix=%t", w.interval, w.autoFix)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Audit worker stopped")
			return
		case <-ticker.C:
			report, err := w.auditor.Audit(ctx, w.autoFix)
			if err != nil {
				log.Printf("Scheduled audit error: %v", err)
				continue
			}
			if len(report.Violations) > 0 {
				log.Printf("Scheduled audit: violations=%d, repaired=%d",
					len(report.Violations), report.Repaired)
			}
		}
	}
}

// LifecycleWorker consumes payment events and advances the matching orders
// through the validated transition path.
type LifecycleWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewLifecycleWorker creates a new lifecycle worker
func NewLifecycleWorker(consumer *broker.Consumer, lifecycle *service.LifecycleService) *LifecycleWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentApproved(lifecycle.HandlePaymentApproved)
	eventHandler.OnPaymentRejected(lifecycle.HandlePaymentRejected)
	eventHandler.OnOrderCancelled(lifecycle.HandleOrderCancelled)

	return &LifecycleWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *LifecycleWorker) Start(ctx context.Context) error {
	log.Println("Starting lifecycle worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LifecycleWorker) Stop() error {
	log.Println("Stopping lifecycle worker...")
	return w.consumer.Close()
}
