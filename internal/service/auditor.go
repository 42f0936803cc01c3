package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fulfillment-core/internal/models"
	"fulfillment-core/internal/transition"
	"fulfillment-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Payments repaired by the auditor carry this method id until an operator
// assigns the real one; method adjudication is not the auditor's call.
const repairMethodID = 0

// ConsistencyAuditor scans persisted orders and payments for invariant
// violations. It reads an unlocked snapshot, so findings are advisory; the
// only repair it performs autonomously is re-validated immediately before it
// is applied and goes through the normal payment-creation API.
type ConsistencyAuditor struct {
	store     Datastore
	payments  PaymentCreator
	publisher Publisher
	logger    *zap.Logger
}

// AuditReport is the outcome of one audit pass
type AuditReport struct {
	Violations []models.Violation `json:"violations"`
	Repaired   int                `json:"repaired"`
}

// NewConsistencyAuditor creates a new consistency auditor
func NewConsistencyAuditor(store Datastore, payments PaymentCreator, publisher Publisher) *ConsistencyAuditor {
	return &ConsistencyAuditor{
		store:     store,
		payments:  payments,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Audit runs the four invariant checks over all orders and payments.
// Detection is idempotent: without intervening writes, two passes report the
// identical violation set. With autoFix set, missing payments are created;
// every other category needs human adjudication and is only reported.
func (a *ConsistencyAuditor) Audit(ctx context.Context, autoFix bool) (*AuditReport, error) {
	ctx, span := util.StartSpan(ctx, "ConsistencyAuditor.Audit")
	defer span.End()

	start := time.Now()
	defer func() {
		util.AuditDuration.Observe(time.Since(start).Seconds())
	}()

	orders, err := a.store.GetOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}
	payments, err := a.store.GetPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}

	byOrder := make(map[int64][]models.Payment)
	for _, p := range payments {
		byOrder[p.OrderID] = append(byOrder[p.OrderID], p)
	}

	report := &AuditReport{Violations: []models.Violation{}}

	for _, order := range orders {
		rows := byOrder[order.ID]

		if order.TotalAmount > 0 && len(rows) == 0 {
			report.Violations = append(report.Violations, models.Violation{
				Type:     models.ViolationOrderWithoutPayment,
				Severity: models.SeverityCritical,
				Message: fmt.Sprintf("order %d has total %d but no payment row",
					order.ID, order.TotalAmount),
				OrderID: order.ID,
			})
			if autoFix {
				if a.repairMissingPayment(ctx, order) {
					report.Repaired++
				}
			}
		}

		if len(rows) > 1 {
			report.Violations = append(report.Violations, models.Violation{
				Type:     models.ViolationMultiplePayments,
				Severity: models.SeverityHigh,
				Message: fmt.Sprintf("order %d has %d payment rows, expected at most one",
					order.ID, len(rows)),
				OrderID: order.ID,
			})
		}
	}

	for _, payment := range payments {
		if payment.Amount <= 0 {
			report.Violations = append(report.Violations, models.Violation{
				Type:     models.ViolationPaymentNonpositiveAmount,
				Severity: models.SeverityMedium,
				Message: fmt.Sprintf("payment %d has non-positive amount %d",
					payment.ID, payment.Amount),
				OrderID:   payment.OrderID,
				PaymentID: payment.ID,
			})
		}

		normalized := strings.ToLower(strings.TrimSpace(payment.Status))
		if !transition.IsKnownPaymentStatus(normalized) {
			report.Violations = append(report.Violations, models.Violation{
				Type:     models.ViolationPaymentInvalidStatus,
				Severity: models.SeverityMedium,
				Message: fmt.Sprintf("payment %d has status %q outside the known vocabulary",
					payment.ID, payment.Status),
				OrderID:   payment.OrderID,
				PaymentID: payment.ID,
			})
		}
	}

	for _, v := range report.Violations {
		util.ViolationsDetectedTotal.WithLabelValues(v.Type).Inc()
	}

	if len(report.Violations) > 0 {
		a.logger.Warn("Audit found violations",
			zap.Int("violations", len(report.Violations)),
			zap.Int("repaired", report.Repaired))
		a.publishReport(ctx, report)
	}

	return report, nil
}

// repairMissingPayment re-validates the finding against a fresh read and, if
// it still holds, creates the missing pending payment for the full total
// through the normal creation path.
func (a *ConsistencyAuditor) repairMissingPayment(ctx context.Context, order models.Order) bool {
	if a.payments == nil {
		return false
	}

	// The scan read an unlocked snapshot; another writer may have created
	// the payment since.
	current, err := a.store.GetPaymentsByOrderID(ctx, order.ID)
	if err != nil {
		a.logger.Error("Failed to re-validate missing payment",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return false
	}
	if len(current) > 0 {
		return false
	}

	payment, err := a.payments.CreatePendingPayment(ctx, order.ID, repairMethodID, order.TotalAmount)
	if err != nil {
		a.logger.Error("Failed to repair missing payment",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return false
	}

	util.ViolationsRepairedTotal.Inc()
	a.logger.Info("Missing payment repaired",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.Int64("amount", payment.Amount))

	if a.publisher != nil {
		event := &models.PaymentRepairedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentRepaired,
				Timestamp: time.Now(),
			},
			OrderID:   order.ID,
			PaymentID: payment.ID,
			Amount:    payment.Amount,
		}
		if err := a.publisher.PublishPaymentRepaired(ctx, event); err != nil {
			a.logger.Error("Failed to publish PaymentRepaired event", zap.Error(err))
		}
	}

	return true
}

func (a *ConsistencyAuditor) publishReport(ctx context.Context, report *AuditReport) {
	if a.publisher == nil {
		return
	}

	event := &models.ViolationsFoundEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeViolationsFound,
			Timestamp: time.Now(),
		},
		Violations: report.Violations,
		Repaired:   report.Repaired,
	}
	if err := a.publisher.PublishViolationsFound(ctx, event); err != nil {
		a.logger.Error("Failed to publish ViolationsFound event", zap.Error(err))
	}
}
