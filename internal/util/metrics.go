package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed through checkout",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed checkout attempts",
	}, []string{"reason"})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of stale orders cancelled by the reaper",
	})

	UnitsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_units_released_total",
		Help: "Total stock units returned to sale by the reaper",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reaper_sweep_duration_seconds",
		Help:    "Duration of reservation reaper sweeps",
		Buckets: prometheus.DefBuckets,
	})

	SweepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reaper_sweep_errors_total",
		Help: "Total per-order failures during sweeps",
	}, []string{"stage"})

	ViolationsDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_violations_detected_total",
		Help: "Total invariant violations detected by the auditor",
	}, []string{"type"})

	ViolationsRepairedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_violations_repaired_total",
		Help: "Total violations auto-repaired by the auditor",
	})

	AuditDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audit_duration_seconds",
		Help:    "Duration of consistency audit passes",
		Buckets: prometheus.DefBuckets,
	})

	TransitionsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "status_transitions_applied_total",
		Help: "Total validated status transitions applied",
	}, []string{"entity"})

	TransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "status_transitions_rejected_total",
		Help: "Total status transitions rejected by the validator",
	}, []string{"entity", "reason"})

	StockDeductFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_deductions_failed_total",
		Help: "Total failed stock deductions",
	}, []string{"reason"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
