// Package transition holds the order and payment state graphs and the pure
// checks that gate every status write in the system. Nothing here touches
// storage: callers read current state, ask, then persist the change
// atomically with whatever compensating action it implies.
package transition

import "fulfillment-core/internal/models"

// orderNext and paymentNext are the allowed-edge sets, one adjacency set per
// source status. Anything absent is rejected, so adding a status is a data
// change, not new branching.
//
// returned has no incoming edge here: the returns subsystem that produces it
// lives outside this core, the same way refunds do. It still participates in
// validation as a terminal status.
var orderNext = map[string]map[string]bool{
	models.OrderStatusPending: {
		models.OrderStatusPreparing: true,
		models.OrderStatusCancelled: true,
	},
	models.OrderStatusPreparing: {
		models.OrderStatusCompleted: true,
		models.OrderStatusCancelled: true,
	},
	models.OrderStatusCompleted: {},
	models.OrderStatusCancelled: {},
	models.OrderStatusReturned:  {},
}

var paymentNext = map[string]map[string]bool{
	models.PaymentStatusPending: {
		models.PaymentStatusPendingApproval: true,
		models.PaymentStatusApproved:        true,
		models.PaymentStatusRejected:        true,
		models.PaymentStatusCancelled:       true,
	},
	models.PaymentStatusPendingApproval: {
		models.PaymentStatusApproved:  true,
		models.PaymentStatusRejected:  true,
		models.PaymentStatusCancelled: true,
	},
	models.PaymentStatusApproved:  {},
	models.PaymentStatusRejected:  {},
	models.PaymentStatusCancelled: {},
}

// CanTransitionOrder reports whether the order edge from -> to is legal.
func CanTransitionOrder(from, to string) bool {
	return orderNext[from][to]
}

// CanTransitionPayment reports whether the payment edge from -> to is legal.
func CanTransitionPayment(from, to string) bool {
	return paymentNext[from][to]
}

// CheckOrder is CanTransitionOrder with a classified error: ErrTerminalState
// when the source has no outgoing edges at all, ErrInvalidTransition for any
// other rejected edge.
func CheckOrder(from, to string) error {
	if orderNext[from][to] {
		return nil
	}
	if IsTerminalOrder(from) {
		return newTerminal(EntityOrder, from, to)
	}
	return newInvalid(EntityOrder, from, to)
}

// CheckPayment is CanTransitionPayment with a classified error.
func CheckPayment(from, to string) error {
	if paymentNext[from][to] {
		return nil
	}
	if IsTerminalPayment(from) {
		return newTerminal(EntityPayment, from, to)
	}
	return newInvalid(EntityPayment, from, to)
}

// IsTerminalOrder reports whether the order status has no outgoing edges.
func IsTerminalOrder(status string) bool {
	next, known := orderNext[status]
	return known && len(next) == 0
}

// IsTerminalPayment reports whether the payment status has no outgoing edges.
func IsTerminalPayment(status string) bool {
	next, known := paymentNext[status]
	return known && len(next) == 0
}

// IsInitialOrder reports whether the status is the one orders are born with.
func IsInitialOrder(status string) bool {
	return status == models.OrderStatusPending
}

// IsInitialPayment reports whether the status is the one payments are born with.
func IsInitialPayment(status string) bool {
	return status == models.PaymentStatusPending
}

// IsOrderInActiveJourney reports whether the order is still moving toward
// completion (neither terminal nor unknown).
func IsOrderInActiveJourney(status string) bool {
	next, known := orderNext[status]
	return known && len(next) > 0
}

// IsPaymentInActiveJourney reports whether the payment is still undecided.
func IsPaymentInActiveJourney(status string) bool {
	next, known := paymentNext[status]
	return known && len(next) > 0
}

// CanCancelOrder reports whether a cancellation edge exists from the status.
func CanCancelOrder(status string) bool {
	return orderNext[status][models.OrderStatusCancelled]
}

// CanCancelPayment reports whether a cancellation edge exists from the status.
func CanCancelPayment(status string) bool {
	return paymentNext[status][models.PaymentStatusCancelled]
}

// ValidateCombination enforces the cross-entity rules between an order and
// its active payment: an order may sit in preparing or completed only with an
// approved payment, and a cancelled order must not have an approved payment
// (refund paths are out of scope). Every other pair is a legal intermediate.
func ValidateCombination(orderStatus, paymentStatus string) bool {
	switch orderStatus {
	case models.OrderStatusPreparing, models.OrderStatusCompleted:
		return paymentStatus == models.PaymentStatusApproved
	case models.OrderStatusCancelled:
		return paymentStatus != models.PaymentStatusApproved
	default:
		return true
	}
}

// KnownOrderStatuses returns the closed order status vocabulary.
func KnownOrderStatuses() []string {
	out := make([]string, 0, len(orderNext))
	for s := range orderNext {
		out = append(out, s)
	}
	return out
}

// KnownPaymentStatuses returns the closed payment status vocabulary.
func KnownPaymentStatuses() []string {
	out := make([]string, 0, len(paymentNext))
	for s := range paymentNext {
		out = append(out, s)
	}
	return out
}

// IsKnownPaymentStatus reports whether the status is inside the closed
// vocabulary. The comparison is exact; the auditor normalizes case and
// whitespace before calling.
func IsKnownPaymentStatus(status string) bool {
	_, known := paymentNext[status]
	return known
}
