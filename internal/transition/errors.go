package transition

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification with errors.Is. Callers translate them
// into user-facing messages elsewhere; this package only classifies.
var (
	// ErrInvalidTransition marks a requested edge absent from the graph.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTerminalState marks a transition requested out of a terminal
	// status. Kept distinct from ErrInvalidTransition so callers can tell
	// "already finished" apart from "illegal jump".
	ErrTerminalState = errors.New("entity is in a terminal state")
)

// Entity names used in transition errors
const (
	EntityOrder   = "order"
	EntityPayment = "payment"
)

// TransitionError carries the rejected edge for logging and reports.
type TransitionError struct {
	Entity string
	From   string
	To     string
	reason error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s transition %s -> %s: %v", e.Entity, e.From, e.To, e.reason)
}

func (e *TransitionError) Unwrap() error {
	return e.reason
}

func newInvalid(entity, from, to string) *TransitionError {
	return &TransitionError{Entity: entity, From: from, To: to, reason: ErrInvalidTransition}
}

func newTerminal(entity, from, to string) *TransitionError {
	return &TransitionError{Entity: entity, From: from, To: to, reason: ErrTerminalState}
}
