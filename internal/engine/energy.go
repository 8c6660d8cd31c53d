package engine

import (
	"errors"
	"fmt"
)

// DefaultEnergy is the default per-root dispatch budget.
const DefaultEnergy = 100000

// Energy tracks the dispatch budget of one root operation.
//
// A root operation (shout, process, delta, resumed continuation, timer)
// starts with a full budget. Nested shouts draw from the same budget. Each
// listener dispatch consumes one unit; once the budget is spent every
// further dispatch of that root is skipped. onAnyAction dispatches made
// while flushing a batch are free, so no action escapes interception.
//
// This bounds runaway listener chains (A shouts B shouts C ...) and
// self-recursive shouts alike, without aborting the scheduler or other
// roots.
type Energy struct {
	limit     int
	remaining int
	skipped   int
}

// NewEnergy creates a budget of limit dispatches.
func NewEnergy(limit int) *Energy {
	return &Energy{limit: limit, remaining: limit}
}

// Consume takes one unit. It returns false, and counts the skipped
// dispatch, once the budget is spent.
func (e *Energy) Consume() bool {
	if e.remaining <= 0 {
		e.skipped++
		return false
	}
	e.remaining--
	return true
}

// Remaining returns the units left.
func (e *Energy) Remaining() int {
	return e.remaining
}

// Used returns the units consumed so far.
func (e *Energy) Used() int {
	return e.limit - e.remaining
}

// Limit returns the budget.
func (e *Energy) Limit() int {
	return e.limit
}

// Exhausted reports whether any dispatch was skipped for lack of energy.
func (e *Energy) Exhausted() bool {
	return e.skipped > 0
}

// Err returns an EnergyExhaustedError when the budget ran out.
func (e *Energy) Err(root string) error {
	if !e.Exhausted() {
		return nil
	}
	return &EnergyExhaustedError{Root: root, Limit: e.limit, Skipped: e.skipped}
}

// EnergyExhaustedError reports a root operation that ran out of energy.
//
// It is logged and reflected in results (ShoutResult.Exhausted); it never
// propagates to the caller of the root operation.
type EnergyExhaustedError struct {
	Root    string // Root operation, e.g. "shout onClick"
	Limit   int    // Budget
	Skipped int    // Dispatches skipped
}

// Error implements the error interface.
func (e *EnergyExhaustedError) Error() string {
	return fmt.Sprintf("%s ran out of energy: limit %d, %d dispatches skipped",
		e.Root, e.Limit, e.Skipped)
}

// IsEnergyExhaustedError returns true if the error is an EnergyExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsEnergyExhaustedError(err error) bool {
	var ee *EnergyExhaustedError
	return errors.As(err, &ee)
}
