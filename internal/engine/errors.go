package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected by the scheduler.
//
// RuntimeError includes structured fields for diagnostics and logging.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying error, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeEnergyExhausted indicates a root operation ran out of energy.
	ErrCodeEnergyExhausted RuntimeErrorCode = "ENERGY_EXHAUSTED"

	// ErrCodeTaskNotFound indicates a resolution for an unknown task id.
	ErrCodeTaskNotFound RuntimeErrorCode = "TASK_NOT_FOUND"

	// ErrCodeBotNotFound indicates a script addressed a missing bot.
	ErrCodeBotNotFound RuntimeErrorCode = "BOT_NOT_FOUND"

	// ErrCodeTornDown indicates the scheduler was torn down.
	ErrCodeTornDown RuntimeErrorCode = "TORN_DOWN"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsEnergyError returns true if the error reports energy exhaustion.
// Matches both RuntimeError with ErrCodeEnergyExhausted and EnergyExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsEnergyError(err error) bool {
	var ee *EnergyExhaustedError
	return hasCode(err, ErrCodeEnergyExhausted) || errors.As(err, &ee)
}

// IsTaskNotFound returns true if the error names an unknown task.
func IsTaskNotFound(err error) bool {
	return hasCode(err, ErrCodeTaskNotFound)
}

// IsTornDown returns true if the error reports a torn down scheduler.
func IsTornDown(err error) bool {
	return hasCode(err, ErrCodeTornDown)
}

// ErrTornDown is returned by root operations after Teardown.
var ErrTornDown = &RuntimeError{Code: ErrCodeTornDown, Message: "scheduler has been torn down"}

// NewTaskNotFoundError reports a resolution for an unknown task.
func NewTaskNotFoundError(taskID int64) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTaskNotFound,
		Message: fmt.Sprintf("no pending task %d", taskID),
		Details: map[string]string{"task_id": fmt.Sprintf("%d", taskID)},
	}
}

// NewBotNotFoundError reports a script addressing a missing bot.
func NewBotNotFoundError(botID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBotNotFound,
		Message: fmt.Sprintf("bot %s not found", botID),
	}
}
