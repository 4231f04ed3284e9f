package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// Sentinels are matched with errors.Is; the typed errors below carry the
// details and unwrap to the matching sentinel.
// -----------------------------------------------------------------------------

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrExecution    = errors.New("execution failed")
	ErrUnavailable  = errors.New("service unavailable")
)

// NotFoundError reports a missing exercise, directory or record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError reports malformed input to an API-facing operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ExecutionError wraps a failure raised by the execution capability.
// The gateway converts it into a non-success result instead of returning it.
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	if e.Cause == nil {
		return ErrExecution.Error()
	}
	return fmt.Sprintf("execution failed: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}
