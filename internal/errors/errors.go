package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Strata error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400 (validation)
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrInvalidState   ErrorCode = "INVALID_STATE"   // 409
	ErrImmutableState ErrorCode = "IMMUTABLE_STATE" // 409
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrAlreadyExists  ErrorCode = "ALREADY_EXISTS"  // 409
	ErrPartialFailure ErrorCode = "PARTIAL_FAILURE" // 207
	ErrStorage        ErrorCode = "STORAGE_ERROR"   // 500
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// StrataError represents a structured error with code, status, and details.
type StrataError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *StrataError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for missing or malformed input.
func NewInvalidRequest(msg string) *StrataError {
	return &StrataError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error. Callers use it both for ids that do not exist
// and for ids that exist outside the caller's project.
func NewNotFound(kind, id string) *StrataError {
	return &StrataError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewInvalidState creates a 409 error for a transition the current state forbids.
func NewInvalidState(kind, id, state, op string) *StrataError {
	return &StrataError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: fmt.Sprintf("cannot %s %s %s in state %q", op, kind, id, state),
		Details: map[string]any{"kind": kind, "id": id, "state": state, "operation": op},
	}
}

// NewImmutableState creates a 409 error for mutations of a terminal entity.
func NewImmutableState(kind, id, state string) *StrataError {
	return &StrataError{
		Code:    ErrImmutableState,
		Status:  409,
		Message: fmt.Sprintf("%s %s is %s and cannot be changed", kind, id, state),
		Details: map[string]any{"kind": kind, "id": id, "state": state},
	}
}

// NewConflict creates a 409 error for stale-base detection.
// The reason is surfaced verbatim and always names the conflicting ids.
func NewConflict(reason string) *StrataError {
	return &StrataError{
		Code:    ErrConflict,
		Status:  409,
		Message: reason,
		Details: map[string]any{"reason": reason},
	}
}

// NewAlreadyExists creates a 409 error for unique key collisions.
func NewAlreadyExists(kind, key string) *StrataError {
	return &StrataError{
		Code:    ErrAlreadyExists,
		Status:  409,
		Message: fmt.Sprintf("%s already exists: %s", kind, key),
		Details: map[string]any{"kind": kind, "key": key},
	}
}

// NewPartialFailure creates a 207 error for batch operations where some items
// failed. results is the per-item outcome list and is kept in Details.
func NewPartialFailure(succeeded, failed int, results any) *StrataError {
	return &StrataError{
		Code:    ErrPartialFailure,
		Status:  207,
		Message: fmt.Sprintf("%d of %d items failed", failed, succeeded+failed),
		Details: map[string]any{"succeeded": succeeded, "failed": failed, "results": results},
	}
}

// NewStorage wraps a store or transaction failure.
func NewStorage(err error) *StrataError {
	msg := "storage error"
	if err != nil {
		msg = err.Error()
	}
	return &StrataError{
		Code:    ErrStorage,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *StrataError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &StrataError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a StrataError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *StrataError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the StrataError in err's chain, if any.
func As(err error) (*StrataError, bool) {
	var sErr *StrataError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}

// Internal reports whether err should be hidden from external callers.
func Internal(err error) bool {
	sErr, ok := As(err)
	if !ok {
		return true
	}
	return sErr.Code == ErrInternal || sErr.Code == ErrStorage
}
