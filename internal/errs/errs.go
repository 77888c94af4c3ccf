// Package errs defines the typed failures surfaced by the order, agent and
// account services. Every failure wraps one of the sentinel errors so
// callers can branch with errors.Is, and carries a Code that the HTTP layer
// maps to a status.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("object not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("invalid credentials")
	ErrInternal          = errors.New("internal error")
)

// ValidationError reports malformed or incomplete input.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a reference to an id that does not exist.
type NotFoundError struct {
	Kind string
	ID   any
}

func NewNotFoundError(kind string, id any) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidTransitionError reports a status change the order state machine
// does not allow.
type InvalidTransitionError struct {
	OrderID int64
	From    string
	To      string
}

func NewInvalidTransitionError(orderID int64, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{OrderID: orderID, From: from, To: to}
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: order %d cannot move from %s to %s", ErrInvalidTransition, e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// InternalError wraps an unexpected fault.
type InternalError struct {
	Op    string
	Cause error
}

func NewInternalError(op string, cause error) *InternalError {
	return &InternalError{Op: op, Cause: cause}
}

func (e *InternalError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", ErrInternal, e.Op)
	}
	return fmt.Sprintf("%s: %s (cause: %v)", ErrInternal, e.Op, e.Cause)
}

func (e *InternalError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInternal}
	}
	return []error{ErrInternal, e.Cause}
}

// CodeOf classifies err. Unknown errors are internal, and so is an
// InternalError whatever its cause wraps.
func CodeOf(err error) Code {
	var internal *InternalError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &internal):
		return CodeInternal
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// HTTPStatus maps a code to the response status used by the API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
