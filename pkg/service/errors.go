// Package service exposes the read core: rendered config lookups, context
// evaluation, and project-scoped change subscriptions over the in-memory
// replica.
package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a service error for transport mapping and retry logic.
type ErrorKind string

const (
	// ErrorKindNotFound indicates the addressed project, environment, or
	// config does not exist in the replica.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindBadRequest indicates malformed caller input.
	// Examples: invalid context document, invalid config name.
	ErrorKindBadRequest ErrorKind = "bad_request"

	// ErrorKindForbidden indicates the caller's credential does not grant
	// access to the addressed resource.
	ErrorKindForbidden ErrorKind = "forbidden"

	// ErrorKindConflict indicates a write raced a concurrent mutation.
	ErrorKindConflict ErrorKind = "conflict"

	// ErrorKindTransient indicates a temporary failure that may succeed on
	// retry. Examples: store timeouts during a write.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindInternal indicates a non-recoverable service-side failure.
	ErrorKindInternal ErrorKind = "internal"
)

// ServiceError represents a classified error with context.
// nolint:revive // ServiceError is intentionally named to distinguish from standard errors
type ServiceError struct {
	// Kind is the error classification for transport mapping.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	switch {
	case e.Resource != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s (resource=%s): %v", e.Kind, e.Message, e.Resource, e.Err)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Kind, e.Message, e.Resource)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewNotFoundError creates a new not-found error for a resource.
func NewNotFoundError(message, resource string) *ServiceError {
	return &ServiceError{Kind: ErrorKindNotFound, Message: message, Resource: resource}
}

// NewBadRequestError creates a new bad-request error.
func NewBadRequestError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ErrorKindBadRequest, Message: message, Err: err}
}

// NewForbiddenError creates a new forbidden error.
func NewForbiddenError(message string) *ServiceError {
	return &ServiceError{Kind: ErrorKindForbidden, Message: message}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ErrorKindConflict, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ErrorKindTransient, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ErrorKindInternal, Message: message, Err: err}
}

// KindOf extracts the error kind from an error chain. Unclassified errors
// report ErrorKindInternal.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorKindInternal
}
