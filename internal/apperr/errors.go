// Package apperr holds the error kinds shared by every service. Handlers map
// them onto HTTP status codes; services wrap them with context via %w.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports input that can never succeed as given.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports a request that clashes with existing state,
// such as a double-booked venue or a duplicate registration.
type ConflictError struct {
	Message string
	Details any
}

func (e *ConflictError) Error() string { return e.Message }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func NotFound(kind string, id fmt.Stringer) error {
	return &NotFoundError{Kind: kind, ID: id.String()}
}

func Conflict(details any, format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...), Details: details}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
