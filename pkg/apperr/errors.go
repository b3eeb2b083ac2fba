// Package apperr provides the error taxonomy shared by the automation services.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed definitions and inputs (400 Bad Request). Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks unknown rule, trigger, workflow, action or execution ids (404 Not Found).
	ErrNotFound = errors.New("not found")

	// ErrNotActive marks an operation on an entity that is not in active status (409 Conflict).
	ErrNotActive = errors.New("not active")

	// ErrConflict marks state transitions that are not allowed (409 Conflict).
	ErrConflict = errors.New("conflict")

	// ErrForbidden marks a caller rejected by an allow-list (403 Forbidden).
	ErrForbidden = errors.New("forbidden")
)

// Error wraps one of the sentinels with the operation and entity that failed.
type Error struct {
	Op       string   // Operation being performed (e.g. "ActivateWorkflow")
	Kind     string   // Entity kind (e.g. "workflow")
	ID       string   // Entity id if applicable
	Err      error    // Underlying sentinel or cause
	Messages []string // Human readable details, e.g. every validation violation
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Op)

	if e.Kind != "" {
		fmt.Fprintf(&b, " %s", e.Kind)
	}

	if e.ID != "" {
		fmt.Fprintf(&b, " %s", e.ID)
	}

	fmt.Fprintf(&b, ": %v", e.Err)

	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, ", "))
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func Validation(op, kind, id string, messages ...string) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: ErrValidation, Messages: messages}
}

func NotFound(op, kind, id string) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: ErrNotFound}
}

func NotActive(op, kind, id string) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: ErrNotActive}
}

func Conflict(op, kind, id string, messages ...string) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: ErrConflict, Messages: messages}
}

func Forbidden(op, kind, id string, messages ...string) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: ErrForbidden, Messages: messages}
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound checks if an error indicates an unknown entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotActive checks if an error indicates the entity is not active.
func IsNotActive(err error) bool {
	return errors.Is(err, ErrNotActive)
}

// IsConflict checks if an error is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsForbidden checks if an error is an allow-list rejection.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// Details returns the human readable messages attached to err, if any.
func Details(err error) []string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Messages
	}

	return nil
}
