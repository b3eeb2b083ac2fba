// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrNotFound indicates no entity exists for the given kind, tenant and id.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidKey indicates an empty kind, tenant or id was provided.
	ErrInvalidKey = errors.New("invalid entity key")
)

// EntityError wraps store errors with the key being operated on.
type EntityError struct {
	Op       string // Operation being performed (e.g., "Get", "Put", "Delete")
	Kind     string
	TenantID string
	ID       string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s/%s: %v", e.Op, e.Kind, e.TenantID, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, kind, tenantID, id string, err error) *EntityError {
	return &EntityError{
		Op:       op,
		Kind:     kind,
		TenantID: tenantID,
		ID:       id,
		Err:      err,
	}
}

// IsNotFound checks if an error indicates an entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CheckKey returns ErrInvalidKey when any key part is empty.
func CheckKey(op, kind, tenantID, id string) error {
	if kind == "" || tenantID == "" || id == "" {
		return NewEntityError(op, kind, tenantID, id, ErrInvalidKey)
	}

	return nil
}
