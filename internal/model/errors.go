package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Nothing is applied.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition marks a state change that is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound marks an unknown identifier.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
