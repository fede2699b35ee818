package store

import (
	"fmt"

	"github.com/pkg/errors"
)

// UniquenessError reports a save that would duplicate a unique field.
// Handlers surface it as a conflict rather than leaking the store's own
// error type.
type UniquenessError struct {
	Message string
}

func (e *UniquenessError) Error() string {
	return e.Message
}

// NewUniquenessError builds a UniquenessError with a formatted message.
func NewUniquenessError(format string, args ...any) error {
	return &UniquenessError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports a save or delete rejected by a model
// constraint. The message is passed through to the response.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsUniquenessViolation reports whether err is a uniqueness conflict.
func IsUniquenessViolation(err error) bool {
	var target *UniquenessError
	return errors.As(err, &target)
}

// IsValidationFailure reports whether err is a constraint violation.
func IsValidationFailure(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
