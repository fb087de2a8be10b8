package pipeline

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or semantically invalid payload.
// Field is the JSON path of the offending value, empty for whole-body errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError builds a *ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return invalid(field, format, args...)
}
