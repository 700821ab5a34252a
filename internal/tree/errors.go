package tree

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input rejected before it reaches the
// synchronization core.
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the offending location, when known.
	Path string
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode string

const (
	// ErrCodeInvalidKey indicates an empty, oversized or illegal key.
	ErrCodeInvalidKey ValidationErrorCode = "INVALID_KEY"

	// ErrCodeInvalidPath indicates a path string with an illegal segment.
	ErrCodeInvalidPath ValidationErrorCode = "INVALID_PATH"

	// ErrCodeInvalidPriority indicates a priority that is not a string or number.
	ErrCodeInvalidPriority ValidationErrorCode = "INVALID_PRIORITY"

	// ErrCodeInvalidValue indicates a value that cannot be stored.
	ErrCodeInvalidValue ValidationErrorCode = "INVALID_VALUE"

	// ErrCodeMaxDepth indicates a value nested deeper than allowed.
	ErrCodeMaxDepth ValidationErrorCode = "MAX_DEPTH"

	// ErrCodeOverlappingMerge indicates a merge where one key is an
	// ancestor of another.
	ErrCodeOverlappingMerge ValidationErrorCode = "OVERLAPPING_MERGE"

	// ErrCodeInvalidQuery indicates contradictory or ill-typed query parameters.
	ErrCodeInvalidQuery ValidationErrorCode = "INVALID_QUERY"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a ValidationError without a path.
func NewValidationError(code ValidationErrorCode, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HasCode reports whether err is a ValidationError with the given code.
func HasCode(err error, code ValidationErrorCode) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

func asValidationError(err error, target **ValidationError) bool {
	return errors.As(err, target)
}
