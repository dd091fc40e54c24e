package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers wrap them with context and
// compare with errors.Is.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrValidation is returned for malformed input: negative consumption,
	// unknown variants, badly formed bonus codes and similar.
	ErrValidation = errors.New("validation failed")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
