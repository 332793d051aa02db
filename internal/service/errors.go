package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input the caller must fix. No job is created.
	ErrValidation = errors.New("validation failed")

	// ErrInternal marks persistence or other infrastructure failures,
	// kept distinct from provider errors.
	ErrInternal = errors.New("internal error")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func internalError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
