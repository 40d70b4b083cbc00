package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrRoomUnavailable   = errors.New("room unavailable for the requested window")
	ErrTooEarly          = errors.New("check-in window has not opened yet")
	ErrTooLate           = errors.New("booking window has already ended")
	ErrInvalidCode       = errors.New("invalid check-in code")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")

	// ErrConcurrencyConflict is retried inside the ledger and never returned by
	// it. The state machine returns it when the room lock cannot be taken.
	ErrConcurrencyConflict = errors.New("concurrent modification")
)

// ValidationError carries the offending field. errors.Is(err, ErrValidation) holds.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound wraps ErrNotFound with the entity that was missing.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}
