package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")

	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrSchedulingConflict     = errors.New("scheduling conflict: the provider already has an appointment during this time")
	ErrValidation             = errors.New("invalid appointment")
	ErrForbidden              = errors.New("role not allowed to perform this transition")
	ErrProviderBusy           = errors.New("provider schedule is being modified, please retry")
	ErrConcurrentModification = errors.New("appointment was modified concurrently")

	// ErrStoreUnavailable marks repository failures the caller may retry later.
	ErrStoreUnavailable = errors.New("appointment store unavailable")
)

// TransitionError reports a status change outside the lifecycle table.
// An empty To means the appointment itself may no longer be modified.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("%s: appointment is %s and can no longer be modified", ErrInvalidTransition, e.From)
	}
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
