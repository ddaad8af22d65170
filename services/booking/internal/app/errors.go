package app

import "errors"

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrBookingForbidden   = errors.New("booking forbidden")
	ErrInvalidTransition  = errors.New("invalid booking transition")
	ErrInvalidPayload     = errors.New("invalid booking payload")
	ErrInvalidTimeRange   = errors.New("invalid booking time range")
	ErrOnboardingRequired = errors.New("onboarding required")
	ErrPilotOnly          = errors.New("feature limited to pilot instructors")
	// ErrBookingConflict reports a write that lost to a concurrent update.
	ErrBookingConflict = errors.New("booking conflict")
)
