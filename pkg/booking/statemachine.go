// Package booking holds the booking lifecycle state machine. It only validates
// transitions; persisting status and the matching audit entry is the caller's job.
package booking

import (
	"errors"
	"fmt"
	"strings"

	"lessonhub/pkg/domain"
)

// ErrInvalidTransition is returned for any status pair outside the allowed edges.
var ErrInvalidTransition = errors.New("invalid booking transition")

// TransitionError carries the rejected pair.
type TransitionError struct {
	From domain.BookingStatus
	To   domain.BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid booking transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var edges = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingDraft:     {domain.BookingPending},
	domain.BookingPending:   {domain.BookingConfirmed, domain.BookingDeclined},
	domain.BookingConfirmed: {domain.BookingModified},
	domain.BookingModified:  {domain.BookingModified, domain.BookingCancelled},
}

// Transition validates current -> target and returns target on success.
func Transition(current, target domain.BookingStatus) (domain.BookingStatus, error) {
	for _, next := range edges[current] {
		if next == target {
			return target, nil
		}
	}
	return current, &TransitionError{From: current, To: target}
}

// CanTransition reports whether current -> target is an allowed edge.
func CanTransition(current, target domain.BookingStatus) bool {
	_, err := Transition(current, target)
	return err == nil
}

// AllowedTargets lists the statuses reachable from current.
func AllowedTargets(current domain.BookingStatus) []domain.BookingStatus {
	out := make([]domain.BookingStatus, len(edges[current]))
	copy(out, edges[current])
	return out
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status domain.BookingStatus) bool {
	return len(edges[status]) == 0
}

// IsActive reports whether a booking in status still occupies its time window.
func IsActive(status domain.BookingStatus) bool {
	switch status {
	case domain.BookingPending, domain.BookingConfirmed, domain.BookingModified:
		return true
	}
	return false
}

// ParseStatus maps user input onto a known status.
func ParseStatus(raw string) (domain.BookingStatus, bool) {
	switch s := domain.BookingStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case domain.BookingDraft, domain.BookingPending, domain.BookingConfirmed,
		domain.BookingDeclined, domain.BookingModified, domain.BookingCancelled:
		return s, true
	}
	return "", false
}

// Statuses returns every known status in lifecycle order.
func Statuses() []domain.BookingStatus {
	return []domain.BookingStatus{
		domain.BookingDraft,
		domain.BookingPending,
		domain.BookingConfirmed,
		domain.BookingDeclined,
		domain.BookingModified,
		domain.BookingCancelled,
	}
}
