package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lessonhub/pkg/booking"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/store"
)

const upcomingHorizon = 365 * 24 * time.Hour

// EnrichedContext is the read-only context gathered for one message.
type EnrichedContext struct {
	Customer         *domain.Customer `json:"customer,omitempty"`
	UpcomingBookings []domain.Booking `json:"upcomingBookings,omitempty"`
	RecentBookings   []domain.Booking `json:"recentBookings,omitempty"`
	Summary          *domain.Summary  `json:"summary,omitempty"`

	RescheduleChecked   bool                    `json:"rescheduleChecked"`
	RescheduleVerified  bool                    `json:"rescheduleVerified"`
	RescheduleBookingID string                  `json:"rescheduleBookingId,omitempty"`
	RescheduleReason    string                  `json:"rescheduleReason,omitempty"`
	ProposedWindow      *domain.SuggestedAction `json:"proposedWindow,omitempty"`
}

// CustomerContextUsed reports whether any customer data made it into the context.
func (c EnrichedContext) CustomerContextUsed() bool {
	return c.Customer != nil || len(c.UpcomingBookings) > 0 || len(c.RecentBookings) > 0
}

// Enricher loads customer, booking and summary context. It never writes.
type Enricher struct {
	store        store.Store
	timeout      time.Duration
	location     *time.Location
	recentWindow time.Duration
	tolerance    time.Duration
	now          func() time.Time
}

// Enrich gathers context for conv. Lookups that fail leave their part empty;
// the returned error reports the first failure so callers can tag the stage.
func (e *Enricher) Enrich(ctx context.Context, conv domain.Conversation, snap *domain.Snapshot, messageText string, receivedAt time.Time) (EnrichedContext, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		out      EnrichedContext
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if sum, ok, err := e.store.GetSummary(ctx, conv.ID); err != nil {
		keep(fmt.Errorf("load summary: %w", err))
	} else if ok {
		out.Summary = &sum
	}

	customer, err := e.customerFor(ctx, conv)
	keep(err)
	now := e.now()
	if customer != nil {
		out.Customer = customer
		bookings, err := e.store.ListCustomerBookings(ctx, conv.OwnerID, customer.ID, now.Add(-e.recentWindow), now.Add(upcomingHorizon))
		if err != nil {
			keep(fmt.Errorf("load bookings: %w", err))
		}
		out.UpcomingBookings, out.RecentBookings = splitBookings(bookings, now, e.recentWindow)
	}

	if needsBookingCheck(snap) {
		out.RescheduleChecked = true
		switch {
		case customer == nil && err != nil:
			out.RescheduleReason = rescheduleLookupFailed
		case customer == nil:
			out.RescheduleReason = rescheduleNoCustomer
		default:
			ref := receivedAt
			if ref.IsZero() {
				ref = now
			}
			check := matchBooking(parseTimeReference(messageText, ref, e.location), out.UpcomingBookings, now, e.location, e.tolerance)
			out.RescheduleVerified = check.Verified
			out.RescheduleBookingID = check.BookingID
			out.RescheduleReason = check.Reason
			out.ProposedWindow = check.Proposed
		}
	}
	return out, firstErr
}

func (e *Enricher) customerFor(ctx context.Context, conv domain.Conversation) (*domain.Customer, error) {
	if conv.CustomerID != "" {
		c, ok, err := e.store.GetCustomer(ctx, conv.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("load customer: %w", err)
		}
		if ok && c.OwnerID == conv.OwnerID {
			return &c, nil
		}
	}
	c, ok, err := e.store.FindCustomerByIdentity(ctx, conv.OwnerID, conv.Channel, conv.ExternalIdentity)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// splitBookings separates live upcoming bookings from lessons that already
// took place inside the recent window.
func splitBookings(bookings []domain.Booking, now time.Time, recentWindow time.Duration) (upcoming, recent []domain.Booking) {
	cutoff := now.Add(-recentWindow)
	for _, b := range bookings {
		switch {
		case !b.EndTime.Before(now):
			if booking.IsActive(b.Status) {
				upcoming = append(upcoming, b)
			}
		case !b.EndTime.Before(cutoff):
			if b.Status == domain.BookingConfirmed || b.Status == domain.BookingModified {
				recent = append(recent, b)
			}
		}
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].StartTime.Before(upcoming[j].StartTime) })
	sort.Slice(recent, func(i, j int) bool { return recent[i].StartTime.After(recent[j].StartTime) })
	return upcoming, recent
}

func needsBookingCheck(snap *domain.Snapshot) bool {
	if snap == nil || snap.Intent == nil {
		return false
	}
	return *snap.Intent == domain.IntentReschedule || *snap.Intent == domain.IntentCancel
}
