package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lessonhub/internal/util"
	"lessonhub/pkg/booking"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/events"
	"lessonhub/pkg/store"
)

// Config holds dependencies and feature gates for the booking service.
type Config struct {
	Store  store.Store
	Events events.Publisher

	PilotOnly         bool
	PilotAllowlist    []string
	RequireOnboarding bool

	Now func() time.Time
}

// App is the core booking lifecycle service.
type App struct {
	store             store.Store
	events            events.Publisher
	pilotOnly         bool
	pilots            map[string]struct{}
	requireOnboarding bool
	now               func() time.Time
}

// New constructs the booking app.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	pilots := make(map[string]struct{}, len(cfg.PilotAllowlist))
	for _, id := range cfg.PilotAllowlist {
		if id = strings.TrimSpace(id); id != "" {
			pilots[id] = struct{}{}
		}
	}
	return &App{
		store:             cfg.Store,
		events:            pub,
		pilotOnly:         cfg.PilotOnly,
		pilots:            pilots,
		requireOnboarding: cfg.RequireOnboarding,
		now:               now,
	}, nil
}

// CreateInput describes a new booking. New bookings start as draft.
type CreateInput struct {
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Notes        string    `json:"notes"`
	MeetingPoint string    `json:"meetingPoint"`
}

// DetailsPatch lists editable booking details; nil fields are left unchanged.
type DetailsPatch struct {
	StartTime    *time.Time `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
	CustomerName *string    `json:"customerName"`
	Notes        *string    `json:"notes"`
	MeetingPoint *string    `json:"meetingPoint"`
}

func (p DetailsPatch) empty() bool {
	return p.StartTime == nil && p.EndTime == nil && p.CustomerName == nil && p.Notes == nil && p.MeetingPoint == nil
}

// Create stores a draft booking for ownerID.
func (a *App) Create(ctx context.Context, ownerID string, in CreateInput) (domain.Booking, error) {
	if err := a.checkGates(ctx, ownerID); err != nil {
		return domain.Booking{}, err
	}
	if strings.TrimSpace(in.CustomerID) == "" || in.StartTime.IsZero() || in.EndTime.IsZero() {
		return domain.Booking{}, fmt.Errorf("%w: customerId, startTime and endTime are required", ErrInvalidPayload)
	}
	if !in.EndTime.After(in.StartTime) {
		return domain.Booking{}, ErrInvalidTimeRange
	}
	now := a.now().UTC()
	b := domain.Booking{
		ID:           util.NewID(),
		OwnerID:      ownerID,
		CustomerID:   strings.TrimSpace(in.CustomerID),
		Status:       domain.BookingDraft,
		StartTime:    in.StartTime.UTC(),
		EndTime:      in.EndTime.UTC(),
		CustomerName: strings.TrimSpace(in.CustomerName),
		Notes:        in.Notes,
		MeetingPoint: in.MeetingPoint,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateBooking(ctx, b); err != nil {
		return domain.Booking{}, fmt.Errorf("create booking: %w", err)
	}
	a.appendAudit(ctx, domain.ActorHuman, ownerID, "booking.created", b.ID, map[string]any{
		"status": string(b.Status),
	})
	return b, nil
}

// Get returns a booking owned by ownerID.
func (a *App) Get(ctx context.Context, ownerID, id string) (domain.Booking, error) {
	b, ok, err := a.store.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	if !ok {
		return domain.Booking{}, ErrBookingNotFound
	}
	if b.OwnerID != ownerID {
		return domain.Booking{}, ErrBookingForbidden
	}
	return b, nil
}

// ListAudit returns the transition history of a booking owned by ownerID.
func (a *App) ListAudit(ctx context.Context, ownerID, id string) ([]domain.BookingAuditEntry, error) {
	if _, err := a.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return a.store.ListBookingAudit(ctx, id)
}

func (a *App) Submit(ctx context.Context, ownerID, id string) (domain.Booking, error) {
	return a.Transition(ctx, ownerID, id, domain.BookingPending, domain.ActorHuman)
}

func (a *App) Accept(ctx context.Context, ownerID, id string) (domain.Booking, error) {
	return a.Transition(ctx, ownerID, id, domain.BookingConfirmed, domain.ActorHuman)
}

func (a *App) Reject(ctx context.Context, ownerID, id string) (domain.Booking, error) {
	return a.Transition(ctx, ownerID, id, domain.BookingDeclined, domain.ActorHuman)
}

func (a *App) Modify(ctx context.Context, ownerID, id string) (domain.Booking, error) {
	return a.Transition(ctx, ownerID, id, domain.BookingModified, domain.ActorHuman)
}

func (a *App) Cancel(ctx context.Context, ownerID, id string) (domain.Booking, error) {
	return a.Transition(ctx, ownerID, id, domain.BookingCancelled, domain.ActorHuman)
}

// SetStatus parses raw and runs it through the same validator as the
// dedicated transition routes.
func (a *App) SetStatus(ctx context.Context, ownerID, id, raw string) (domain.Booking, error) {
	target, ok := booking.ParseStatus(raw)
	if !ok {
		return domain.Booking{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, raw)
	}
	return a.Transition(ctx, ownerID, id, target, domain.ActorHuman)
}

// Transition moves a booking to target. Existence, ownership, the state
// machine, the status write and the audit entry all happen under the booking
// row lock, so a rejected attempt leaves no trace.
func (a *App) Transition(ctx context.Context, ownerID, id string, target domain.BookingStatus, actor domain.Actor) (domain.Booking, error) {
	if err := a.checkGates(ctx, ownerID); err != nil {
		return domain.Booking{}, err
	}
	var previous domain.BookingStatus
	updated, err := a.store.UpdateBooking(ctx, id, func(b *domain.Booking) ([]domain.BookingAuditEntry, error) {
		if b.OwnerID != ownerID {
			return nil, ErrBookingForbidden
		}
		next, err := booking.Transition(b.Status, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		previous = b.Status
		b.Status = next
		return []domain.BookingAuditEntry{a.auditEntry(b.ID, previous, next, actor)}, nil
	})
	if err != nil {
		return domain.Booking{}, translateStoreErr(err)
	}
	a.afterTransition(ctx, ownerID, actor, updated, previous)
	return updated, nil
}

// UpdateDetails edits time, notes, meeting point or customer name. Editing a
// confirmed booking moves it to modified with one audit entry; editing a
// modified, draft or pending booking only changes details.
func (a *App) UpdateDetails(ctx context.Context, ownerID, id string, patch DetailsPatch) (domain.Booking, error) {
	if err := a.checkGates(ctx, ownerID); err != nil {
		return domain.Booking{}, err
	}
	if patch.empty() {
		return domain.Booking{}, fmt.Errorf("%w: no editable fields supplied", ErrInvalidPayload)
	}
	var (
		previous    domain.BookingStatus
		transitions bool
	)
	updated, err := a.store.UpdateBooking(ctx, id, func(b *domain.Booking) ([]domain.BookingAuditEntry, error) {
		if b.OwnerID != ownerID {
			return nil, ErrBookingForbidden
		}
		if booking.IsTerminal(b.Status) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, &booking.TransitionError{From: b.Status, To: domain.BookingModified})
		}
		start, end := b.StartTime, b.EndTime
		if patch.StartTime != nil {
			start = patch.StartTime.UTC()
		}
		if patch.EndTime != nil {
			end = patch.EndTime.UTC()
		}
		if !end.After(start) {
			return nil, ErrInvalidTimeRange
		}

		var entries []domain.BookingAuditEntry
		if b.Status == domain.BookingConfirmed {
			next, err := booking.Transition(b.Status, domain.BookingModified)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
			}
			previous = b.Status
			transitions = true
			b.Status = next
			entries = append(entries, a.auditEntry(b.ID, previous, next, domain.ActorHuman))
		}
		b.StartTime, b.EndTime = start, end
		if patch.CustomerName != nil {
			b.CustomerName = strings.TrimSpace(*patch.CustomerName)
		}
		if patch.Notes != nil {
			b.Notes = *patch.Notes
		}
		if patch.MeetingPoint != nil {
			b.MeetingPoint = *patch.MeetingPoint
		}
		return entries, nil
	})
	if err != nil {
		return domain.Booking{}, translateStoreErr(err)
	}
	if transitions {
		a.afterTransition(ctx, ownerID, domain.ActorHuman, updated, previous)
	} else {
		a.appendAudit(ctx, domain.ActorHuman, ownerID, "booking.details_updated", updated.ID, map[string]any{
			"status": string(updated.Status),
		})
	}
	return updated, nil
}

func (a *App) checkGates(ctx context.Context, ownerID string) error {
	if a.pilotOnly {
		if _, ok := a.pilots[ownerID]; !ok {
			return ErrPilotOnly
		}
	}
	if a.requireOnboarding {
		inst, ok, err := a.store.GetInstructor(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("load instructor: %w", err)
		}
		if !ok || !inst.Onboarded {
			return ErrOnboardingRequired
		}
	}
	return nil
}

func (a *App) auditEntry(bookingID string, from, to domain.BookingStatus, actor domain.Actor) domain.BookingAuditEntry {
	return domain.BookingAuditEntry{
		ID:            util.NewID(),
		BookingID:     bookingID,
		PreviousState: from,
		NewState:      to,
		Actor:         actor,
		CreatedAt:     a.now().UTC(),
	}
}

func (a *App) afterTransition(ctx context.Context, ownerID string, actor domain.Actor, b domain.Booking, previous domain.BookingStatus) {
	payload := map[string]any{
		"previousState": string(previous),
		"newState":      string(b.Status),
	}
	a.appendAudit(ctx, actor, ownerID, "booking.transitioned", b.ID, payload)
	events.PublishBestEffort(ctx, a.events, events.Event{
		Type:       events.TypeBookingTransitioned,
		OwnerID:    ownerID,
		EntityType: "booking",
		EntityID:   b.ID,
		RequestID:  util.RequestIDFromContext(ctx),
		Data:       payload,
		OccurredAt: a.now().UTC(),
	})
}

// appendAudit records system-wide evidence after a commit. The booking audit
// entry is already durable at this point, so a failure here is only logged.
func (a *App) appendAudit(ctx context.Context, actor domain.Actor, actorID, action, bookingID string, payload map[string]any) {
	if rid := util.RequestIDFromContext(ctx); rid != "" {
		payload["requestId"] = rid
	}
	err := a.store.AppendAudit(ctx, domain.AuditEntry{
		ID:         util.NewID(),
		ActorType:  actor,
		ActorID:    actorID,
		Action:     action,
		EntityType: "booking",
		EntityID:   bookingID,
		Severity:   domain.SeverityInfo,
		Payload:    payload,
		CreatedAt:  a.now().UTC(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("audit append failed", "action", action, "booking_id", bookingID, "err", err)
	}
}

func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrBookingNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrBookingConflict
	}
	return err
}
