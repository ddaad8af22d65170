package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lessonhub/pkg/booking"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/events"
	"lessonhub/pkg/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *store.MemoryStore, *recordingPublisher) {
	t.Helper()
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	cfg := Config{Store: st, Events: pub}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, st, pub
}

func seedBooking(t *testing.T, st *store.MemoryStore, id, owner string, status domain.BookingStatus) domain.Booking {
	t.Helper()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	b := domain.Booking{
		ID:         id,
		OwnerID:    owner,
		CustomerID: "cust-1",
		Status:     status,
		StartTime:  start,
		EndTime:    start.Add(2 * time.Hour),
		Notes:      "bring skis",
	}
	if err := st.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b
}

func TestTransitionRecordsExactlyOneAuditEntryPerAcceptedEdge(t *testing.T) {
	ctx := context.Background()
	for _, from := range booking.Statuses() {
		for _, to := range booking.Statuses() {
			a, st, _ := newTestApp(t, nil)
			seedBooking(t, st, "b1", "owner-1", from)

			got, err := a.Transition(ctx, "owner-1", "b1", to, domain.ActorHuman)
			audit, _ := st.ListBookingAudit(ctx, "b1")
			stored, _, _ := st.GetBooking(ctx, "b1")

			if booking.CanTransition(from, to) {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if got.Status != to || stored.Status != to {
					t.Fatalf("%s -> %s: status not persisted (%s / %s)", from, to, got.Status, stored.Status)
				}
				if len(audit) != 1 || audit[0].PreviousState != from || audit[0].NewState != to || audit[0].Actor != domain.ActorHuman {
					t.Fatalf("%s -> %s: unexpected audit %+v", from, to, audit)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) || !errors.Is(err, booking.ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			if stored.Status != from {
				t.Fatalf("%s -> %s: status changed to %s on rejection", from, to, stored.Status)
			}
			if len(audit) != 0 {
				t.Fatalf("%s -> %s: rejected transition left audit %+v", from, to, audit)
			}
		}
	}
}

func TestTransitionNotFoundAndForbiddenBeforeStateMachine(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestApp(t, nil)
	seedBooking(t, st, "b1", "owner-1", domain.BookingCancelled)

	ops := map[string]func(context.Context, string, string) (domain.Booking, error){
		"submit": a.Submit,
		"accept": a.Accept,
		"reject": a.Reject,
		"modify": a.Modify,
		"cancel": a.Cancel,
	}
	for name, op := range ops {
		if _, err := op(ctx, "owner-1", "missing"); !errors.Is(err, ErrBookingNotFound) {
			t.Fatalf("%s on missing booking: expected not found, got %v", name, err)
		}
		if _, err := op(ctx, "owner-2", "b1"); !errors.Is(err, ErrBookingForbidden) {
			t.Fatalf("%s on foreign booking: expected forbidden, got %v", name, err)
		}
	}
	if _, err := a.UpdateDetails(ctx, "owner-2", "b1", DetailsPatch{Notes: ptr("x")}); !errors.Is(err, ErrBookingForbidden) {
		t.Fatalf("edit foreign booking: expected forbidden, got %v", err)
	}
	if _, err := a.Get(ctx, "owner-2", "b1"); !errors.Is(err, ErrBookingForbidden) {
		t.Fatalf("get foreign booking: expected forbidden, got %v", err)
	}
}

func TestUpdateDetailsConfirmedThenModified(t *testing.T) {
	ctx := context.Background()
	a, st, pub := newTestApp(t, nil)
	seedBooking(t, st, "b1", "owner-1", domain.BookingConfirmed)

	got, err := a.UpdateDetails(ctx, "owner-1", "b1", DetailsPatch{Notes: ptr("meet at the lift")})
	if err != nil {
		t.Fatalf("first edit: %v", err)
	}
	if got.Status != domain.BookingModified || got.Notes != "meet at the lift" {
		t.Fatalf("unexpected booking after first edit: %+v", got)
	}
	audit, _ := st.ListBookingAudit(ctx, "b1")
	if len(audit) != 1 || audit[0].PreviousState != domain.BookingConfirmed || audit[0].NewState != domain.BookingModified {
		t.Fatalf("unexpected audit after first edit: %+v", audit)
	}

	got, err = a.UpdateDetails(ctx, "owner-1", "b1", DetailsPatch{Notes: ptr("meet at the hut")})
	if err != nil {
		t.Fatalf("second edit: %v", err)
	}
	if got.Status != domain.BookingModified || got.Notes != "meet at the hut" {
		t.Fatalf("unexpected booking after second edit: %+v", got)
	}
	audit, _ = st.ListBookingAudit(ctx, "b1")
	if len(audit) != 1 {
		t.Fatalf("second edit must not add audit entries, got %d", len(audit))
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.TypeBookingTransitioned {
		t.Fatalf("expected one transition event, got %+v", pub.events)
	}
}

func TestUpdateDetailsValidation(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestApp(t, nil)
	b := seedBooking(t, st, "b1", "owner-1", domain.BookingPending)
	seedBooking(t, st, "b2", "owner-1", domain.BookingDeclined)

	if _, err := a.UpdateDetails(ctx, "owner-1", "b1", DetailsPatch{}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("empty patch: expected invalid payload, got %v", err)
	}
	early := b.StartTime.Add(-time.Hour)
	if _, err := a.UpdateDetails(ctx, "owner-1", "b1", DetailsPatch{EndTime: &early}); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("end before start: expected invalid time range, got %v", err)
	}
	if _, err := a.UpdateDetails(ctx, "owner-1", "b2", DetailsPatch{Notes: ptr("x")}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal edit: expected invalid transition, got %v", err)
	}
	got, err := a.UpdateDetails(ctx, "owner-1", "b1", DetailsPatch{MeetingPoint: ptr("north gate")})
	if err != nil || got.Status != domain.BookingPending || got.MeetingPoint != "north gate" {
		t.Fatalf("pending edit: %+v %v", got, err)
	}
	if audit, _ := st.ListBookingAudit(ctx, "b1"); len(audit) != 0 {
		t.Fatalf("pending edit must not audit a transition: %+v", audit)
	}
}

func TestSetStatusUsesSameValidator(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestApp(t, nil)
	seedBooking(t, st, "b1", "owner-1", domain.BookingDraft)

	if _, err := a.SetStatus(ctx, "owner-1", "b1", "archived"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("unknown status: expected invalid payload, got %v", err)
	}
	if _, err := a.SetStatus(ctx, "owner-1", "b1", "confirmed"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("draft -> confirmed: expected invalid transition, got %v", err)
	}
	got, err := a.SetStatus(ctx, "owner-1", "b1", "Pending")
	if err != nil || got.Status != domain.BookingPending {
		t.Fatalf("draft -> pending: %+v %v", got, err)
	}
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestApp(t, nil)
	seedBooking(t, st, "b1", "owner-1", domain.BookingPending)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = a.Accept(ctx, "owner-1", "b1")
			} else {
				_, err = a.Reject(ctx, "owner-1", "b1")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrInvalidTransition):
				rejected++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()
	if accepted != 1 || rejected != workers-1 {
		t.Fatalf("expected exactly one winner, got %d accepted and %d rejected", accepted, rejected)
	}
	audit, _ := st.ListBookingAudit(ctx, "b1")
	if len(audit) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit))
	}
}

func TestGates(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestApp(t, func(c *Config) {
		c.PilotOnly = true
		c.PilotAllowlist = []string{"owner-1"}
		c.RequireOnboarding = true
	})
	seedBooking(t, st, "b1", "owner-1", domain.BookingDraft)
	seedBooking(t, st, "b2", "owner-2", domain.BookingDraft)

	if _, err := a.Submit(ctx, "owner-2", "b2"); !errors.Is(err, ErrPilotOnly) {
		t.Fatalf("non-pilot: expected pilot only, got %v", err)
	}
	if _, err := a.Submit(ctx, "owner-1", "b1"); !errors.Is(err, ErrOnboardingRequired) {
		t.Fatalf("not onboarded: expected onboarding required, got %v", err)
	}
	_ = st.SaveInstructor(ctx, domain.Instructor{ID: "owner-1", Onboarded: true})
	if _, err := a.Submit(ctx, "owner-1", "b1"); err != nil {
		t.Fatalf("onboarded pilot: %v", err)
	}
}

func TestCreateStartsAsDraft(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestApp(t, nil)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := a.Create(ctx, "owner-1", CreateInput{CustomerID: "c1", StartTime: start, EndTime: start}); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("zero-length booking: expected invalid time range, got %v", err)
	}
	if _, err := a.Create(ctx, "owner-1", CreateInput{StartTime: start, EndTime: start.Add(time.Hour)}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("missing customer: expected invalid payload, got %v", err)
	}
	b, err := a.Create(ctx, "owner-1", CreateInput{CustomerID: "c1", CustomerName: " Ana ", StartTime: start, EndTime: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != domain.BookingDraft || b.CustomerName != "Ana" {
		t.Fatalf("unexpected booking %+v", b)
	}
	if _, ok, _ := st.GetBooking(ctx, b.ID); !ok {
		t.Fatal("booking not persisted")
	}
	entries, _ := a.ListAudit(ctx, "owner-1", b.ID)
	if len(entries) != 0 {
		t.Fatalf("create must not write transition audit, got %+v", entries)
	}
}

func ptr[T any](v T) *T { return &v }
