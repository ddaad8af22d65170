package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lessonhub/internal/ownertoken"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/store"
	"lessonhub/services/booking/internal/app"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	handler  http.Handler
	store    *store.MemoryStore
	verifier *ownertoken.Verifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := app.New(app.Config{Store: st})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := ownertoken.NewVerifier(ownertoken.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	srv, err := New(Config{App: a, TokenVerifier: verifier})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return fixture{handler: srv.Router(), store: st, verifier: verifier}
}

func (f fixture) seed(t *testing.T, id, owner string, status domain.BookingStatus) {
	t.Helper()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	if err := f.store.CreateBooking(context.Background(), domain.Booking{
		ID: id, OwnerID: owner, CustomerID: "c1", Status: status, StartTime: start, EndTime: start.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f fixture) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		token, err := f.verifier.Issue(owner, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestTransitionRoutes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "owner-1", domain.BookingDraft)

	steps := []struct {
		path string
		want domain.BookingStatus
	}{
		{"/bookings/b1/submit", domain.BookingPending},
		{"/bookings/b1/accept", domain.BookingConfirmed},
		{"/bookings/b1/modify", domain.BookingModified},
		{"/bookings/b1/modify", domain.BookingModified},
		{"/bookings/b1/cancel", domain.BookingCancelled},
	}
	for _, step := range steps {
		rec := f.do(t, http.MethodPost, step.path, "owner-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", step.path, rec.Code, rec.Body.String())
		}
		var resp bookingResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.OK || resp.Booking.Status != step.want {
			t.Fatalf("%s: unexpected response %+v", step.path, resp)
		}
	}

	rec := f.do(t, http.MethodGet, "/bookings/b1/audit", "owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", rec.Code)
	}
	var audit struct {
		Count int `json:"count"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&audit)
	if audit.Count != len(steps) {
		t.Fatalf("expected %d audit entries, got %d", len(steps), audit.Count)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "owner-1", domain.BookingDraft)

	cases := []struct {
		name   string
		method string
		path   string
		owner  string
		body   any
		status int
		code   string
	}{
		{"invalid transition", http.MethodPost, "/bookings/b1/accept", "owner-1", nil, http.StatusConflict, "INVALID_BOOKING_TRANSITION"},
		{"not found", http.MethodPost, "/bookings/missing/submit", "owner-1", nil, http.StatusNotFound, "BOOKING_NOT_FOUND"},
		{"forbidden", http.MethodPost, "/bookings/b1/submit", "owner-2", nil, http.StatusForbidden, "BOOKING_FORBIDDEN"},
		{"unknown status", http.MethodPatch, "/bookings/b1/status", "owner-1", map[string]string{"status": "archived"}, http.StatusBadRequest, "BOOKING_INVALID_PAYLOAD"},
		{"status invalid transition", http.MethodPatch, "/bookings/b1/status", "owner-1", map[string]string{"status": "cancelled"}, http.StatusConflict, "INVALID_BOOKING_TRANSITION"},
		{"bad time range", http.MethodPatch, "/bookings/b1", "owner-1", map[string]string{"endTime": "2026-05-04T08:00:00Z"}, http.StatusBadRequest, "BOOKING_INVALID_TIME_RANGE"},
		{"missing token", http.MethodPost, "/bookings/b1/submit", "", nil, http.StatusUnauthorized, "AUTH_INVALID_TOKEN"},
		{"wrong method", http.MethodGet, "/bookings/b1/submit", "owner-1", nil, http.StatusMethodNotAllowed, "SYSTEM_METHOD_NOT_ALLOWED"},
	}
	for _, tc := range cases {
		rec := f.do(t, tc.method, tc.path, tc.owner, tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		if resp := decodeError(t, rec); resp.Code != tc.code || resp.RequestID == "" {
			t.Fatalf("%s: unexpected error body %+v", tc.name, resp)
		}
	}
	if b, _, _ := f.store.GetBooking(context.Background(), "b1"); b.Status != domain.BookingDraft {
		t.Fatalf("failed requests changed status to %s", b.Status)
	}
}

func TestPatchConfirmedBookingInducesModified(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "owner-1", domain.BookingConfirmed)

	rec := f.do(t, http.MethodPatch, "/bookings/b1", "owner-1", map[string]string{"notes": "new notes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp bookingResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Booking.Status != domain.BookingModified || resp.Booking.Notes != "new notes" {
		t.Fatalf("unexpected booking %+v", resp.Booking)
	}
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/bookings", "owner-1", map[string]string{
		"customerId": "c1",
		"startTime":  "2026-07-01T09:00:00Z",
		"endTime":    "2026-07-01T11:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created bookingResponse
	_ = json.NewDecoder(rec.Body).Decode(&created)
	if created.Booking.Status != domain.BookingDraft || created.Booking.OwnerID != "owner-1" {
		t.Fatalf("unexpected booking %+v", created.Booking)
	}
	rec = f.do(t, http.MethodGet, "/bookings/"+created.Booking.ID, "owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
}

func TestRoutesAreServed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", "owner-1", domain.BookingPending)

	for _, route := range Routes() {
		method, pattern, _ := strings.Cut(route, " ")
		path := strings.ReplaceAll(pattern, "{id}", "b1")
		rec := f.do(t, method, path, "owner-1", nil)
		if rec.Code == http.StatusMethodNotAllowed {
			t.Fatalf("%s: method not allowed", route)
		}
		if rec.Code == http.StatusNotFound {
			if resp := decodeError(t, rec); resp.Code == "SYSTEM_NOT_FOUND" {
				t.Fatalf("%s: route not handled", route)
			}
		}
	}
}
