package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"lessonhub/internal/ownertoken"
	"lessonhub/internal/util"
	"lessonhub/pkg/domain"
	"lessonhub/services/booking/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *ownertoken.Verifier
}

// Server exposes HTTP endpoints for the booking service.
type Server struct {
	app           *app.App
	tokenVerifier *ownertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain(s.mux)
}

// Routes lists the registered route patterns.
func Routes() []string {
	return []string{
		"GET /healthz",
		"POST /bookings",
		"GET /bookings/{id}",
		"PATCH /bookings/{id}",
		"PATCH /bookings/{id}/status",
		"GET /bookings/{id}/audit",
		"POST /bookings/{id}/submit",
		"POST /bookings/{id}/accept",
		"POST /bookings/{id}/reject",
		"POST /bookings/{id}/modify",
		"POST /bookings/{id}/cancel",
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/bookings", s.withOwner(s.handleBookings))
	s.mux.Handle("/bookings/", s.withOwner(s.handleBookingByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ownerHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withOwner(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ownertoken.BearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ownerID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, ownerID)
	})
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request, ownerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.CreateInput
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := s.app.Create(r.Context(), ownerID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse{OK: true, Booking: b})
}

// /bookings/{id}, /bookings/{id}/status, /bookings/{id}/audit or /bookings/{id}/{action}
func (s *Server) handleBookingByID(w http.ResponseWriter, r *http.Request, ownerID string) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/bookings/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		notFound(w, "not found")
		return
	}
	ctx := r.Context()

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			b, err := s.app.Get(ctx, ownerID, id)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, bookingResponse{OK: true, Booking: b})
		case http.MethodPatch:
			var patch app.DetailsPatch
			if !decodeJSON(w, r, &patch) {
				return
			}
			b, err := s.app.UpdateDetails(ctx, ownerID, id, patch)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, bookingResponse{OK: true, Booking: b})
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch action := parts[1]; action {
	case "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var req statusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		b, err := s.app.SetStatus(ctx, ownerID, id, req.Status)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse{OK: true, Booking: b})
	case "audit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		entries, err := s.app.ListAudit(ctx, ownerID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": entries, "count": len(entries)})
	case "submit", "accept", "reject", "modify", "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		op := s.transitionFor(action)
		b, err := op(ctx, ownerID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse{OK: true, Booking: b})
	default:
		notFound(w, "not found")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid JSON body", "BOOKING_INVALID_PAYLOAD")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, defaultErrorCode(status))
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("booking request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeErrorCode(w, status, msg, code)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrBookingNotFound):
		return http.StatusNotFound, "BOOKING_NOT_FOUND"
	case errors.Is(err, app.ErrBookingForbidden):
		return http.StatusForbidden, "BOOKING_FORBIDDEN"
	case errors.Is(err, app.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_BOOKING_TRANSITION"
	case errors.Is(err, app.ErrInvalidTimeRange):
		return http.StatusBadRequest, "BOOKING_INVALID_TIME_RANGE"
	case errors.Is(err, app.ErrInvalidPayload):
		return http.StatusBadRequest, "BOOKING_INVALID_PAYLOAD"
	case errors.Is(err, app.ErrOnboardingRequired):
		return http.StatusForbidden, "ONBOARDING_REQUIRED"
	case errors.Is(err, app.ErrPilotOnly):
		return http.StatusForbidden, "PILOT_ONLY"
	case errors.Is(err, app.ErrBookingConflict):
		return http.StatusConflict, "BOOKING_CONFLICT"
	}
	return http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
}

func defaultErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BOOKING_INVALID_PAYLOAD"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "BOOKING_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	}
	if status >= http.StatusInternalServerError {
		return "SYSTEM_INTERNAL_ERROR"
	}
	return "REQUEST_ERROR"
}

type transitionFunc func(ctx context.Context, ownerID, id string) (domain.Booking, error)

func (s *Server) transitionFor(action string) transitionFunc {
	switch action {
	case "submit":
		return s.app.Submit
	case "accept":
		return s.app.Accept
	case "reject":
		return s.app.Reject
	case "modify":
		return s.app.Modify
	}
	return s.app.Cancel
}

type bookingResponse struct {
	OK      bool           `json:"ok"`
	Booking domain.Booking `json:"booking"`
}

type statusRequest struct {
	Status string `json:"status"`
}
