package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lessonhub/internal/ratelimit"
	"lessonhub/internal/util"
	"lessonhub/pkg/domain"
	"lessonhub/services/inbox/internal/app"
	"lessonhub/services/inbox/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	InternalToken string
	// Limiter throttles the inbound bridge per channel and sender; nil disables it.
	Limiter *ratelimit.FixedWindowLimiter
	Metrics *metrics.Metrics
}

// Server exposes the internal endpoints of the inbox service.
type Server struct {
	app           *app.App
	internalToken []byte
	limiter       *ratelimit.FixedWindowLimiter
	metrics       *metrics.Metrics
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	token := strings.TrimSpace(cfg.InternalToken)
	if token == "" {
		return nil, errors.New("internal token required")
	}
	s := &Server{
		app:           cfg.App,
		internalToken: []byte(token),
		limiter:       cfg.Limiter,
		metrics:       cfg.Metrics,
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
		"GET /metrics",
		"POST /internal/inbound",
		"GET /internal/audit",
		"GET /internal/bookings",
		"GET /internal/conversations/{id}/audit",
		"POST /internal/conversations/{id}/ai-state",
		"POST /internal/conversations/{id}/status",
		"POST /internal/conversations/{id}/customer",
		"GET /internal/drafts/{id}",
		"POST /internal/drafts/{id}/use",
		"POST /internal/drafts/{id}/ignore",
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.Handle("/internal/inbound", s.withInternal(s.handleInbound))
	s.mux.Handle("/internal/audit", s.withInternal(s.handleAudit))
	s.mux.Handle("/internal/bookings", s.withInternal(s.handleBookings))
	s.mux.Handle("/internal/conversations/", s.withInternal(s.handleConversation))
	s.mux.Handle("/internal/drafts/", s.withInternal(s.handleDraft))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), s.internalToken) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "unreadable body", "INBOUND_INVALID_PAYLOAD")
		return
	}
	var req app.BridgeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid JSON body", "INBOUND_INVALID_PAYLOAD")
		return
	}
	req.RawPayload = body

	// A blank sender is rejected by the app; the limiter needs an identity.
	sender := strings.TrimSpace(req.SenderIdentity)
	if s.limiter != nil && sender != "" {
		decision, err := s.limiter.Allow(r.Context(), string(req.Channel)+":"+sender)
		switch {
		case err != nil:
			// ingestion must not depend on Redis
			util.LoggerFromContext(r.Context()).Warn("inbound rate limiter unavailable, admitting message", "channel", req.Channel, "err", err)
			s.metrics.ObserveLimiterError(string(req.Channel))
		case !decision.Allowed:
			s.metrics.ObserveInbound(string(req.Channel), "rate_limited")
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.ResetAfter.Seconds())+1))
			writeErrorCode(w, http.StatusTooManyRequests, "too many inbound messages", "INBOUND_RATE_LIMITED")
			return
		}
	}

	persisted, result, err := s.app.HandleInbound(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInbound) {
			writeErrorCode(w, http.StatusBadRequest, err.Error(), "INBOUND_INVALID_PAYLOAD")
			return
		}
		util.LoggerFromContext(r.Context()).Error("inbound persist failed", "channel", req.Channel, "err", err)
		writeErrorCode(w, http.StatusServiceUnavailable, "inbound message not stored", "INBOUND_STORE_UNAVAILABLE")
		return
	}
	status := http.StatusCreated
	if persisted.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, inboundResponse{
		OK:             true,
		ConversationID: persisted.Conversation.ID,
		MessageID:      persisted.MessageID,
		Duplicate:      persisted.Duplicate,
		Result:         result,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	since, limit, ok := listParams(w, r)
	if !ok {
		return
	}
	entries, err := s.app.ListAuditSince(r.Context(), since, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	since, limit, ok := listParams(w, r)
	if !ok {
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("ownerId"))
	bookings, err := s.app.ListBookingsSince(r.Context(), ownerID, since, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": bookings, "count": len(bookings)})
}

// /internal/conversations/{id}/{audit|ai-state|status|customer}
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/internal/conversations/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		notFound(w)
		return
	}
	id, action := parts[0], parts[1]
	ctx := r.Context()

	if action == "audit" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		since, limit, ok := listParams(w, r)
		if !ok {
			return
		}
		entries, err := s.app.ListConversationAuditSince(ctx, id, since, limit)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req conversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		conv domain.Conversation
		err  error
	)
	switch action {
	case "ai-state":
		conv, err = s.app.SetAIState(ctx, id, req.ActorID, domain.AIState(req.AIState))
	case "status":
		conv, err = s.app.SetStatus(ctx, id, req.ActorID, domain.ConversationStatus(req.Status))
	case "customer":
		conv, err = s.app.LinkCustomer(ctx, id, req.CustomerID)
	default:
		notFound(w)
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation": conv})
}

// /internal/drafts/{id} or /internal/drafts/{id}/{use|ignore}
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/internal/drafts/"), "/"), "/")
	if parts[0] == "" || len(parts) > 2 {
		notFound(w)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		d, err := s.app.GetDraft(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "draft": d})
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req draftActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		d   domain.Draft
		err error
	)
	switch parts[1] {
	case "use":
		d, err = s.app.UseDraft(r.Context(), id, req.ActorID)
	case "ignore":
		d, err = s.app.IgnoreDraft(r.Context(), id, req.ActorID)
	default:
		notFound(w)
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "draft": d})
}

func listParams(w http.ResponseWriter, r *http.Request) (time.Time, int, bool) {
	q := r.URL.Query()
	var since time.Time
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "since must be RFC 3339", "REQUEST_INVALID_QUERY")
			return time.Time{}, 0, false
		}
		since = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErrorCode(w, http.StatusBadRequest, "limit must be a non-negative integer", "REQUEST_INVALID_QUERY")
			return time.Time{}, 0, false
		}
		limit = n
	}
	return since, limit, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID_PAYLOAD")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
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
		util.LoggerFromContext(r.Context()).Error("inbox request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeErrorCode(w, status, msg, code)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidInbound):
		return http.StatusBadRequest, "INBOUND_INVALID_PAYLOAD"
	case errors.Is(err, app.ErrConversationNotFound):
		return http.StatusNotFound, "CONVERSATION_NOT_FOUND"
	case errors.Is(err, app.ErrInvalidAIState), errors.Is(err, app.ErrInvalidStatus):
		return http.StatusBadRequest, "CONVERSATION_INVALID_STATE"
	case errors.Is(err, app.ErrCustomerNotFound):
		return http.StatusNotFound, "CUSTOMER_NOT_FOUND"
	case errors.Is(err, app.ErrCustomerOwnerMismatch):
		return http.StatusForbidden, "CUSTOMER_FORBIDDEN"
	case errors.Is(err, app.ErrDraftNotFound):
		return http.StatusNotFound, "DRAFT_NOT_FOUND"
	case errors.Is(err, app.ErrDraftNotActionable):
		return http.StatusConflict, "DRAFT_NOT_ACTIONABLE"
	}
	return http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
}

func defaultErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID_PAYLOAD"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_SERVICE_TOKEN"
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

type inboundResponse struct {
	OK             bool                     `json:"ok"`
	ConversationID string                   `json:"conversationId"`
	MessageID      string                   `json:"messageId"`
	Duplicate      bool                     `json:"duplicate"`
	Result         *app.OrchestrationResult `json:"result,omitempty"`
}

type conversationRequest struct {
	ActorID    string `json:"actorId"`
	AIState    string `json:"aiState"`
	Status     string `json:"status"`
	CustomerID string `json:"customerId"`
}

type draftActionRequest struct {
	ActorID string `json:"actorId"`
}
