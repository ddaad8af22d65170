package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"lessonhub/internal/ratelimit"
	"lessonhub/pkg/ai"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/store"
	"lessonhub/services/inbox/internal/app"
	"lessonhub/services/inbox/internal/metrics"
)

const testToken = "internal-token-0123456789"

var fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type stubExecutor struct {
	responses map[string]string
}

func (e stubExecutor) Execute(_ context.Context, task ai.Task) ai.Result {
	for prefix, text := range e.responses {
		if strings.HasPrefix(task.Name, prefix) {
			return ai.Result{Outcome: ai.OutcomeOK, Text: text, Model: "stub"}
		}
	}
	return ai.Result{Outcome: ai.OutcomeError, Err: errors.New("unscripted task " + task.Name)}
}

// failingInsertStore fails every inbound message write.
type failingInsertStore struct {
	*store.MemoryStore
}

func (failingInsertStore) InsertInboundMessage(context.Context, domain.Message) (domain.Message, bool, error) {
	return domain.Message{}, false, errors.New("connection refused")
}

type fixture struct {
	handler http.Handler
	store   *store.MemoryStore
	metrics *metrics.Metrics
	redis   *miniredis.Miniredis
}

type fixtureOptions struct {
	limit int
	// wrap replaces the store handed to the app; the fixture keeps the memory store.
	wrap func(*store.MemoryStore) store.Store
}

func newFixture(t *testing.T, limit int) fixture {
	t.Helper()
	return newFixtureWith(t, fixtureOptions{limit: limit})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	var st store.Store = mem
	if opts.wrap != nil {
		st = opts.wrap(mem)
	}
	m := metrics.New()
	exec := stubExecutor{responses: map[string]string{
		"classify": `{"relevant": true, "relevance_confidence": 0.95, "intent": "booking_request", "intent_confidence": 0.9}`,
		"summary":  `{"summary_text":"Wants a lesson.","facts":{"customer_name":"","language":"en","current_intent":"booking_request","booking_status":"none","key_facts":[],"preferences":[],"open_questions":[],"pending_actions":[]}}`,
		"draft":    "Happy to help. Which day works for you?",
	}}
	a, err := app.New(app.Config{
		Store:    st,
		Executor: exec,
		Metrics:  m,
		Now:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	var (
		limiter  *ratelimit.FixedWindowLimiter
		redisSrv *miniredis.Miniredis
	)
	if opts.limit > 0 {
		redisSrv = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		limiter, err = ratelimit.NewFixedWindowLimiter(client, "test:inbox", opts.limit, time.Minute)
		if err != nil {
			t.Fatalf("new limiter: %v", err)
		}
	}

	srv, err := New(Config{App: a, InternalToken: testToken, Limiter: limiter, Metrics: m})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return fixture{handler: srv.Router(), store: mem, metrics: m, redis: redisSrv}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Internal-Token", testToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func inboundBody(extID, text string) map[string]any {
	return map[string]any{
		"ownerId":           "owner-1",
		"channel":           "whatsapp",
		"senderIdentity":    "+4917000000",
		"externalMessageId": extID,
		"text":              text,
		"receivedAt":        fixedNow.Format(time.RFC3339),
	}
}

func decodeInbound(t *testing.T, rec *httptest.ResponseRecorder) inboundResponse {
	t.Helper()
	var resp inboundResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode inbound response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestInternalRoutesRequireToken(t *testing.T) {
	f := newFixture(t, 0)
	for _, token := range []string{"", "wrong-token"} {
		req := httptest.NewRequest(http.MethodGet, "/internal/audit", nil)
		if token != "" {
			req.Header.Set("X-Internal-Token", token)
		}
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, rec.Code)
		}
		if resp := decodeError(t, rec); resp.Code != "AUTH_INVALID_SERVICE_TOKEN" || resp.RequestID == "" {
			t.Fatalf("unexpected error body %+v", resp)
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{InternalToken: testToken}); err == nil {
		t.Fatal("expected error without app")
	}
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Executor: stubExecutor{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := New(Config{App: a, InternalToken: "  "}); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestInboundDraftsAndDeduplicates(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "Hi, can I book a lesson?"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	first := decodeInbound(t, rec)
	if first.ConversationID == "" || first.MessageID == "" || first.Duplicate {
		t.Fatalf("unexpected response %+v", first)
	}
	if first.Result == nil || !first.Result.DraftGenerated || first.Result.DraftID == "" {
		t.Fatalf("expected drafted result, got %+v", first.Result)
	}

	rec = f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "Hi, can I book a lesson?"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec.Code)
	}
	dup := decodeInbound(t, rec)
	if !dup.Duplicate || dup.MessageID != first.MessageID || dup.Result != nil {
		t.Fatalf("unexpected duplicate response %+v", dup)
	}

	n, err := f.store.CountMessages(context.Background(), first.ConversationID)
	if err != nil || n != 1 {
		t.Fatalf("expected one stored message, got %d err=%v", n, err)
	}
}

func TestInboundRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/internal/inbound", strings.NewReader("{not json"))
	req.Header.Set("X-Internal-Token", testToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "INBOUND_INVALID_PAYLOAD" {
		t.Fatalf("expected invalid payload, got %d", rec.Code)
	}

	body := inboundBody("wamid-2", "hello")
	body["channel"] = "pigeon"
	rec = f.do(t, http.MethodPost, "/internal/inbound", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown channel, got %d", rec.Code)
	}
}

func TestInboundRateLimited(t *testing.T) {
	f := newFixture(t, 1)

	if rec := f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "hello")); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-2", "hello again"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if resp := decodeError(t, rec); resp.Code != "INBOUND_RATE_LIMITED" {
		t.Fatalf("unexpected code %q", resp.Code)
	}
}

func TestInboundAdmittedWhenLimiterUnavailable(t *testing.T) {
	f := newFixture(t, 1)
	f.redis.Close()

	rec := f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "Can I book a lesson?"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with redis down, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeInbound(t, rec)
	n, err := f.store.CountMessages(context.Background(), resp.ConversationID)
	if err != nil || n != 1 {
		t.Fatalf("expected message stored, got %d err=%v", n, err)
	}
	if got := testutil.ToFloat64(f.metrics.LimiterErrors.WithLabelValues("whatsapp")); got != 1 {
		t.Fatalf("expected limiter error counted, got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.InboundTotal.WithLabelValues("whatsapp", "rate_limited")); got != 0 {
		t.Fatalf("message must not be counted as rate limited, got %v", got)
	}
}

func TestInboundStoreFailureReturns503(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{wrap: func(mem *store.MemoryStore) store.Store {
		return failingInsertStore{mem}
	}})

	rec := f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "Can I book a lesson?"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Code != "INBOUND_STORE_UNAVAILABLE" {
		t.Fatalf("unexpected code %q", resp.Code)
	}
}

func TestDraftUseThenConflict(t *testing.T) {
	f := newFixture(t, 0)
	first := decodeInbound(t, f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "Can I book a lesson?")))
	draftID := first.Result.DraftID

	rec := f.do(t, http.MethodGet, "/internal/drafts/"+draftID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get draft: %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/internal/drafts/"+draftID+"/use", map[string]string{"actorId": "owner-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("use draft: %d %s", rec.Code, rec.Body.String())
	}
	var used struct {
		Draft domain.Draft `json:"draft"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&used); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	if used.Draft.State != domain.DraftUsed {
		t.Fatalf("expected used, got %q", used.Draft.State)
	}

	rec = f.do(t, http.MethodPost, "/internal/drafts/"+draftID+"/ignore", map[string]string{"actorId": "owner-1"})
	if rec.Code != http.StatusConflict || decodeError(t, rec).Code != "DRAFT_NOT_ACTIONABLE" {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	if rec := f.do(t, http.MethodGet, "/internal/drafts/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown draft, got %d", rec.Code)
	}
}

func TestConversationControlsAndAudit(t *testing.T) {
	f := newFixture(t, 0)
	first := decodeInbound(t, f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "Can I book a lesson?")))
	base := "/internal/conversations/" + first.ConversationID

	rec := f.do(t, http.MethodPost, base+"/ai-state", map[string]string{"aiState": "ai_paused_by_human", "actorId": "owner-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause ai: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, base+"/status", map[string]string{"status": "nope", "actorId": "owner-1"})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "CONVERSATION_INVALID_STATE" {
		t.Fatalf("expected invalid state, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, base+"/customer", map[string]string{"customerId": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", rec.Code)
	}

	// paused conversations still persist but skip the pipeline
	second := decodeInbound(t, f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-2", "Any news?")))
	if second.Result == nil || second.Result.SkipReason != "ai_paused" {
		t.Fatalf("expected ai_paused skip, got %+v", second.Result)
	}

	var entries []domain.AuditEntry
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec = f.do(t, http.MethodGet, base+"/audit?since="+fixedNow.Add(-time.Hour).Format(time.RFC3339), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list audit: %d", rec.Code)
		}
		var resp struct {
			Items []domain.AuditEntry `json:"items"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode audit: %v", err)
		}
		entries = resp.Items
		if hasAction(entries, "ai.pipeline.skipped") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	for _, action := range []string{"ai.draft.proposed", "conversation.ai_state_changed", "ai.pipeline.skipped"} {
		if !hasAction(entries, action) {
			t.Fatalf("missing audit action %q in %+v", action, entries)
		}
	}

	if rec := f.do(t, http.MethodGet, base+"/audit?since=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	f.do(t, http.MethodPost, "/internal/inbound", inboundBody("wamid-1", "Can I book a lesson?"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"lessonhub_inbox_inbound_messages_total",
		"lessonhub_inbox_orchestrations_total",
		"lessonhub_inbox_stage_duration_seconds",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

func hasAction(entries []domain.AuditEntry, action string) bool {
	for _, e := range entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

func TestRoutesAreServed(t *testing.T) {
	f := newFixture(t, 0)

	for _, route := range Routes() {
		method, pattern, _ := strings.Cut(route, " ")
		path := strings.ReplaceAll(pattern, "{id}", "unknown")
		rec := f.do(t, method, path, nil)
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
