package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lessonhub/pkg/ai"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/store"
)

// fixedNow is a Tuesday.
var fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

const (
	testOwner  = "owner-1"
	testSender = "+4917000000"
)

// scriptedExecutor answers tasks by name and records every call.
type scriptedExecutor struct {
	mu        sync.Mutex
	responses map[string]ai.Result
	calls     []ai.Task
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{responses: map[string]ai.Result{}}
}

func (e *scriptedExecutor) set(name string, res ai.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[name] = res
}

func (e *scriptedExecutor) Execute(_ context.Context, task ai.Task) ai.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, task)
	res, ok := e.responses[task.Name]
	if !ok && strings.HasPrefix(task.Name, "summary_") {
		res, ok = e.responses["summary"]
	}
	if !ok {
		return ai.Result{Outcome: ai.OutcomeError, Err: errors.New("no scripted response for " + task.Name)}
	}
	if res.Model == "" {
		res.Model = "test-model"
	}
	return res
}

func (e *scriptedExecutor) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Name == name || strings.HasPrefix(c.Name, name+"_") {
			n++
		}
	}
	return n
}

func okResult(text string) ai.Result {
	return ai.Result{Outcome: ai.OutcomeOK, Text: text}
}

const validSummaryJSON = `{"summary_text":"Anna wants lessons.","facts":{"customer_name":"Anna","language":"en","current_intent":"booking_request","booking_status":"none","key_facts":["beginner"],"preferences":[],"open_questions":[],"pending_actions":[]}}`

func newTestApp(t *testing.T, exec ai.TaskExecutor, opts Options) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	a, err := New(Config{
		Store:    mem,
		Executor: exec,
		Options:  opts,
		Now:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem
}

// inbound persists one message through the bridge without orchestrating.
func inbound(t *testing.T, a *App, extID, text string) BridgeResult {
	t.Helper()
	res, err := a.PersistInboundWithInboxBridge(context.Background(), BridgeRequest{
		OwnerID:           testOwner,
		Channel:           domain.ChannelWhatsApp,
		SenderIdentity:    testSender,
		ExternalMessageID: extID,
		Text:              text,
		ReceivedAt:        fixedNow,
	})
	if err != nil {
		t.Fatalf("persist inbound: %v", err)
	}
	return res
}

func orchestrate(a *App, persisted BridgeResult, text string) OrchestrationResult {
	return a.Orchestrate(context.Background(), OrchestrateRequest{
		ConversationID: persisted.Conversation.ID,
		MessageID:      persisted.MessageID,
		MessageText:    text,
		ReceivedAt:     fixedNow,
	})
}

// waitFor polls cond until it holds or the timeout elapses. Audit reads are
// only eventually consistent.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func auditActions(t *testing.T, a *App, conversationID string) []string {
	t.Helper()
	entries, err := a.ListConversationAuditSince(context.Background(), conversationID, time.Time{}, 500)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func hasAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func seedCustomer(t *testing.T, mem *store.MemoryStore) domain.Customer {
	t.Helper()
	c := domain.Customer{
		ID:               "cust-1",
		OwnerID:          testOwner,
		Name:             "Anna",
		Channel:          domain.ChannelWhatsApp,
		ExternalIdentity: testSender,
		CreatedAt:        fixedNow,
	}
	if err := mem.SaveCustomer(context.Background(), c); err != nil {
		t.Fatalf("save customer: %v", err)
	}
	return c
}

func seedBooking(t *testing.T, mem *store.MemoryStore, id string, start, end time.Time, status domain.BookingStatus) domain.Booking {
	t.Helper()
	b := domain.Booking{
		ID:           id,
		OwnerID:      testOwner,
		CustomerID:   "cust-1",
		Status:       status,
		StartTime:    start,
		EndTime:      end,
		CustomerName: "Anna",
		MeetingPoint: "Lake parking",
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	}
	if err := mem.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}
