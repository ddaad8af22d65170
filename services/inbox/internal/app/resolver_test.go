package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lessonhub/pkg/domain"
	"lessonhub/pkg/storage"
	"lessonhub/pkg/store"
)

func TestResolveConcurrentCallsShareConversation(t *testing.T) {
	mem := store.NewMemoryStore()
	r := NewResolver(mem, func() time.Time { return fixedNow })

	const workers = 32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := r.Resolve(context.Background(), domain.ChannelWhatsApp, testSender, testOwner)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id == "" || id != ids[0] {
			t.Fatalf("expected one conversation, got %v", ids)
		}
	}

	other, err := r.Resolve(context.Background(), domain.ChannelSMS, testSender, testOwner)
	if err != nil {
		t.Fatalf("resolve sms: %v", err)
	}
	if other.ID == ids[0] {
		t.Fatal("a different channel must get its own conversation")
	}
	conv, _, _ := mem.GetConversation(context.Background(), ids[0])
	if conv.Status != domain.ConversationOpen || conv.AIState != domain.AIOn {
		t.Fatalf("new conversations start open with AI on: %+v", conv)
	}
}

func TestResolveRejectsIncompleteIdentity(t *testing.T) {
	r := NewResolver(store.NewMemoryStore(), nil)
	cases := []struct {
		channel  domain.Channel
		identity string
		owner    string
	}{
		{domain.ChannelWhatsApp, "", testOwner},
		{domain.ChannelWhatsApp, testSender, " "},
		{"pager", testSender, testOwner},
	}
	for _, tc := range cases {
		if _, err := r.Resolve(context.Background(), tc.channel, tc.identity, tc.owner); !errors.Is(err, ErrInvalidInbound) {
			t.Fatalf("%+v: expected ErrInvalidInbound, got %v", tc, err)
		}
	}
}

func TestLinkCustomerChecksOwner(t *testing.T) {
	mem := store.NewMemoryStore()
	r := NewResolver(mem, nil)
	conv, err := r.Resolve(context.Background(), domain.ChannelWhatsApp, testSender, testOwner)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_ = mem.SaveCustomer(context.Background(), domain.Customer{ID: "mine", OwnerID: testOwner, Name: "Anna"})
	_ = mem.SaveCustomer(context.Background(), domain.Customer{ID: "theirs", OwnerID: "owner-2", Name: "Ben"})

	if _, err := r.LinkCustomer(context.Background(), conv.ID, "theirs"); !errors.Is(err, ErrCustomerOwnerMismatch) {
		t.Fatalf("expected owner mismatch, got %v", err)
	}
	if _, err := r.LinkCustomer(context.Background(), conv.ID, "ghost"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected customer not found, got %v", err)
	}
	linked, err := r.LinkCustomer(context.Background(), conv.ID, "mine")
	if err != nil || linked.CustomerID != "mine" {
		t.Fatalf("link: %+v %v", linked, err)
	}
	if _, err := r.SetAIState(context.Background(), "missing", domain.AIPausedByHuman); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected conversation not found, got %v", err)
	}
	if _, err := r.SetAIState(context.Background(), conv.ID, "sleepy"); !errors.Is(err, ErrInvalidAIState) {
		t.Fatalf("expected invalid ai state, got %v", err)
	}
}

func TestIngestDeduplicatesAndArchives(t *testing.T) {
	mem := store.NewMemoryStore()
	archive := storage.NewMemoryArchive()
	ing := NewIngestor(mem, archive, func() time.Time { return fixedNow })

	msg := InboundMessage{
		ConversationID:    "conv-1",
		Channel:           domain.ChannelEmail,
		ExternalMessageID: "<abc@mail>",
		SenderIdentity:    "anna@example.com",
		Text:              "<p>Hello <b>there</b></p><script>x()</script>",
		RawPayload:        []byte(`{"raw":true}`),
	}
	id1, err := ing.Ingest(context.Background(), msg)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	id2, err := ing.Ingest(context.Background(), msg)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("redelivery must return the first id: %s vs %s", id1, id2)
	}
	if n, _ := mem.CountMessages(context.Background(), "conv-1"); n != 1 {
		t.Fatalf("expected one stored message, got %d", n)
	}
	stored, ok, _ := mem.GetMessageByExternalID(context.Background(), "conv-1", "<abc@mail>")
	if !ok || stored.Text != "Hello there" {
		t.Fatalf("expected extracted text, got %+v", stored)
	}
	if stored.RawPayloadKey == "" {
		t.Fatal("raw payload key not recorded")
	}
	if body, ok := archive.Get(stored.RawPayloadKey); !ok || string(body) != `{"raw":true}` {
		t.Fatalf("raw payload not archived under %s", stored.RawPayloadKey)
	}
}

type failingArchive struct{}

func (failingArchive) Archive(context.Context, string, []byte) error {
	return errors.New("bucket unavailable")
}

func TestIngestSurvivesArchiveFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	ing := NewIngestor(mem, failingArchive{}, nil)
	id, err := ing.Ingest(context.Background(), InboundMessage{ConversationID: "conv-1", Text: "hi", RawPayload: []byte("x")})
	if err != nil || id == "" {
		t.Fatalf("archive failure must not block ingestion: %q %v", id, err)
	}
	msgs, _ := mem.ListRecentMessages(context.Background(), "conv-1", 10)
	if len(msgs) != 1 || msgs[0].RawPayloadKey != "" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestIngestWithoutExternalIDAlwaysInserts(t *testing.T) {
	mem := store.NewMemoryStore()
	ing := NewIngestor(mem, nil, nil)
	for i := 0; i < 2; i++ {
		if _, err := ing.Ingest(context.Background(), InboundMessage{ConversationID: "conv-1", Text: "same"}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	if n, _ := mem.CountMessages(context.Background(), "conv-1"); n != 2 {
		t.Fatalf("messages without external id are not deduplicated, got %d", n)
	}
	if _, err := ing.Ingest(context.Background(), InboundMessage{Text: "orphan"}); !errors.Is(err, ErrInvalidInbound) {
		t.Fatalf("expected ErrInvalidInbound, got %v", err)
	}
}

func TestBridgeTouchesConversation(t *testing.T) {
	a, mem := newTestApp(t, newScriptedExecutor(), Options{})
	res := inbound(t, a, "wamid-1", "hi")
	conv, _, _ := mem.GetConversation(context.Background(), res.Conversation.ID)
	if conv.LastMessageAt == nil || !conv.LastMessageAt.Equal(fixedNow) {
		t.Fatalf("last message time not set: %+v", conv.LastMessageAt)
	}
	if res.Duplicate {
		t.Fatal("first delivery is not a duplicate")
	}
}
