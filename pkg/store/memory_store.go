package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lessonhub/pkg/domain"
)

// MemoryStore is an in-process Store with the same uniqueness and locking
// semantics as GormStore. Used for tests and local runs without Postgres.
type MemoryStore struct {
	mu            sync.Mutex
	instructors   map[string]domain.Instructor
	customers     map[string]domain.Customer
	conversations map[string]domain.Conversation
	convByKey     map[string]string
	messages      map[string][]domain.Message
	snapshots     map[string]domain.Snapshot
	drafts        map[string]domain.Draft
	draftOrder    []string
	summaries     map[string]domain.Summary
	bookings      map[string]domain.Booking
	bookingAudit  map[string][]domain.BookingAuditEntry
	audit         []domain.AuditEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instructors:   make(map[string]domain.Instructor),
		customers:     make(map[string]domain.Customer),
		conversations: make(map[string]domain.Conversation),
		convByKey:     make(map[string]string),
		messages:      make(map[string][]domain.Message),
		snapshots:     make(map[string]domain.Snapshot),
		drafts:        make(map[string]domain.Draft),
		summaries:     make(map[string]domain.Summary),
		bookings:      make(map[string]domain.Booking),
		bookingAudit:  make(map[string][]domain.BookingAuditEntry),
	}
}

func identityKey(ownerID string, channel domain.Channel, identity string) string {
	return ownerID + "\x00" + string(channel) + "\x00" + identity
}

func (s *MemoryStore) SaveInstructor(_ context.Context, in domain.Instructor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instructors[in.ID]; ok && in.CreatedAt.IsZero() {
		in.CreatedAt = existing.CreatedAt
	}
	s.instructors[in.ID] = in
	return nil
}

func (s *MemoryStore) GetInstructor(_ context.Context, id string) (domain.Instructor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.instructors[id]
	return in, ok, nil
}

func (s *MemoryStore) SaveCustomer(_ context.Context, c domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.customers {
		if existing.ID != c.ID && existing.OwnerID == c.OwnerID && existing.Channel == c.Channel &&
			existing.ExternalIdentity == c.ExternalIdentity && c.ExternalIdentity != "" {
			return ErrConflict
		}
	}
	s.customers[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCustomer(_ context.Context, id string) (domain.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	return c, ok, nil
}

func (s *MemoryStore) FindCustomerByIdentity(_ context.Context, ownerID string, channel domain.Channel, externalIdentity string) (domain.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.OwnerID == ownerID && c.Channel == channel && c.ExternalIdentity == externalIdentity {
			return c, true, nil
		}
	}
	return domain.Customer{}, false, nil
}

func (s *MemoryStore) ResolveConversation(_ context.Context, candidate domain.Conversation) (domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identityKey(candidate.OwnerID, candidate.Channel, candidate.ExternalIdentity)
	if id, ok := s.convByKey[key]; ok {
		return s.conversations[id], false, nil
	}
	s.conversations[candidate.ID] = candidate
	s.convByKey[key] = candidate.ID
	return candidate, true, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	return c, ok, nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, id string, update ConversationUpdate) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	if update.CustomerID != nil {
		c.CustomerID = *update.CustomerID
	}
	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.AIState != nil {
		c.AIState = *update.AIState
	}
	if update.LastMessageAt != nil {
		at := update.LastMessageAt.UTC()
		c.LastMessageAt = &at
	}
	c.UpdatedAt = time.Now().UTC()
	s.conversations[id] = c
	return c, nil
}

func (s *MemoryStore) InsertInboundMessage(_ context.Context, msg domain.Message) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ExternalMessageID != nil {
		for _, existing := range s.messages[msg.ConversationID] {
			if existing.ExternalMessageID != nil && *existing.ExternalMessageID == *msg.ExternalMessageID {
				return existing, false, nil
			}
		}
	}
	msg.RawPayload = nil
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, true, nil
}

func (s *MemoryStore) GetMessageByExternalID(_ context.Context, conversationID, externalMessageID string) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.ExternalMessageID != nil && *m.ExternalMessageID == externalMessageID {
			return m, true, nil
		}
	}
	return domain.Message{}, false, nil
}

func (s *MemoryStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	limit = clampLimit(limit)
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := make([]domain.Message, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

func (s *MemoryStore) CountMessages(_ context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID]), nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.snapshots[snap.MessageID]; ok {
		return existing, nil
	}
	s.snapshots[snap.MessageID] = snap
	return snap, nil
}

func (s *MemoryStore) GetSnapshotByMessage(_ context.Context, messageID string) (domain.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[messageID]
	return snap, ok, nil
}

func (s *MemoryStore) CreateDraft(_ context.Context, d domain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[d.ID]; ok {
		return ErrConflict
	}
	d.SuggestedActions = append([]domain.SuggestedAction(nil), d.SuggestedActions...)
	s.drafts[d.ID] = d
	s.draftOrder = append(s.draftOrder, d.ID)
	return nil
}

func (s *MemoryStore) GetDraft(_ context.Context, id string) (domain.Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	return d, ok, nil
}

func (s *MemoryStore) LatestDraft(_ context.Context, conversationID string) (domain.Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.draftOrder) - 1; i >= 0; i-- {
		d := s.drafts[s.draftOrder[i]]
		if d.ConversationID == conversationID {
			return d, true, nil
		}
	}
	return domain.Draft{}, false, nil
}

func (s *MemoryStore) SetDraftState(_ context.Context, id string, from, to domain.DraftState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return ErrNotFound
	}
	if d.State != from {
		return ErrConflict
	}
	d.State = to
	s.drafts[id] = d
	return nil
}

func (s *MemoryStore) GetSummary(_ context.Context, conversationID string) (domain.Summary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[conversationID]
	return sum, ok, nil
}

func (s *MemoryStore) UpsertSummary(_ context.Context, sum domain.Summary) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum.Version = s.summaries[sum.ConversationID].Version + 1
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now().UTC()
	}
	s.summaries[sum.ConversationID] = sum
	return sum, nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, b domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return ErrConflict
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (domain.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	return b, ok, nil
}

// UpdateBooking holds the store lock for the whole mutation, which serializes
// concurrent updates the same way the row lock does in Postgres.
func (s *MemoryStore) UpdateBooking(_ context.Context, id string, mutate BookingMutation) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, ErrNotFound
	}
	working := current
	entries, err := mutate(&working)
	if err != nil {
		return domain.Booking{}, err
	}
	working.ID = current.ID
	working.UpdatedAt = time.Now().UTC()
	s.bookings[id] = working
	s.bookingAudit[id] = append(s.bookingAudit[id], entries...)
	return working, nil
}

func (s *MemoryStore) ListCustomerBookings(_ context.Context, ownerID, customerID string, from, to time.Time) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.OwnerID != ownerID || b.CustomerID != customerID {
			continue
		}
		if b.StartTime.Before(from) || !b.StartTime.Before(to) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *MemoryStore) ListBookingsSince(_ context.Context, ownerID string, since time.Time, limit int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if ownerID != "" && b.OwnerID != ownerID {
			continue
		}
		if b.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListBookingAudit(_ context.Context, bookingID string) ([]domain.BookingAuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BookingAuditEntry(nil), s.bookingAudit[bookingID]...), nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) ListAuditSince(_ context.Context, since time.Time, limit int) ([]domain.AuditEntry, error) {
	return s.filterAudit(since, limit, func(domain.AuditEntry) bool { return true }), nil
}

func (s *MemoryStore) ListEntityAuditSince(_ context.Context, entityType, entityID string, since time.Time, limit int) ([]domain.AuditEntry, error) {
	return s.filterAudit(since, limit, func(e domain.AuditEntry) bool {
		return e.EntityType == entityType && e.EntityID == entityID
	}), nil
}

func (s *MemoryStore) filterAudit(since time.Time, limit int, keep func(domain.AuditEntry) bool) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = clampLimit(limit)
	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.CreatedAt.Before(since) || !keep(e) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}
