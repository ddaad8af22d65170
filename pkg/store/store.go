package store

import (
	"context"
	"errors"
	"time"

	"lessonhub/pkg/domain"
)

var (
	// ErrNotFound is returned by mutations addressed at a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a conditional write lost a race.
	ErrConflict = errors.New("store: conflict")
)

// BookingMutation runs while the booking row is locked. It may modify current
// in place and returns the audit entries to persist in the same transaction.
// Returning an error rolls back every change.
type BookingMutation func(current *domain.Booking) ([]domain.BookingAuditEntry, error)

// ConversationUpdate lists the mutable conversation fields; nil means unchanged.
type ConversationUpdate struct {
	CustomerID    *string
	Status        *domain.ConversationStatus
	AIState       *domain.AIState
	LastMessageAt *time.Time
}

// Store defines persistence for the inbound pipeline and the booking lifecycle.
// Reads that feed evidence tooling may lag writes slightly.
type Store interface {
	// instructors and customers
	SaveInstructor(ctx context.Context, in domain.Instructor) error
	GetInstructor(ctx context.Context, id string) (domain.Instructor, bool, error)
	SaveCustomer(ctx context.Context, c domain.Customer) error
	GetCustomer(ctx context.Context, id string) (domain.Customer, bool, error)
	FindCustomerByIdentity(ctx context.Context, ownerID string, channel domain.Channel, externalIdentity string) (domain.Customer, bool, error)

	// conversations
	ResolveConversation(ctx context.Context, candidate domain.Conversation) (domain.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	UpdateConversation(ctx context.Context, id string, update ConversationUpdate) (domain.Conversation, error)

	// messages
	InsertInboundMessage(ctx context.Context, msg domain.Message) (domain.Message, bool, error)
	GetMessageByExternalID(ctx context.Context, conversationID, externalMessageID string) (domain.Message, bool, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)

	// snapshots
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error)
	GetSnapshotByMessage(ctx context.Context, messageID string) (domain.Snapshot, bool, error)

	// drafts
	CreateDraft(ctx context.Context, d domain.Draft) error
	GetDraft(ctx context.Context, id string) (domain.Draft, bool, error)
	// LatestDraft is the newest draft of a conversation regardless of state.
	LatestDraft(ctx context.Context, conversationID string) (domain.Draft, bool, error)
	SetDraftState(ctx context.Context, id string, from, to domain.DraftState) error

	// summaries
	GetSummary(ctx context.Context, conversationID string) (domain.Summary, bool, error)
	UpsertSummary(ctx context.Context, sum domain.Summary) (domain.Summary, error)

	// bookings
	CreateBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id string) (domain.Booking, bool, error)
	UpdateBooking(ctx context.Context, id string, mutate BookingMutation) (domain.Booking, error)
	ListCustomerBookings(ctx context.Context, ownerID, customerID string, from, to time.Time) ([]domain.Booking, error)
	ListBookingsSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]domain.Booking, error)
	ListBookingAudit(ctx context.Context, bookingID string) ([]domain.BookingAuditEntry, error)

	// audit log
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	ListAuditSince(ctx context.Context, since time.Time, limit int) ([]domain.AuditEntry, error)
	ListEntityAuditSince(ctx context.Context, entityType, entityID string, since time.Time, limit int) ([]domain.AuditEntry, error)
}

const defaultListLimit = 200

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
