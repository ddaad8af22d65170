package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type InstructorModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Onboarded bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

type CustomerModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;uniqueIndex:idx_customer_identity,priority:1"`
	Name             string
	Channel          string    `gorm:"not null;uniqueIndex:idx_customer_identity,priority:2"`
	ExternalIdentity string    `gorm:"not null;uniqueIndex:idx_customer_identity,priority:3"`
	CreatedAt        time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;uniqueIndex:idx_conversation_identity,priority:1"`
	Channel          string `gorm:"not null;uniqueIndex:idx_conversation_identity,priority:2"`
	ExternalIdentity string `gorm:"not null;uniqueIndex:idx_conversation_identity,priority:3"`
	CustomerID       string `gorm:"index"`
	Status           string `gorm:"not null"`
	AIState          string `gorm:"column:ai_state;not null"`
	LastMessageAt    *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID                string  `gorm:"primaryKey"`
	ConversationID    string  `gorm:"not null;index;uniqueIndex:idx_message_external,priority:1"`
	Direction         string  `gorm:"not null"`
	ExternalMessageID *string `gorm:"uniqueIndex:idx_message_external,priority:2"`
	SenderIdentity    string
	Text              string    `gorm:"type:text;not null"`
	RawPayloadKey     string    `gorm:"column:raw_payload_key"`
	CreatedAt         time.Time `gorm:"not null;index"`
}

type SnapshotModel struct {
	ID                  string `gorm:"primaryKey"`
	MessageID           string `gorm:"not null;uniqueIndex"`
	ConversationID      string `gorm:"not null;index"`
	Relevant            bool   `gorm:"not null"`
	RelevanceConfidence float64
	Intent              *string
	IntentConfidence    float64
	Model               string
	CreatedAt           time.Time `gorm:"not null"`
}

type DraftModel struct {
	ID               string `gorm:"primaryKey"`
	ConversationID   string `gorm:"not null;index"`
	MessageID        string
	Text             string         `gorm:"type:text;not null"`
	State            string         `gorm:"not null;index"`
	SuggestedActions datatypes.JSON `gorm:"type:jsonb"`
	ConfidenceBand   string
	Language         string
	CreatedAt        time.Time `gorm:"not null;index"`
}

type SummaryModel struct {
	ConversationID string         `gorm:"primaryKey"`
	Text           string         `gorm:"type:text;not null"`
	Facts          datatypes.JSON `gorm:"type:jsonb"`
	Version        int            `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

type BookingModel struct {
	ID           string    `gorm:"primaryKey"`
	OwnerID      string    `gorm:"not null;index:idx_booking_owner_customer,priority:1"`
	CustomerID   string    `gorm:"not null;index:idx_booking_owner_customer,priority:2"`
	Status       string    `gorm:"not null"`
	StartTime    time.Time `gorm:"not null;index"`
	EndTime      time.Time `gorm:"not null"`
	CustomerName string
	Notes        string `gorm:"type:text"`
	MeetingPoint string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;index"`
}

type BookingAuditModel struct {
	ID            string    `gorm:"primaryKey"`
	BookingID     string    `gorm:"not null;index"`
	PreviousState string    `gorm:"not null"`
	NewState      string    `gorm:"not null"`
	Actor         string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

type AuditModel struct {
	ID         string `gorm:"primaryKey"`
	ActorType  string `gorm:"not null"`
	ActorID    string
	Action     string         `gorm:"not null;index"`
	EntityType string         `gorm:"not null;index:idx_audit_entity,priority:1"`
	EntityID   string         `gorm:"not null;index:idx_audit_entity,priority:2"`
	Severity   string         `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}
