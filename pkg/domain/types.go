package domain

import "time"

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWeb      Channel = "web"
)

type ConversationStatus string

const (
	ConversationOpen          ConversationStatus = "open"
	ConversationRequiresHuman ConversationStatus = "requires_human"
	ConversationClosed        ConversationStatus = "closed"
)

type AIState string

const (
	AIOn            AIState = "ai_on"
	AIPausedByHuman AIState = "ai_paused_by_human"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Intent string

const (
	IntentBookingRequest       Intent = "booking_request"
	IntentReschedule           Intent = "reschedule"
	IntentCancel               Intent = "cancel"
	IntentAvailabilityQuestion Intent = "availability_question"
	IntentGeneralQuestion      Intent = "general_question"
	IntentOther                Intent = "other"
)

// ParseIntent maps free-form model output onto a known intent.
func ParseIntent(raw string) (Intent, bool) {
	switch Intent(raw) {
	case IntentBookingRequest, IntentReschedule, IntentCancel,
		IntentAvailabilityQuestion, IntentGeneralQuestion, IntentOther:
		return Intent(raw), true
	case "cancellation":
		return IntentCancel, true
	case "rescheduling", "reschedule_request":
		return IntentReschedule, true
	}
	return "", false
}

type DraftState string

const (
	DraftProposed DraftState = "proposed"
	DraftUsed     DraftState = "used"
	DraftIgnored  DraftState = "ignored"
	DraftExpired  DraftState = "expired"
)

type BookingStatus string

const (
	BookingDraft     BookingStatus = "draft"
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingDeclined  BookingStatus = "declined"
	BookingModified  BookingStatus = "modified"
	BookingCancelled BookingStatus = "cancelled"
)

type Actor string

const (
	ActorHuman  Actor = "human"
	ActorSystem Actor = "system"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Conversation struct {
	ID               string             `json:"id"`
	OwnerID          string             `json:"ownerId"`
	Channel          Channel            `json:"channel"`
	ExternalIdentity string             `json:"externalIdentity"`
	CustomerID       string             `json:"customerId,omitempty"`
	Status           ConversationStatus `json:"status"`
	AIState          AIState            `json:"aiState"`
	LastMessageAt    *time.Time         `json:"lastMessageAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversationId"`
	Direction         Direction `json:"direction"`
	ExternalMessageID *string   `json:"externalMessageId,omitempty"`
	SenderIdentity    string    `json:"senderIdentity"`
	Text              string    `json:"text"`
	RawPayloadKey     string    `json:"rawPayloadKey,omitempty"`
	RawPayload        []byte    `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Snapshot is the per-message classification record. Immutable once written.
type Snapshot struct {
	ID                  string    `json:"id"`
	MessageID           string    `json:"messageId"`
	ConversationID      string    `json:"conversationId"`
	Relevant            bool      `json:"relevant"`
	RelevanceConfidence float64   `json:"relevanceConfidence"`
	Intent              *Intent   `json:"intent,omitempty"`
	IntentConfidence    float64   `json:"intentConfidence"`
	Model               string    `json:"model"`
	CreatedAt           time.Time `json:"createdAt"`
}

type SuggestedAction struct {
	Type          string     `json:"type"`
	BookingID     string     `json:"bookingId,omitempty"`
	ProposedStart *time.Time `json:"proposedStart,omitempty"`
	ProposedEnd   *time.Time `json:"proposedEnd,omitempty"`
	RequiresHuman bool       `json:"requiresHuman"`
	Justification string     `json:"justification,omitempty"`
}

type Draft struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversationId"`
	MessageID        string            `json:"messageId,omitempty"`
	Text             string            `json:"text"`
	State            DraftState        `json:"state"`
	SuggestedActions []SuggestedAction `json:"suggestedActions,omitempty"`
	ConfidenceBand   string            `json:"confidenceBand,omitempty"`
	Language         string            `json:"language,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// EffectiveState reports the state a reader should act on. A proposed draft
// that is not the newest draft of its conversation (latestID, any state), or
// has outlived ttl, is expired.
func (d Draft) EffectiveState(latestID string, now time.Time, ttl time.Duration) DraftState {
	if d.State != DraftProposed {
		return d.State
	}
	if latestID != "" && latestID != d.ID {
		return DraftExpired
	}
	if ttl > 0 && now.Sub(d.CreatedAt) > ttl {
		return DraftExpired
	}
	return DraftProposed
}

// SummaryFacts is the structured half of a conversation summary. Scalars are
// always kept; list fields are trimmed when the serialized form is too large.
type SummaryFacts struct {
	CustomerName   string   `json:"customer_name"`
	Language       string   `json:"language"`
	CurrentIntent  string   `json:"current_intent"`
	BookingStatus  string   `json:"booking_status"`
	KeyFacts       []string `json:"key_facts"`
	Preferences    []string `json:"preferences"`
	OpenQuestions  []string `json:"open_questions"`
	PendingActions []string `json:"pending_actions"`
}

type Summary struct {
	ConversationID string       `json:"conversationId"`
	Text           string       `json:"text"`
	Facts          SummaryFacts `json:"facts"`
	Version        int          `json:"version"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type Booking struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"ownerId"`
	CustomerID   string        `json:"customerId"`
	Status       BookingStatus `json:"status"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      time.Time     `json:"endTime"`
	CustomerName string        `json:"customerName"`
	Notes        string        `json:"notes"`
	MeetingPoint string        `json:"meetingPoint"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type BookingAuditEntry struct {
	ID            string        `json:"id"`
	BookingID     string        `json:"bookingId"`
	PreviousState BookingStatus `json:"previousState"`
	NewState      BookingStatus `json:"newState"`
	Actor         Actor         `json:"actor"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// AuditEntry is a system-wide evidence record. Append-only.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActorType  Actor          `json:"actorType"`
	ActorID    string         `json:"actorId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Severity   Severity       `json:"severity"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type Customer struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	Name             string    `json:"name"`
	Channel          Channel   `json:"channel"`
	ExternalIdentity string    `json:"externalIdentity"`
	CreatedAt        time.Time `json:"createdAt"`
}

type Instructor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Onboarded bool      `json:"onboarded"`
	CreatedAt time.Time `json:"createdAt"`
}
