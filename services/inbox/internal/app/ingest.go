package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lessonhub/internal/util"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/storage"
	"lessonhub/pkg/store"
)

const archiveTimeout = 3 * time.Second

// InboundMessage is one message as handed over by a channel adapter.
type InboundMessage struct {
	ConversationID    string
	Channel           domain.Channel
	ExternalMessageID string
	SenderIdentity    string
	Text              string
	ReceivedAt        time.Time
	RawPayload        []byte
}

// Ingestor persists inbound messages exactly once per external message id.
type Ingestor struct {
	store   store.Store
	archive storage.RawPayloadArchive
	now     func() time.Time
}

func NewIngestor(s store.Store, archive storage.RawPayloadArchive, now func() time.Time) *Ingestor {
	if now == nil {
		now = time.Now
	}
	return &Ingestor{store: s, archive: archive, now: now}
}

// Ingest stores msg and returns its id. A redelivery of the same external
// message id returns the id of the first insert.
func (i *Ingestor) Ingest(ctx context.Context, msg InboundMessage) (string, error) {
	stored, _, err := i.ingest(ctx, msg)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

func (i *Ingestor) ingest(ctx context.Context, in InboundMessage) (domain.Message, bool, error) {
	if strings.TrimSpace(in.ConversationID) == "" {
		return domain.Message{}, false, fmt.Errorf("%w: conversation id required", ErrInvalidInbound)
	}
	created := in.ReceivedAt
	if created.IsZero() {
		created = i.now()
	}
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: in.ConversationID,
		Direction:      domain.DirectionInbound,
		SenderIdentity: strings.TrimSpace(in.SenderIdentity),
		Text:           util.ExtractText(in.Text),
		CreatedAt:      created.UTC(),
	}
	ref := msg.ID
	if ext := strings.TrimSpace(in.ExternalMessageID); ext != "" {
		msg.ExternalMessageID = &ext
		ref = ext
	}
	if len(in.RawPayload) > 0 && i.archive != nil {
		key := storage.RawPayloadKey(in.ConversationID, ref)
		if err := i.archiveRaw(ctx, key, in.RawPayload); err != nil {
			util.LoggerFromContext(ctx).Warn("raw payload archive failed", "conversation_id", in.ConversationID, "key", key, "err", err)
		} else {
			msg.RawPayloadKey = key
		}
	}

	stored, inserted, err := i.store.InsertInboundMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("insert inbound message: %w", err)
	}
	return stored, inserted, nil
}

func (i *Ingestor) archiveRaw(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	return i.archive.Archive(ctx, key, payload)
}

// BridgeRequest is the webhook payload accepted by the inbound bridge.
type BridgeRequest struct {
	OwnerID           string         `json:"ownerId"`
	Channel           domain.Channel `json:"channel"`
	SenderIdentity    string         `json:"senderIdentity"`
	ExternalMessageID string         `json:"externalMessageId"`
	Text              string         `json:"text"`
	Language          string         `json:"language,omitempty"`
	ReceivedAt        time.Time      `json:"receivedAt"`
	RawPayload        []byte         `json:"-"`
}

// BridgeResult reports what the bridge persisted.
type BridgeResult struct {
	Conversation domain.Conversation `json:"conversation"`
	MessageID    string              `json:"messageId"`
	Duplicate    bool                `json:"duplicate"`
}

// PersistInboundWithInboxBridge resolves the conversation, stores the message
// and touches the conversation's last message time. Store failures propagate.
func (a *App) PersistInboundWithInboxBridge(ctx context.Context, req BridgeRequest) (BridgeResult, error) {
	conv, err := a.resolver.Resolve(ctx, req.Channel, req.SenderIdentity, req.OwnerID)
	if err != nil {
		return BridgeResult{}, err
	}
	msg, created, err := a.ingestor.ingest(ctx, InboundMessage{
		ConversationID:    conv.ID,
		Channel:           req.Channel,
		ExternalMessageID: req.ExternalMessageID,
		SenderIdentity:    req.SenderIdentity,
		Text:              req.Text,
		ReceivedAt:        req.ReceivedAt,
		RawPayload:        req.RawPayload,
	})
	if err != nil {
		return BridgeResult{}, err
	}
	if created {
		at := msg.CreatedAt
		updated, err := a.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{LastMessageAt: &at})
		if err != nil {
			return BridgeResult{}, fmt.Errorf("touch conversation: %w", err)
		}
		conv = updated
	}
	result := "created"
	if !created {
		result = "duplicate"
	}
	a.metrics.ObserveInbound(string(req.Channel), result)
	return BridgeResult{Conversation: conv, MessageID: msg.ID, Duplicate: !created}, nil
}

// Ingest stores one message for an already resolved conversation.
func (a *App) Ingest(ctx context.Context, msg InboundMessage) (string, error) {
	return a.ingestor.Ingest(ctx, msg)
}

// Resolve exposes the conversation resolver.
func (a *App) Resolve(ctx context.Context, channel domain.Channel, externalIdentity, ownerID string) (domain.Conversation, error) {
	return a.resolver.Resolve(ctx, channel, externalIdentity, ownerID)
}

// LinkCustomer attaches a customer to a conversation.
func (a *App) LinkCustomer(ctx context.Context, conversationID, customerID string) (domain.Conversation, error) {
	return a.resolver.LinkCustomer(ctx, conversationID, customerID)
}

// SetAIState records a human pause or resume of AI drafting.
func (a *App) SetAIState(ctx context.Context, conversationID, actorID string, state domain.AIState) (domain.Conversation, error) {
	conv, err := a.resolver.SetAIState(ctx, conversationID, state)
	if err != nil {
		return domain.Conversation{}, err
	}
	a.appendAudit(ctx, domain.ActorHuman, actorID, "conversation.ai_state_changed", conv.ID, domain.SeverityInfo, map[string]any{
		"aiState": string(state),
	})
	return conv, nil
}

// SetStatus records a human change of conversation status.
func (a *App) SetStatus(ctx context.Context, conversationID, actorID string, status domain.ConversationStatus) (domain.Conversation, error) {
	conv, err := a.resolver.SetStatus(ctx, conversationID, status)
	if err != nil {
		return domain.Conversation{}, err
	}
	a.appendAudit(ctx, domain.ActorHuman, actorID, "conversation.status_changed", conv.ID, domain.SeverityInfo, map[string]any{
		"status": string(status),
	})
	return conv, nil
}
