package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lessonhub/internal/util"
	"lessonhub/pkg/domain"
)

const (
	entityConversation = "conversation"
	orchestratorActor  = "ai-orchestrator"
)

// Audit reads are served from the primary store but callers must tolerate
// entries written moments ago being absent; poll instead of asserting
// read-after-write.

// ListAuditSince returns audit entries created at or after since, oldest first.
func (a *App) ListAuditSince(ctx context.Context, since time.Time, limit int) ([]domain.AuditEntry, error) {
	entries, err := a.store.ListAuditSince(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}

// ListConversationAuditSince returns the audit entries of one conversation.
func (a *App) ListConversationAuditSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]domain.AuditEntry, error) {
	entries, err := a.store.ListEntityAuditSince(ctx, entityConversation, conversationID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation audit: %w", err)
	}
	return entries, nil
}

// ListBookingsSince returns bookings updated at or after since. An empty
// ownerID lists every owner.
func (a *App) ListBookingsSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]domain.Booking, error) {
	bookings, err := a.store.ListBookingsSince(ctx, ownerID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// appendAudit never fails the caller; evidence loss is logged.
func (a *App) appendAudit(ctx context.Context, actor domain.Actor, actorID, action, conversationID string, severity domain.Severity, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if rid := util.RequestIDFromContext(ctx); rid != "" {
		payload["requestId"] = rid
	}
	err := a.store.AppendAudit(ctx, domain.AuditEntry{
		ID:         util.NewID(),
		ActorType:  actor,
		ActorID:    actorID,
		Action:     action,
		EntityType: entityConversation,
		EntityID:   conversationID,
		Severity:   severity,
		Payload:    payload,
		CreatedAt:  a.now().UTC(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("audit append failed", "action", action, "conversation_id", conversationID, "err", err)
	}
}

// toPayload flattens v into a JSON-shaped map for the audit payload column.
func toPayload(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"encodeError": err.Error()}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"encodeError": err.Error()}
	}
	return out
}
