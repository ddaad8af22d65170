package app

import (
	"context"
	"errors"
	"fmt"

	"lessonhub/internal/util"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/store"
)

// GetDraft returns the draft with its effective state: a proposal that was
// superseded or outlived the draft TTL reads as expired.
func (a *App) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	d, ok, err := a.store.GetDraft(ctx, id)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("load draft: %w", err)
	}
	if !ok {
		return domain.Draft{}, ErrDraftNotFound
	}
	d.State, err = a.effectiveState(ctx, d)
	if err != nil {
		return domain.Draft{}, err
	}
	return d, nil
}

// UseDraft marks a proposed draft as sent by the instructor.
func (a *App) UseDraft(ctx context.Context, id, actorID string) (domain.Draft, error) {
	return a.resolveDraft(ctx, id, actorID, domain.DraftUsed, "draft.used")
}

// IgnoreDraft marks a proposed draft as dismissed by the instructor.
func (a *App) IgnoreDraft(ctx context.Context, id, actorID string) (domain.Draft, error) {
	return a.resolveDraft(ctx, id, actorID, domain.DraftIgnored, "draft.ignored")
}

func (a *App) resolveDraft(ctx context.Context, id, actorID string, to domain.DraftState, action string) (domain.Draft, error) {
	d, err := a.GetDraft(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	if d.State != domain.DraftProposed {
		return domain.Draft{}, fmt.Errorf("%w: state is %s", ErrDraftNotActionable, d.State)
	}
	if err := a.store.SetDraftState(ctx, id, domain.DraftProposed, to); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Draft{}, ErrDraftNotFound
		case errors.Is(err, store.ErrConflict):
			return domain.Draft{}, ErrDraftNotActionable
		}
		return domain.Draft{}, fmt.Errorf("update draft: %w", err)
	}
	d.State = to
	a.appendAudit(ctx, domain.ActorHuman, actorID, action, d.ConversationID, domain.SeverityInfo, map[string]any{
		"draftId": d.ID,
	})
	return d, nil
}

func (a *App) effectiveState(ctx context.Context, d domain.Draft) (domain.DraftState, error) {
	if d.State != domain.DraftProposed {
		return d.State, nil
	}
	latest, ok, err := a.store.LatestDraft(ctx, d.ConversationID)
	if err != nil {
		return "", fmt.Errorf("load latest draft: %w", err)
	}
	latestID := ""
	if ok {
		latestID = latest.ID
	}
	return d.EffectiveState(latestID, a.now(), a.opts.DraftTTL), nil
}

// HandleInbound is the bridge entry: persist, then orchestrate unless the
// message was a redelivery.
func (a *App) HandleInbound(ctx context.Context, req BridgeRequest) (BridgeResult, *OrchestrationResult, error) {
	persisted, err := a.PersistInboundWithInboxBridge(ctx, req)
	if err != nil {
		return BridgeResult{}, nil, err
	}
	if persisted.Duplicate {
		return persisted, nil, nil
	}
	result := a.Orchestrate(ctx, OrchestrateRequest{
		ConversationID:    persisted.Conversation.ID,
		MessageID:         persisted.MessageID,
		ExternalMessageID: req.ExternalMessageID,
		MessageText:       util.ExtractText(req.Text),
		Channel:           req.Channel,
		Language:          req.Language,
		ReceivedAt:        req.ReceivedAt,
	})
	return persisted, &result, nil
}
