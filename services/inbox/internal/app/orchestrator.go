package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"lessonhub/internal/util"
	"lessonhub/pkg/ai"
	"lessonhub/pkg/domain"
	"lessonhub/pkg/events"
)

// Skip reasons reported on OrchestrationResult.
const (
	skipConversationNotFound = "conversation_not_found"
	skipKillSwitch           = "kill_switch"
	skipPilotOnly            = "pilot_only"
	skipConversationClosed   = "conversation_closed"
	skipAIPaused             = "ai_paused"
	skipMessageNotFound      = "message_not_found"
	skipNoSnapshot           = "no_snapshot"
	skipNotRelevant          = "not_relevant"
	skipLowRelevance         = "low_relevance"
	skipIntentNotEligible    = "intent_not_eligible"
	skipDraftFailed          = "draft_generation_failed"
	skipDraftNotStored       = "draft_not_stored"
)

// Pipeline stages, as reported in StageOutcomes and metrics.
const (
	stageLanguage       = "language"
	stageClassification = "classification"
	stageEnrichment     = "enrichment"
	stageSummary        = "summary"
	stageDraft          = "draft"
)

// OrchestrateRequest identifies the stored inbound message to process.
type OrchestrateRequest struct {
	ConversationID    string
	MessageID         string
	ExternalMessageID string
	MessageText       string
	Channel           domain.Channel
	Language          string
	RequestID         string
	ReceivedAt        time.Time
}

// StageOutcome records how one pipeline stage ended.
type StageOutcome struct {
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"durationMs"`
	Detail     string `json:"detail,omitempty"`
}

// OrchestrationResult is the evidence record of one orchestration.
type OrchestrationResult struct {
	ConversationID      string                   `json:"conversationId"`
	MessageID           string                   `json:"messageId,omitempty"`
	SnapshotID          string                   `json:"snapshotId,omitempty"`
	Intent              string                   `json:"intent,omitempty"`
	DraftGenerated      bool                     `json:"draftGenerated"`
	DraftID             string                   `json:"draftId,omitempty"`
	ConfidenceBand      string                   `json:"confidenceBand,omitempty"`
	RescheduleVerified  bool                     `json:"rescheduleVerified"`
	RescheduleBookingID string                   `json:"rescheduleBookingId,omitempty"`
	CustomerContextUsed bool                     `json:"customerContextUsed"`
	SummaryUsed         bool                     `json:"summaryUsed"`
	SummaryUpdated      bool                     `json:"summaryUpdated"`
	DetectedLanguage    string                   `json:"detectedLanguage,omitempty"`
	SkipReason          string                   `json:"skipReason,omitempty"`
	SuggestedActions    []domain.SuggestedAction `json:"suggestedActions,omitempty"`
	StageOutcomes       []StageOutcome           `json:"stageOutcomes"`
}

// Orchestrate runs the AI pipeline for one stored inbound message. It never
// fails: model failures degrade the result and every decision is audited.
func (a *App) Orchestrate(ctx context.Context, req OrchestrateRequest) OrchestrationResult {
	if req.RequestID != "" && util.RequestIDFromContext(ctx) == "" {
		ctx = util.ContextWithRequestID(ctx, req.RequestID)
	}
	logger := util.LoggerFromContext(ctx).With("conversation_id", req.ConversationID)
	result := OrchestrationResult{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		StageOutcomes:  []StageOutcome{},
	}
	defer func() {
		a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.orchestration.completed", req.ConversationID, domain.SeverityInfo, toPayload(result))
		a.metrics.ObserveOrchestration(result.DraftGenerated, result.SkipReason)
		logger.Info("orchestration completed", "draft_generated", result.DraftGenerated, "skip_reason", result.SkipReason)
	}()

	conv, ok, err := a.store.GetConversation(ctx, req.ConversationID)
	if err != nil || !ok {
		if err != nil {
			logger.Warn("orchestration could not load conversation", "err", err)
		}
		a.skip(ctx, &result, skipConversationNotFound)
		return result
	}
	if reason := a.gate(conv); reason != "" {
		a.skip(ctx, &result, reason)
		return result
	}

	msg, found := a.locateMessage(ctx, req)
	if !found {
		a.skip(ctx, &result, skipMessageNotFound)
		return result
	}
	result.MessageID = msg.ID
	text := req.MessageText
	if strings.TrimSpace(text) == "" {
		text = msg.Text
	}
	channel := req.Channel
	if channel == "" {
		channel = conv.Channel
	}

	recent, err := a.store.ListRecentMessages(ctx, conv.ID, a.opts.RecentMessages)
	if err != nil {
		logger.Warn("recent messages unavailable", "err", err)
	}
	var prior *domain.Summary
	if sum, ok, err := a.store.GetSummary(ctx, conv.ID); err != nil {
		logger.Warn("summary unavailable", "err", err)
	} else if ok {
		prior = &sum
	}

	start := time.Now()
	result.DetectedLanguage = DetectLanguage(text, req.Language)
	a.record(ctx, &result, stageLanguage, string(ai.OutcomeOK), time.Since(start), result.DetectedLanguage)

	snap := a.classifyStage(ctx, &result, conv, msg, text, ConversationContext{
		Channel:        channel,
		Language:       result.DetectedLanguage,
		RecentMessages: recent,
		Summary:        prior,
	})
	result.ConfidenceBand = confidenceBand(snap)

	enriched := a.enrichStage(ctx, &result, conv, snap, text, req.ReceivedAt)
	if enriched.Summary == nil {
		enriched.Summary = prior
	}
	result.CustomerContextUsed = enriched.CustomerContextUsed()
	result.RescheduleVerified = enriched.RescheduleVerified
	result.RescheduleBookingID = enriched.RescheduleBookingID
	result.SuggestedActions = suggestedActions(snap, enriched)

	summary := a.summaryStage(ctx, &result, conv, snap, enriched, recent)
	result.SummaryUsed = summary != nil

	if reason := draftEligible(snap, a.opts.MinRelevance); reason != "" {
		a.skip(ctx, &result, reason)
		return result
	}
	a.draftStage(ctx, &result, conv, msg, text, snap, enriched, summary, recent)
	return result
}

func (a *App) gate(conv domain.Conversation) string {
	switch {
	case a.opts.KillSwitch:
		return skipKillSwitch
	case a.opts.PilotOnly && !a.isPilot(conv.OwnerID):
		return skipPilotOnly
	case conv.Status == domain.ConversationClosed:
		return skipConversationClosed
	case conv.AIState == domain.AIPausedByHuman:
		return skipAIPaused
	}
	return ""
}

func (a *App) isPilot(ownerID string) bool {
	_, ok := a.pilots[ownerID]
	return ok
}

func (a *App) locateMessage(ctx context.Context, req OrchestrateRequest) (domain.Message, bool) {
	if req.ExternalMessageID != "" {
		msg, ok, err := a.store.GetMessageByExternalID(ctx, req.ConversationID, req.ExternalMessageID)
		if err == nil && ok {
			return msg, true
		}
	}
	if req.MessageID == "" {
		return domain.Message{}, false
	}
	if recent, err := a.store.ListRecentMessages(ctx, req.ConversationID, a.opts.RecentMessages); err == nil {
		for _, m := range recent {
			if m.ID == req.MessageID {
				return m, true
			}
		}
	}
	if strings.TrimSpace(req.MessageText) == "" {
		return domain.Message{}, false
	}
	return domain.Message{
		ID:             req.MessageID,
		ConversationID: req.ConversationID,
		Direction:      domain.DirectionInbound,
		Text:           req.MessageText,
	}, true
}

func (a *App) classifyStage(ctx context.Context, result *OrchestrationResult, conv domain.Conversation, msg domain.Message, text string, cc ConversationContext) *domain.Snapshot {
	if existing, ok, err := a.store.GetSnapshotByMessage(ctx, msg.ID); err == nil && ok {
		a.record(ctx, result, stageClassification, string(ai.OutcomeOK), 0, "existing snapshot")
		a.useSnapshot(result, &existing)
		return &existing
	}

	snap, res := a.classifier.classify(ctx, text, cc)
	a.record(ctx, result, stageClassification, string(res.Outcome), res.Latency, errDetail(res.Err))
	if snap == nil {
		a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.classification.absent", conv.ID, domain.SeverityWarn, map[string]any{
			"messageId": msg.ID,
			"outcome":   string(res.Outcome),
		})
		return nil
	}
	snap.ID = util.NewID()
	snap.MessageID = msg.ID
	snap.ConversationID = conv.ID
	stored, err := a.store.SaveSnapshot(ctx, *snap)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("snapshot not stored, continuing without it", "message_id", msg.ID, "err", err)
		a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.classification.absent", conv.ID, domain.SeverityWarn, map[string]any{
			"messageId": msg.ID,
			"outcome":   string(ai.OutcomeError),
			"detail":    "snapshot not stored",
		})
		return nil
	}
	a.useSnapshot(result, &stored)
	payload := map[string]any{
		"messageId":           msg.ID,
		"snapshotId":          stored.ID,
		"relevant":            stored.Relevant,
		"relevanceConfidence": stored.RelevanceConfidence,
		"intentConfidence":    stored.IntentConfidence,
		"model":               stored.Model,
	}
	if stored.Intent != nil {
		payload["intent"] = string(*stored.Intent)
	}
	a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.classification.completed", conv.ID, domain.SeverityInfo, payload)
	return &stored
}

func (a *App) useSnapshot(result *OrchestrationResult, snap *domain.Snapshot) {
	result.SnapshotID = snap.ID
	if snap.Intent != nil {
		result.Intent = string(*snap.Intent)
	}
}

func (a *App) enrichStage(ctx context.Context, result *OrchestrationResult, conv domain.Conversation, snap *domain.Snapshot, text string, receivedAt time.Time) EnrichedContext {
	start := time.Now()
	enriched, err := a.enricher.Enrich(ctx, conv, snap, text, receivedAt)
	outcome := ai.OutcomeOK
	if err != nil {
		outcome = ai.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = ai.OutcomeTimeout
		}
		util.LoggerFromContext(ctx).Warn("enrichment degraded", "err", err)
	}
	a.record(ctx, result, stageEnrichment, string(outcome), time.Since(start), errDetail(err))
	a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.context.enriched", conv.ID, domain.SeverityInfo, map[string]any{
		"customerFound":    enriched.Customer != nil,
		"upcomingBookings": len(enriched.UpcomingBookings),
		"recentBookings":   len(enriched.RecentBookings),
		"summaryPresent":   enriched.Summary != nil,
		"outcome":          string(outcome),
	})
	if enriched.RescheduleChecked {
		action := "ai.reschedule.unverified"
		if enriched.RescheduleVerified {
			action = "ai.reschedule.verified"
		}
		a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, action, conv.ID, domain.SeverityInfo, map[string]any{
			"verified":  enriched.RescheduleVerified,
			"bookingId": enriched.RescheduleBookingID,
			"reason":    enriched.RescheduleReason,
		})
	}
	return enriched
}

// summaryStage refreshes the summary and returns the one the draft should
// use: the new version, or the previous one when the refresh failed.
func (a *App) summaryStage(ctx context.Context, result *OrchestrationResult, conv domain.Conversation, snap *domain.Snapshot, enriched EnrichedContext, recent []domain.Message) *domain.Summary {
	in := SummaryInput{
		Previous:       enriched.Summary,
		RecentMessages: recent,
		Context:        enriched,
		Bookings:       append(append([]domain.Booking{}, enriched.UpcomingBookings...), enriched.RecentBookings...),
		Language:       result.DetectedLanguage,
	}
	if snap != nil && snap.Intent != nil {
		in.CurrentIntent = string(*snap.Intent)
	}
	out, res := a.summarizer.generate(ctx, in)
	a.record(ctx, result, stageSummary, string(res.Outcome), res.Latency, errDetail(res.Err))
	if out == nil {
		a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.summary.skipped", conv.ID, domain.SeverityWarn, map[string]any{
			"outcome": string(res.Outcome),
		})
		return enriched.Summary
	}
	saved, err := a.store.UpsertSummary(ctx, domain.Summary{
		ConversationID: conv.ID,
		Text:           out.Text,
		Facts:          out.Facts,
		UpdatedAt:      a.now().UTC(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("summary not stored", "err", err)
		a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.summary.skipped", conv.ID, domain.SeverityWarn, map[string]any{
			"outcome": string(ai.OutcomeError),
			"detail":  "summary not stored",
		})
		return enriched.Summary
	}
	result.SummaryUpdated = true
	a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.summary.updated", conv.ID, domain.SeverityInfo, map[string]any{
		"version":   saved.Version,
		"mode":      out.Mode,
		"jsonBytes": len(out.JSON),
	})
	return &saved
}

func (a *App) draftStage(ctx context.Context, result *OrchestrationResult, conv domain.Conversation, msg domain.Message, text string, snap *domain.Snapshot, enriched EnrichedContext, summary *domain.Summary, recent []domain.Message) {
	reply, res := a.drafter.generate(ctx, DraftInput{
		MessageText:    text,
		Language:       result.DetectedLanguage,
		Snapshot:       snap,
		Context:        enriched,
		Summary:        summary,
		RecentMessages: recent,
		Actions:        result.SuggestedActions,
	})
	a.record(ctx, result, stageDraft, string(res.Outcome), res.Latency, errDetail(res.Err))
	if !res.OK() {
		a.skip(ctx, result, skipDraftFailed)
		return
	}
	draft := domain.Draft{
		ID:               util.NewID(),
		ConversationID:   conv.ID,
		MessageID:        msg.ID,
		Text:             reply,
		State:            domain.DraftProposed,
		SuggestedActions: result.SuggestedActions,
		ConfidenceBand:   result.ConfidenceBand,
		Language:         result.DetectedLanguage,
		CreatedAt:        a.now().UTC(),
	}
	if err := a.store.CreateDraft(ctx, draft); err != nil {
		util.LoggerFromContext(ctx).Warn("draft not stored", "err", err)
		a.skip(ctx, result, skipDraftNotStored)
		return
	}
	result.DraftGenerated = true
	result.DraftID = draft.ID
	payload := map[string]any{
		"draftId":          draft.ID,
		"messageId":        msg.ID,
		"confidenceBand":   draft.ConfidenceBand,
		"language":         draft.Language,
		"suggestedActions": len(draft.SuggestedActions),
	}
	a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, "ai.draft.proposed", conv.ID, domain.SeverityInfo, payload)
	events.PublishBestEffort(ctx, a.events, events.Event{
		Type:       events.TypeDraftProposed,
		OwnerID:    conv.OwnerID,
		EntityType: entityConversation,
		EntityID:   conv.ID,
		RequestID:  util.RequestIDFromContext(ctx),
		Data:       payload,
		OccurredAt: a.now().UTC(),
	})
}

func (a *App) skip(ctx context.Context, result *OrchestrationResult, reason string) {
	result.SkipReason = reason
	action := "ai.draft.skipped"
	switch reason {
	case skipConversationNotFound, skipKillSwitch, skipPilotOnly, skipConversationClosed, skipAIPaused, skipMessageNotFound:
		action = "ai.pipeline.skipped"
	}
	a.appendAudit(ctx, domain.ActorSystem, orchestratorActor, action, result.ConversationID, domain.SeverityInfo, map[string]any{
		"reason":    reason,
		"messageId": result.MessageID,
	})
}

func (a *App) record(ctx context.Context, result *OrchestrationResult, stage, outcome string, elapsed time.Duration, detail string) {
	result.StageOutcomes = append(result.StageOutcomes, StageOutcome{
		Stage:      stage,
		Outcome:    outcome,
		DurationMs: elapsed.Milliseconds(),
		Detail:     detail,
	})
	a.metrics.ObserveStage(stage, outcome, elapsed)
	logger := util.LoggerFromContext(ctx)
	if outcome == string(ai.OutcomeOK) {
		logger.Debug("stage completed", "stage", stage, "elapsed_ms", elapsed.Milliseconds())
		return
	}
	logger.Warn("stage degraded", "stage", stage, "outcome", outcome, "detail", detail)
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return util.Truncate(err.Error(), 200)
}
