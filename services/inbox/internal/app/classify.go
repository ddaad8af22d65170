package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"lessonhub/internal/util"
	"lessonhub/pkg/ai"
	"lessonhub/pkg/domain"
)

const classifySystemPrompt = `You triage inbound messages for a private lesson instructor.
Decide whether the message concerns lessons or bookings and what the sender wants.
Answer with one JSON object and nothing else:
{"relevant": true|false, "relevance_confidence": 0.0-1.0,
 "intent": "booking_request"|"reschedule"|"cancel"|"availability_question"|"general_question"|"other"|null,
 "intent_confidence": 0.0-1.0}`

// ConversationContext is what the classifier may see besides the message.
type ConversationContext struct {
	Channel        domain.Channel
	Language       string
	RecentMessages []domain.Message
	Summary        *domain.Summary
}

// Classifier turns one message into a relevance and intent snapshot.
type Classifier struct {
	exec    ai.TaskExecutor
	timeout time.Duration
	now     func() time.Time
}

func NewClassifier(exec ai.TaskExecutor, timeout time.Duration, now func() time.Time) *Classifier {
	if timeout <= 0 {
		timeout = defaultClassifyTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Classifier{exec: exec, timeout: timeout, now: now}
}

// Classify returns nil when the model times out, fails or answers with
// something that is not a classification.
func (c *Classifier) Classify(ctx context.Context, messageText string, cc ConversationContext) *domain.Snapshot {
	snap, _ := c.classify(ctx, messageText, cc)
	return snap
}

func (c *Classifier) classify(ctx context.Context, messageText string, cc ConversationContext) (*domain.Snapshot, ai.Result) {
	res := c.exec.Execute(ctx, ai.Task{
		Name:         "classify",
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   buildClassifyPrompt(messageText, cc),
		JSON:         true,
		Timeout:      c.timeout,
	})
	if !res.OK() {
		return nil, res
	}
	snap, err := parseClassification(res.Text)
	if err != nil {
		res.Outcome = ai.OutcomeError
		res.Err = err
		return nil, res
	}
	snap.Model = res.Model
	snap.CreatedAt = c.now().UTC()
	return snap, res
}

type classificationPayload struct {
	Relevant            *bool    `json:"relevant"`
	RelevanceConfidence *float64 `json:"relevance_confidence"`
	Intent              *string  `json:"intent"`
	IntentConfidence    *float64 `json:"intent_confidence"`
}

func parseClassification(raw string) (*domain.Snapshot, error) {
	obj, ok := ai.ExtractJSONObject(raw)
	if !ok {
		return nil, errors.New("classification: no JSON object in output")
	}
	var p classificationPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return nil, fmt.Errorf("classification: %w", err)
	}
	if p.Relevant == nil {
		return nil, errors.New("classification: relevant missing")
	}
	snap := &domain.Snapshot{Relevant: *p.Relevant}
	if p.RelevanceConfidence != nil {
		snap.RelevanceConfidence = clamp01(*p.RelevanceConfidence)
	}
	if p.Intent != nil {
		raw := strings.ToLower(strings.TrimSpace(*p.Intent))
		if raw != "" && raw != "null" && raw != "none" {
			intent, known := domain.ParseIntent(raw)
			if !known {
				intent = domain.IntentOther
			}
			snap.Intent = &intent
			if p.IntentConfidence != nil {
				snap.IntentConfidence = clamp01(*p.IntentConfidence)
			}
		}
	}
	return snap, nil
}

func buildClassifyPrompt(messageText string, cc ConversationContext) string {
	var sb strings.Builder
	if cc.Channel != "" {
		fmt.Fprintf(&sb, "Channel: %s\n", cc.Channel)
	}
	if cc.Summary != nil && strings.TrimSpace(cc.Summary.Text) != "" {
		sb.WriteString("Conversation summary:\n")
		sb.WriteString(cc.Summary.Text)
		sb.WriteString("\n\n")
	}
	if history := buildHistory(cc.RecentMessages, 6); history != "" {
		sb.WriteString("Earlier messages:\n")
		sb.WriteString(history)
		sb.WriteString("\n")
	}
	sb.WriteString("Message to classify:\n")
	sb.WriteString(util.Truncate(messageText, 2000))
	return sb.String()
}

// buildHistory renders up to limit of the newest messages, oldest first.
func buildHistory(messages []domain.Message, limit int) string {
	if len(messages) == 0 || limit <= 0 {
		return ""
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	var sb strings.Builder
	for _, m := range messages {
		role := "Customer"
		if m.Direction == domain.DirectionOutbound {
			role = "Instructor"
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(util.Truncate(text, 500))
		sb.WriteString("\n")
	}
	return sb.String()
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
