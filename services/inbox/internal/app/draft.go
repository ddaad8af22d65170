package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lessonhub/internal/util"
	"lessonhub/pkg/ai"
	"lessonhub/pkg/domain"
)

const (
	bandLow    = "low"
	bandMedium = "medium"
	bandHigh   = "high"

	actionProposeReschedule  = "propose_reschedule"
	actionCreateBooking      = "create_booking"
	actionReviewCancellation = "review_cancellation"

	maxDraftRunes = 1200
)

const draftSystemPrompt = `You draft replies for a private lesson instructor answering customers.
Write only the reply text, in the customer's language, short and friendly.
Never confirm, move or cancel a lesson yourself; the instructor decides.
If details are missing, ask for them.`

// DraftInput is the context handed to the draft task.
type DraftInput struct {
	MessageText    string
	Language       string
	Snapshot       *domain.Snapshot
	Context        EnrichedContext
	Summary        *domain.Summary
	RecentMessages []domain.Message
	Actions        []domain.SuggestedAction
}

// Drafter writes reply proposals. It never sends anything.
type Drafter struct {
	exec     ai.TaskExecutor
	timeout  time.Duration
	location *time.Location
}

func (d *Drafter) generate(ctx context.Context, in DraftInput) (string, ai.Result) {
	res := d.exec.Execute(ctx, ai.Task{
		Name:         "draft",
		SystemPrompt: draftSystemPrompt,
		UserPrompt:   d.buildPrompt(in),
		Timeout:      d.timeout,
	})
	if !res.OK() {
		return "", res
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		res.Outcome = ai.OutcomeError
		res.Err = errors.New("draft: empty reply")
		return "", res
	}
	return util.Truncate(text, maxDraftRunes), res
}

func (d *Drafter) buildPrompt(in DraftInput) string {
	loc := d.location
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	if in.Language != "" && in.Language != "und" {
		fmt.Fprintf(&sb, "Reply language: %s\n", in.Language)
	}
	if in.Snapshot != nil && in.Snapshot.Intent != nil {
		fmt.Fprintf(&sb, "Customer intent: %s\n", *in.Snapshot.Intent)
	}
	if c := in.Context.Customer; c != nil && c.Name != "" {
		fmt.Fprintf(&sb, "Customer name: %s\n", c.Name)
	}
	if in.Summary != nil && in.Summary.Text != "" {
		fmt.Fprintf(&sb, "Conversation so far: %s\n", in.Summary.Text)
	}
	if len(in.Context.UpcomingBookings) > 0 {
		sb.WriteString("Upcoming lessons:\n")
		for _, b := range in.Context.UpcomingBookings {
			start := b.StartTime.In(loc)
			fmt.Fprintf(&sb, "- %s %s-%s at %s (%s)\n", start.Format("Mon 2006-01-02"), start.Format("15:04"), b.EndTime.In(loc).Format("15:04"), nonEmpty(b.MeetingPoint, "meeting point not set"), b.Status)
		}
	}
	for _, a := range in.Actions {
		switch a.Type {
		case actionProposeReschedule:
			if a.ProposedStart != nil && a.ProposedEnd != nil {
				fmt.Fprintf(&sb, "The customer asks to move the lesson to %s-%s. Say the instructor will confirm.\n",
					a.ProposedStart.In(loc).Format("Mon 2006-01-02 15:04"), a.ProposedEnd.In(loc).Format("15:04"))
			} else {
				sb.WriteString("The customer asks to move a lesson. Ask for the preferred new time.\n")
			}
		case actionCreateBooking:
			sb.WriteString("The customer wants to book. Ask for any missing date, time or meeting point.\n")
		}
	}
	if history := buildHistory(in.RecentMessages, 6); history != "" {
		sb.WriteString("\nRecent messages:\n")
		sb.WriteString(history)
	}
	sb.WriteString("\nReply to this message:\n")
	sb.WriteString(util.Truncate(in.MessageText, 2000))
	return sb.String()
}

// confidenceBand buckets the intent confidence, or the relevance confidence
// when no intent was found.
func confidenceBand(snap *domain.Snapshot) string {
	if snap == nil {
		return ""
	}
	c := snap.RelevanceConfidence
	if snap.Intent != nil {
		c = snap.IntentConfidence
	}
	switch {
	case c >= 0.8:
		return bandHigh
	case c >= 0.5:
		return bandMedium
	}
	return bandLow
}

// suggestedActions derives the human follow-ups for a classified message.
// Every action requires a human; nothing is applied automatically.
func suggestedActions(snap *domain.Snapshot, ec EnrichedContext) []domain.SuggestedAction {
	if snap == nil || snap.Intent == nil {
		return nil
	}
	switch *snap.Intent {
	case domain.IntentReschedule:
		if !ec.RescheduleVerified {
			return nil
		}
		action := domain.SuggestedAction{
			Type:          actionProposeReschedule,
			BookingID:     ec.RescheduleBookingID,
			RequiresHuman: true,
			Justification: "message references exactly one upcoming lesson",
		}
		if ec.ProposedWindow != nil {
			action.ProposedStart = ec.ProposedWindow.ProposedStart
			action.ProposedEnd = ec.ProposedWindow.ProposedEnd
		}
		return []domain.SuggestedAction{action}
	case domain.IntentBookingRequest:
		return []domain.SuggestedAction{{
			Type:          actionCreateBooking,
			RequiresHuman: true,
			Justification: "customer asked for a new lesson",
		}}
	case domain.IntentCancel:
		if !ec.RescheduleVerified {
			return nil
		}
		return []domain.SuggestedAction{{
			Type:          actionReviewCancellation,
			BookingID:     ec.RescheduleBookingID,
			RequiresHuman: true,
			Justification: "message references exactly one upcoming lesson",
		}}
	}
	return nil
}

// draftEligible reports why a snapshot does not qualify for drafting, or "".
func draftEligible(snap *domain.Snapshot, minRelevance float64) string {
	switch {
	case snap == nil:
		return skipNoSnapshot
	case !snap.Relevant:
		return skipNotRelevant
	case snap.RelevanceConfidence < minRelevance:
		return skipLowRelevance
	case snap.Intent != nil && *snap.Intent == domain.IntentCancel:
		return skipIntentNotEligible
	}
	return ""
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
