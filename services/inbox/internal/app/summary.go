package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lessonhub/internal/util"
	"lessonhub/pkg/ai"
	"lessonhub/pkg/domain"
)

const (
	summaryModeBootstrap = "bootstrap"
	summaryModeMerge     = "merge"
	scalarFallbackRunes  = 120
)

const summarySystemPrompt = `You maintain a running summary of a customer conversation for a private lesson instructor.
Answer with one JSON object and nothing else:
{"summary_text": "<at most a few sentences>",
 "facts": {"customer_name": "", "language": "", "current_intent": "", "booking_status": "",
           "key_facts": [], "preferences": [], "open_questions": [], "pending_actions": []}}
Keep facts short. Drop details that are no longer true.`

// SummaryInput is everything the summary task may use.
type SummaryInput struct {
	Previous       *domain.Summary
	RecentMessages []domain.Message
	Context        EnrichedContext
	Bookings       []domain.Booking
	CurrentIntent  string
	Language       string
}

// SummaryOutput is a validated summary ready to upsert.
type SummaryOutput struct {
	Text  string
	Facts domain.SummaryFacts
	JSON  []byte
	Mode  string
}

// Summarizer bootstraps or merges the conversation summary.
type Summarizer struct {
	exec    ai.TaskExecutor
	timeout time.Duration
	textMax int
	jsonMax int
}

func NewSummarizer(exec ai.TaskExecutor, timeout time.Duration, textMax, jsonMax int) *Summarizer {
	if timeout <= 0 {
		timeout = defaultSummaryTimeout
	}
	if textMax <= 0 {
		textMax = defaultSummaryTextMax
	}
	if jsonMax <= 0 {
		jsonMax = defaultSummaryJSONMax
	}
	return &Summarizer{exec: exec, timeout: timeout, textMax: textMax, jsonMax: jsonMax}
}

// Generate returns nil when the model fails or its output cannot be brought
// within bounds.
func (s *Summarizer) Generate(ctx context.Context, in SummaryInput) *SummaryOutput {
	out, _ := s.generate(ctx, in)
	return out
}

func (s *Summarizer) generate(ctx context.Context, in SummaryInput) (*SummaryOutput, ai.Result) {
	mode := summaryModeBootstrap
	if in.Previous != nil {
		mode = summaryModeMerge
	}
	res := s.exec.Execute(ctx, ai.Task{
		Name:         "summary_" + mode,
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   buildSummaryPrompt(in),
		JSON:         true,
		Timeout:      s.timeout,
	})
	if !res.OK() {
		return nil, res
	}
	out, err := ValidateSummary(res.Text, s.textMax, s.jsonMax)
	if err != nil {
		res.Outcome = ai.OutcomeError
		res.Err = err
		return nil, res
	}
	out.Mode = mode
	return out, res
}

type summaryPayload struct {
	SummaryText string          `json:"summary_text"`
	Facts       json.RawMessage `json:"facts"`
}

// ValidateSummary parses model output and enforces the text and JSON bounds.
func ValidateSummary(raw string, textMax, jsonMax int) (*SummaryOutput, error) {
	obj, ok := ai.ExtractJSONObject(raw)
	if !ok {
		return nil, errors.New("summary: no JSON object in output")
	}
	var p summaryPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	text := strings.TrimSpace(p.SummaryText)
	if text == "" {
		return nil, errors.New("summary: text is empty")
	}
	if len(p.Facts) == 0 || strings.TrimSpace(string(p.Facts)) == "null" {
		return nil, errors.New("summary: facts missing")
	}
	var facts domain.SummaryFacts
	if err := json.Unmarshal(p.Facts, &facts); err != nil {
		return nil, fmt.Errorf("summary facts: %w", err)
	}
	facts = normalizeFacts(facts)
	encoded, ok := fitFacts(&facts, jsonMax)
	if !ok {
		return nil, fmt.Errorf("summary: facts exceed %d bytes", jsonMax)
	}
	return &SummaryOutput{
		Text:  util.Truncate(text, textMax),
		Facts: facts,
		JSON:  encoded,
	}, nil
}

// fitFacts drops list items, last element of the longest list first, until
// the encoded facts fit in max bytes. Scalars are only shortened once every
// list is empty.
func fitFacts(f *domain.SummaryFacts, max int) ([]byte, bool) {
	for {
		encoded, err := json.Marshal(f)
		if err != nil {
			return nil, false
		}
		if max <= 0 || len(encoded) <= max {
			return encoded, true
		}
		if list := longestList(f); list != nil {
			*list = (*list)[:len(*list)-1]
			continue
		}
		f.CustomerName = util.Truncate(f.CustomerName, scalarFallbackRunes)
		f.Language = util.Truncate(f.Language, scalarFallbackRunes)
		f.CurrentIntent = util.Truncate(f.CurrentIntent, scalarFallbackRunes)
		f.BookingStatus = util.Truncate(f.BookingStatus, scalarFallbackRunes)
		encoded, err = json.Marshal(f)
		if err != nil || len(encoded) > max {
			return nil, false
		}
		return encoded, true
	}
}

// longestList returns the non-empty list with the most items. Ties go to the
// field declared first.
func longestList(f *domain.SummaryFacts) *[]string {
	var best *[]string
	for _, list := range []*[]string{&f.KeyFacts, &f.Preferences, &f.OpenQuestions, &f.PendingActions} {
		if len(*list) == 0 {
			continue
		}
		if best == nil || len(*list) > len(*best) {
			best = list
		}
	}
	return best
}

func normalizeFacts(f domain.SummaryFacts) domain.SummaryFacts {
	f.CustomerName = strings.TrimSpace(f.CustomerName)
	f.Language = strings.TrimSpace(f.Language)
	f.CurrentIntent = strings.TrimSpace(f.CurrentIntent)
	f.BookingStatus = strings.TrimSpace(f.BookingStatus)
	f.KeyFacts = cleanList(f.KeyFacts)
	f.Preferences = cleanList(f.Preferences)
	f.OpenQuestions = cleanList(f.OpenQuestions)
	f.PendingActions = cleanList(f.PendingActions)
	return f
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func buildSummaryPrompt(in SummaryInput) string {
	var sb strings.Builder
	if in.Previous != nil {
		sb.WriteString("Update the existing summary with the new messages.\n\nExisting summary:\n")
		sb.WriteString(in.Previous.Text)
		if facts, err := json.Marshal(in.Previous.Facts); err == nil {
			sb.WriteString("\nExisting facts: ")
			sb.Write(facts)
		}
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("Write the first summary of this conversation.\n\n")
	}
	if in.Context.Customer != nil && in.Context.Customer.Name != "" {
		fmt.Fprintf(&sb, "Customer name: %s\n", in.Context.Customer.Name)
	}
	if in.Language != "" {
		fmt.Fprintf(&sb, "Conversation language: %s\n", in.Language)
	}
	if in.CurrentIntent != "" {
		fmt.Fprintf(&sb, "Current intent: %s\n", in.CurrentIntent)
	}
	if len(in.Bookings) > 0 {
		sb.WriteString("Bookings:\n")
		for _, b := range in.Bookings {
			fmt.Fprintf(&sb, "- %s %s-%s (%s)\n", b.StartTime.Format("2006-01-02"), b.StartTime.Format("15:04"), b.EndTime.Format("15:04"), b.Status)
		}
	}
	sb.WriteString("\nMessages:\n")
	sb.WriteString(buildHistory(in.RecentMessages, len(in.RecentMessages)))
	return sb.String()
}
