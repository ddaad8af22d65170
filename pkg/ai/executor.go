package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome tags the result of one AI task. Callers branch on it instead of
// treating model failures as errors.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Task is one prompt execution.
type Task struct {
	Name         string
	SystemPrompt string
	UserPrompt   string
	// JSON asks the provider for a single JSON object when it supports it.
	JSON bool
	// Timeout bounds this task; zero leaves only the caller's deadline.
	Timeout time.Duration
}

// Result carries the model output or the reason there is none.
type Result struct {
	Outcome Outcome
	Text    string
	Model   string
	Latency time.Duration
	Err     error
}

// OK reports whether Text holds usable output.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// TaskExecutor runs tasks against a model. Implementations never return a Go
// error; failures are reported through Result.Outcome.
type TaskExecutor interface {
	Execute(ctx context.Context, task Task) Result
}

// GeneratorExecutor adapts a TextGenerator into a TaskExecutor.
type GeneratorExecutor struct {
	gen   TextGenerator
	model string
}

// NewGeneratorExecutor wraps gen. model is recorded on results when gen does
// not report its own model name.
func NewGeneratorExecutor(gen TextGenerator, model string) *GeneratorExecutor {
	if namer, ok := gen.(ModelNamer); ok && strings.TrimSpace(namer.ModelName()) != "" {
		model = namer.ModelName()
	}
	return &GeneratorExecutor{gen: gen, model: model}
}

func (e *GeneratorExecutor) Execute(ctx context.Context, task Task) Result {
	if e == nil || e.gen == nil {
		return Result{Outcome: OutcomeError, Err: errors.New("ai executor not configured")}
	}
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		text string
		err  error
	)
	if jg, ok := e.gen.(JSONGenerator); ok && task.JSON {
		text, err = jg.GenerateJSON(ctx, task.SystemPrompt, task.UserPrompt)
	} else {
		text, err = e.gen.GenerateText(ctx, task.SystemPrompt, task.UserPrompt)
	}
	res := Result{Model: e.model, Latency: time.Since(start)}
	switch {
	case err == nil && strings.TrimSpace(text) == "":
		res.Outcome = OutcomeError
		res.Err = fmt.Errorf("%s: empty model output", task.Name)
	case err == nil:
		res.Outcome = OutcomeOK
		res.Text = text
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome = OutcomeTimeout
		res.Err = err
	default:
		res.Outcome = OutcomeError
		res.Err = err
	}
	return res
}

// ExtractJSONObject returns the outermost {...} span of raw, tolerating code
// fences and prose around it.
func ExtractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
