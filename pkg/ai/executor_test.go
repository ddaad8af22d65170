package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeGenerator struct {
	text  string
	err   error
	delay time.Duration
	json  bool
}

func (f *fakeGenerator) GenerateText(ctx context.Context, _, _ string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeJSONGenerator struct {
	fakeGenerator
}

func (f *fakeJSONGenerator) GenerateJSON(ctx context.Context, sys, user string) (string, error) {
	f.json = true
	return f.GenerateText(ctx, sys, user)
}

func (f *fakeJSONGenerator) ModelName() string { return "fake-json" }

func TestGeneratorExecutorOK(t *testing.T) {
	exec := NewGeneratorExecutor(&fakeGenerator{text: "hello"}, "fake-1")
	res := exec.Execute(context.Background(), Task{Name: "draft"})
	if !res.OK() || res.Text != "hello" || res.Model != "fake-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGeneratorExecutorTimeout(t *testing.T) {
	exec := NewGeneratorExecutor(&fakeGenerator{text: "late", delay: time.Second}, "fake")
	res := exec.Execute(context.Background(), Task{Name: "classify", Timeout: 20 * time.Millisecond})
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res.Text != "" {
		t.Fatalf("timeout must not carry text: %q", res.Text)
	}
}

func TestGeneratorExecutorError(t *testing.T) {
	exec := NewGeneratorExecutor(&fakeGenerator{err: errors.New("503 from provider")}, "fake")
	res := exec.Execute(context.Background(), Task{Name: "classify"})
	if res.Outcome != OutcomeError || res.Err == nil {
		t.Fatalf("expected error outcome, got %+v", res)
	}

	res = NewGeneratorExecutor(&fakeGenerator{text: "   "}, "fake").Execute(context.Background(), Task{Name: "summary"})
	if res.Outcome != OutcomeError {
		t.Fatalf("blank output should be an error outcome, got %+v", res)
	}

	var nilExec *GeneratorExecutor
	if res := nilExec.Execute(context.Background(), Task{}); res.Outcome != OutcomeError {
		t.Fatalf("nil executor should report error, got %+v", res)
	}
}

func TestGeneratorExecutorUsesJSONMode(t *testing.T) {
	gen := &fakeJSONGenerator{fakeGenerator{text: `{"a":1}`}}
	exec := NewGeneratorExecutor(gen, "ignored")
	res := exec.Execute(context.Background(), Task{Name: "classify", JSON: true})
	if !res.OK() || !gen.json {
		t.Fatalf("expected JSON generation, got %+v json=%v", res, gen.json)
	}
	if res.Model != "fake-json" {
		t.Fatalf("expected model from generator, got %q", res.Model)
	}
}

func TestExtractJSONObject(t *testing.T) {
	got, ok := ExtractJSONObject("```json\n{\"relevant\": true}\n```")
	if !ok || got != `{"relevant": true}` {
		t.Fatalf("unexpected extraction: %q %v", got, ok)
	}
	if _, ok := ExtractJSONObject("no json here"); ok {
		t.Fatal("expected no object")
	}
}
