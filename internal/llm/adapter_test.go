package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"transcript-analyzer/internal/faults"
)

func adapterSchemaSource(version string) (map[string]any, error) {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
	}, nil
}

type scriptedProvider struct {
	mu       sync.Mutex
	requests []GenerateRequest
	replies  []func(ctx context.Context, req GenerateRequest) (string, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	reply := p.replies[idx]
	p.mu.Unlock()
	return reply(ctx, req)
}

func newTestAdapter(p Provider, timeout time.Duration) *Adapter {
	return NewAdapter(p, ClassifyHTTP, adapterSchemaSource, AdapterOptions{
		Model:               "test-model",
		Timeout:             timeout,
		ActivePromptVersion: "v1",
		ActiveSchemaVersion: "v1",
	})
}

func TestAnalyzeTranscriptSuccess(t *testing.T) {
	p := &scriptedProvider{replies: []func(context.Context, GenerateRequest) (string, error){
		func(_ context.Context, _ GenerateRequest) (string, error) {
			return "```json\n{\"summary\": \"billing question resolved\"}\n```", nil
		},
	}}
	a := newTestAdapter(p, time.Second)

	got, err := a.AnalyzeTranscript(context.Background(), Input{TranscriptText: "hello"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Provider != "scripted" || got.Model != "test-model" {
		t.Fatalf("provenance wrong: %+v", got)
	}
	if got.PromptVersion != "v1" || got.SchemaVersion != "v1" {
		t.Fatalf("versions wrong: %+v", got)
	}
	if got.ParsedJSON["summary"] != "billing question resolved" {
		t.Fatalf("parsed json wrong: %v", got.ParsedJSON)
	}
	if len(p.requests) != 1 || p.requests[0].Schema == nil {
		t.Fatalf("expected one schema-constrained request, got %d", len(p.requests))
	}
	if !strings.Contains(p.requests[0].Prompt, "hello") {
		t.Fatal("transcript text missing from prompt")
	}
}

func TestAnalyzeTranscriptVersionOverride(t *testing.T) {
	p := &scriptedProvider{replies: []func(context.Context, GenerateRequest) (string, error){
		func(_ context.Context, _ GenerateRequest) (string, error) {
			return `{"summary": "x"}`, nil
		},
	}}
	a := newTestAdapter(p, time.Second)

	got, err := a.AnalyzeTranscript(context.Background(), Input{
		TranscriptText: "hello",
		PromptVersion:  "v2",
		SchemaVersion:  "v2",
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.PromptVersion != "v2" || got.SchemaVersion != "v2" {
		t.Fatalf("override ignored: %+v", got)
	}
}

func TestAnalyzeTranscriptTimeout(t *testing.T) {
	p := &scriptedProvider{replies: []func(context.Context, GenerateRequest) (string, error){
		func(ctx context.Context, _ GenerateRequest) (string, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond) // keep running past abandonment
			return "", ctx.Err()
		},
	}}
	a := newTestAdapter(p, 10*time.Millisecond)

	start := time.Now()
	_, err := a.AnalyzeTranscript(context.Background(), Input{TranscriptText: "hi"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("call was awaited past the deadline: %s", elapsed)
	}

	var c *faults.Classified
	if !errors.As(err, &c) {
		t.Fatalf("expected classified error, got %T", err)
	}
	if c.Code != faults.CodeLLMTimeout || !c.Retriable {
		t.Fatalf("timeout misclassified: %+v", c)
	}
}

func TestAnalyzeTranscriptFallsBackOnce(t *testing.T) {
	p := &scriptedProvider{replies: []func(context.Context, GenerateRequest) (string, error){
		func(_ context.Context, _ GenerateRequest) (string, error) {
			return "", ErrStructuredOutputUnsupported
		},
		func(_ context.Context, _ GenerateRequest) (string, error) {
			return `{"summary": "plain mode worked"}`, nil
		},
	}}
	a := newTestAdapter(p, time.Second)

	got, err := a.AnalyzeTranscript(context.Background(), Input{TranscriptText: "hi"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.ParsedJSON["summary"] != "plain mode worked" {
		t.Fatalf("fallback result wrong: %v", got.ParsedJSON)
	}
	if len(p.requests) != 2 {
		t.Fatalf("expected exactly two provider calls, got %d", len(p.requests))
	}
	if p.requests[1].Schema != nil {
		t.Fatal("fallback call still requested structured output")
	}
	if !strings.Contains(p.requests[1].Prompt, "exactly one JSON object") {
		t.Fatal("fallback prompt missing plain-JSON instruction")
	}
}

func TestAnalyzeTranscriptFallbackNeverRecurses(t *testing.T) {
	p := &scriptedProvider{replies: []func(context.Context, GenerateRequest) (string, error){
		func(_ context.Context, _ GenerateRequest) (string, error) {
			return "", ErrStructuredOutputUnsupported
		},
		func(_ context.Context, _ GenerateRequest) (string, error) {
			return "", ErrStructuredOutputUnsupported
		},
	}}
	a := newTestAdapter(p, time.Second)

	_, err := a.AnalyzeTranscript(context.Background(), Input{TranscriptText: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(p.requests) != 2 {
		t.Fatalf("fallback recursed: %d provider calls", len(p.requests))
	}
}

func TestAnalyzeTranscriptInvalidJSONIsFatal(t *testing.T) {
	p := &scriptedProvider{replies: []func(context.Context, GenerateRequest) (string, error){
		func(_ context.Context, _ GenerateRequest) (string, error) {
			return "Sure! Here's the analysis you asked for.", nil
		},
	}}
	a := newTestAdapter(p, time.Second)

	_, err := a.AnalyzeTranscript(context.Background(), Input{TranscriptText: "hi"})
	var c *faults.Classified
	if !errors.As(err, &c) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if c.Code != faults.CodeLLMInvalidJSON || c.Retriable {
		t.Fatalf("unparseable output misclassified: %+v", c)
	}
}

func TestAnalyzeTranscriptUnknownPromptVersion(t *testing.T) {
	p := &scriptedProvider{}
	a := newTestAdapter(p, time.Second)

	_, err := a.AnalyzeTranscript(context.Background(), Input{TranscriptText: "hi", PromptVersion: "v999"})
	var c *faults.Classified
	if !errors.As(err, &c) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if c.Retriable {
		t.Fatal("unknown prompt version must be fatal")
	}
}
