package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"transcript-analyzer/internal/faults"
	"transcript-analyzer/internal/models"
	"transcript-analyzer/internal/schema"
)

// Input to one analysis call. Version overrides are optional; when empty the
// adapter's process-wide active versions apply.
type Input struct {
	TranscriptText string
	PromptVersion  string
	SchemaVersion  string
}

// AdapterOptions configure the adapter.
type AdapterOptions struct {
	Model               string
	Timeout             time.Duration
	ActivePromptVersion string
	ActiveSchemaVersion string
}

// Adapter wraps a Provider with version resolution, a uniform deadline, a
// one-shot fallback from schema-constrained to plain JSON output, and
// classified errors. All failures it returns are *faults.Classified.
type Adapter struct {
	provider     Provider
	classify     Classifier
	schemaSource schema.Source
	opts         AdapterOptions
}

func NewAdapter(provider Provider, classify Classifier, schemaSource schema.Source, opts AdapterOptions) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Adapter{
		provider:     provider,
		classify:     classify,
		schemaSource: schemaSource,
		opts:         opts,
	}
}

// AnalyzeTranscript runs one generation call and parses its output. The
// provider call races the adapter deadline; when the deadline wins the call
// is abandoned, not awaited further, even though the underlying request may
// still be in flight on the provider side.
func (a *Adapter) AnalyzeTranscript(ctx context.Context, in Input) (*models.Analysis, error) {
	promptVersion := in.PromptVersion
	if promptVersion == "" {
		promptVersion = a.opts.ActivePromptVersion
	}
	schemaVersion := in.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = a.opts.ActiveSchemaVersion
	}

	prompt, err := BuildPrompt(promptVersion, in.TranscriptText)
	if err != nil {
		return nil, faults.Fatal(faults.CodeLLMBadRequest, err)
	}
	doc, err := a.schemaSource(schemaVersion)
	if err != nil {
		return nil, faults.Fatal(faults.CodeLLMBadRequest, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	text, err := a.generate(callCtx, GenerateRequest{
		Model:  a.opts.Model,
		Prompt: prompt,
		Schema: schema.Normalize(doc),
	})
	if err != nil {
		code, retriable, summary := a.classify(err)
		return nil, &faults.Classified{Code: code, Retriable: retriable, Message: summary}
	}

	parsed, err := parseJSONObject(text)
	if err != nil {
		return nil, faults.Fatal(faults.CodeLLMInvalidJSON, err)
	}

	return &models.Analysis{
		Provider:      a.provider.Name(),
		Model:         a.opts.Model,
		PromptVersion: promptVersion,
		SchemaVersion: schemaVersion,
		RawText:       text,
		ParsedJSON:    parsed,
	}, nil
}

type generateResult struct {
	text string
	err  error
}

// generate runs the provider call against the deadline. Structured-output
// rejection falls back exactly once to plain JSON-object mode with an
// explicit instruction appended; the fallback never recurses.
func (a *Adapter) generate(ctx context.Context, req GenerateRequest) (string, error) {
	text, err := a.race(ctx, req)
	if errors.Is(err, ErrStructuredOutputUnsupported) {
		plain := GenerateRequest{
			Model:  req.Model,
			Prompt: req.Prompt + plainJSONInstruction,
		}
		return a.race(ctx, plain)
	}
	return text, err
}

func (a *Adapter) race(ctx context.Context, req GenerateRequest) (string, error) {
	ch := make(chan generateResult, 1)
	go func() {
		text, err := a.provider.Generate(ctx, req)
		ch <- generateResult{text: text, err: err}
	}()
	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// parseJSONObject decodes the model output, tolerating code fences some
// models insist on emitting.
func parseJSONObject(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, fmt.Errorf("model output is not a JSON object: %w", err)
	}
	return parsed, nil
}
