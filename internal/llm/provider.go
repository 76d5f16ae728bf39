// Package llm abstracts the external generation backend behind a uniform
// provider contract with per-provider error classification. Clients are
// plain net/http; provider errors keep their status and a bounded body
// excerpt so the classifier can sort them without the adapter ever matching
// on provider-specific types.
package llm

import (
	"context"
	"errors"
	"fmt"

	"transcript-analyzer/internal/faults"
)

// GenerateRequest is one text-generation call.
type GenerateRequest struct {
	Model  string
	Prompt string
	// Schema, when non-nil, asks for schema-constrained JSON output.
	// Providers that cannot honor it return ErrStructuredOutputUnsupported.
	Schema map[string]any
}

// Provider is a pluggable generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ErrStructuredOutputUnsupported signals that the provider rejected the
// schema-constrained output mode; the adapter falls back once to plain JSON
// generation.
var ErrStructuredOutputUnsupported = errors.New("structured output mode not supported")

// HTTPError carries a provider's HTTP failure with a bounded body excerpt.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func newHTTPError(provider string, status int, body []byte) *HTTPError {
	const maxBody = 280
	return &HTTPError{Provider: provider, StatusCode: status, Body: faults.Truncate(string(body), maxBody)}
}
