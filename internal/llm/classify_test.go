package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"transcript-analyzer/internal/faults"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCode  string
		retriable bool
	}{
		{"deadline", context.DeadlineExceeded, faults.CodeLLMTimeout, true},
		{"net timeout", timeoutErr{}, faults.CodeLLMTimeout, true},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, faults.CodeLLMConnection, true},
		{"rate limited", &HTTPError{Provider: "openai", StatusCode: 429}, faults.CodeLLMRateLimited, true},
		{"server error", &HTTPError{Provider: "openai", StatusCode: 503}, faults.CodeLLMServerError, true},
		{"bad request", &HTTPError{Provider: "openai", StatusCode: 400}, faults.CodeLLMBadRequest, false},
		{"unauthorized", &HTTPError{Provider: "openai", StatusCode: 401}, faults.CodeLLMBadRequest, false},
		{"unknown", errors.New("weird"), faults.CodeLLMGeneric, false},
		{"wrapped http", fmt.Errorf("call: %w", &HTTPError{Provider: "ollama", StatusCode: 500}), faults.CodeLLMServerError, true},
	}

	for _, tc := range cases {
		code, retriable, summary := ClassifyHTTP(tc.err)
		if code != tc.wantCode || retriable != tc.retriable {
			t.Fatalf("%s: got (%q, %v), want (%q, %v)", tc.name, code, retriable, tc.wantCode, tc.retriable)
		}
		if summary == "" {
			t.Fatalf("%s: empty summary", tc.name)
		}
		if len(summary) > 280 {
			t.Fatalf("%s: summary not bounded", tc.name)
		}
	}
}
