package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"transcript-analyzer/internal/faults"
)

// Classifier maps a provider error to the shared {code, retriable, summary}
// triple. The adapter never inspects provider errors directly; swapping
// providers means swapping classifiers.
type Classifier func(err error) (code string, retriable bool, summary string)

// ClassifyHTTP is the classifier for HTTP-based providers. Retriable:
// timeouts, connection failures, rate limiting, upstream 5xx. Fatal: any
// other 4xx. Anything unrecognized defaults to a fatal generic code.
func ClassifyHTTP(err error) (string, bool, string) {
	summary := faults.Sanitize(err.Error())

	if errors.Is(err, context.DeadlineExceeded) {
		return faults.CodeLLMTimeout, true, summary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return faults.CodeLLMTimeout, true, summary
		}
		return faults.CodeLLMConnection, true, summary
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return faults.CodeLLMRateLimited, true, summary
		case httpErr.StatusCode >= 500:
			return faults.CodeLLMServerError, true, summary
		case httpErr.StatusCode >= 400:
			return faults.CodeLLMBadRequest, false, summary
		}
	}

	return faults.CodeLLMGeneric, false, summary
}
