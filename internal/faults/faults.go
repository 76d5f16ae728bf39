// Package faults defines the closed error classification shared by the
// adapter, pipeline, and worker: every failure becomes a {code, retriable,
// message} triple before any retry decision, persistence, or logging.
package faults

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Error codes used across the pipeline.
const (
	CodeLLMTimeout        = "llm_timeout"
	CodeLLMConnection     = "llm_connection_error"
	CodeLLMRateLimited    = "llm_rate_limited"
	CodeLLMServerError    = "llm_server_error"
	CodeLLMBadRequest     = "llm_bad_request"
	CodeLLMInvalidJSON    = "llm_invalid_json"
	CodeLLMGeneric        = "llm_error"
	CodeSchemaValidation  = "schema_validation_failed"
	CodeStorageRead       = "storage_read_error"
	CodeStorageWrite      = "storage_write_error"
	CodeTranscriptMissing = "transcript_not_found"
	CodeMetadataWrite     = "metadata_write_error"
	CodeDBError           = "db_error"
	CodeWorkerShutdown    = "worker_shutdown"
)

const (
	maxCodeLen    = 64
	maxMessageLen = 280
)

// Classified is the single error shape the worker bases retry decisions on.
type Classified struct {
	Code      string
	Retriable bool
	Message   string
}

func (e *Classified) Error() string {
	return e.Code + ": " + e.Message
}

// Retriable builds a classified error eligible for automatic requeue.
func Retriable(code string, err error) *Classified {
	return &Classified{Code: NormalizeCode(code), Retriable: true, Message: Sanitize(errText(err))}
}

// Fatal builds a classified error that terminates the job without retry.
func Fatal(code string, err error) *Classified {
	return &Classified{Code: NormalizeCode(code), Retriable: false, Message: Sanitize(errText(err))}
}

// Classify returns the Classified in err's chain, or wraps err as a fatal
// generic failure so unclassified errors never get retried.
func Classify(err error) *Classified {
	var c *Classified
	if errors.As(err, &c) {
		return c
	}
	return Fatal(CodeLLMGeneric, err)
}

// NormalizeCode lowercases, collapses non-alphanumeric runs to single
// underscores, and caps length so codes are safe as column values and
// metric labels.
func NormalizeCode(code string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(code) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "unknown"
	}
	return Truncate(out, maxCodeLen)
}

// Sanitize collapses all whitespace to single spaces and bounds the result
// so raw provider payloads never land in logs or the database verbatim.
func Sanitize(msg string) string {
	fields := strings.Fields(msg)
	return Truncate(strings.Join(fields, " "), maxMessageLen)
}

// Truncate caps s at max bytes without splitting a multi-byte rune, so
// persisted diagnostics stay valid UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
