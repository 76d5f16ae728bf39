package models

import (
	"time"
)

// JobStatus enumerates queue lifecycle states persisted in Postgres.
// These are internal scheduling state; UI and API layers read the
// transcript status instead.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

// AnalysisJob is one row in the durable queue. At most one row exists per
// transcript (unique constraint on transcript_id), which is what makes
// duplicate enqueue attempts idempotent no-ops.
type AnalysisJob struct {
	ID             string     `json:"id"`
	TranscriptID   string     `json:"transcript_id"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRunAt      time.Time  `json:"next_run_at"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LockedBy       *string    `json:"locked_by,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	LockTTLSeconds int        `json:"lock_ttl_seconds"`
	LastErrorCode  *string    `json:"last_error_code,omitempty"`
	LastErrorMsg   *string    `json:"last_error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Reclaimed marks a claim that took over a stale lease. Not persisted.
	Reclaimed bool `json:"-"`
}

// Transcript is the owning entity being analyzed. Its status column is the
// only processing state external consumers may read; it is mutated solely by
// the queue repository, in the same transaction as the job row.
type Transcript struct {
	ID            string     `json:"id"`
	SourceKey     string     `json:"source_key"`
	Status        string     `json:"status"`
	ErrorCode     *string    `json:"error_code,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	AnalysisKey   *string    `json:"analysis_key,omitempty"`
	PromptVersion *string    `json:"prompt_version,omitempty"`
	SchemaVersion *string    `json:"schema_version,omitempty"`
	QueuedAt      *time.Time `json:"queued_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Analysis is the ephemeral result of a provider call. Only the version
// identifiers and artifact locator are persisted to Postgres; the payload
// itself goes to object storage.
type Analysis struct {
	Provider      string
	Model         string
	PromptVersion string
	SchemaVersion string
	RawText       string
	ParsedJSON    map[string]any
}
