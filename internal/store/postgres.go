// Package store owns the durable queue table and the transcript rows it
// mirrors status into. Every transition that touches a job row updates the
// transcript's user-facing status in the same transaction; no other
// component writes that column.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"transcript-analyzer/internal/models"
)

var (
	// ErrAlreadyEnqueued reports a duplicate enqueue for a transcript that
	// already has a job row. Callers treat it as a successful no-op.
	ErrAlreadyEnqueued = errors.New("transcript already enqueued")

	// ErrLeaseLost reports an ownership check failure: the job row is no
	// longer processing under the caller's worker id.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrNotFound reports a missing transcript row.
	ErrNotFound = errors.New("transcript not found")
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateTranscript registers an uploaded transcript and its source artifact
// key. Called by the upload-completion flow before enqueueing.
func (s *Store) CreateTranscript(ctx context.Context, id, sourceKey string) (models.Transcript, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcripts (id, source_key, status, created_at, updated_at)
		VALUES ($1, $2, 'uploaded', $3, $3)
	`, id, sourceKey, now)
	if err != nil {
		return models.Transcript{}, fmt.Errorf("insert transcript: %w", err)
	}
	return models.Transcript{ID: id, SourceKey: sourceKey, Status: "uploaded", CreatedAt: now, UpdatedAt: now}, nil
}

// GetTranscript fetches a transcript by id.
func (s *Store) GetTranscript(ctx context.Context, id string) (models.Transcript, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_key, status, error_code, error_message, analysis_key,
		       prompt_version, schema_version, queued_at, processed_at, created_at, updated_at
		FROM transcripts WHERE id = $1
	`, id)

	var t models.Transcript
	var errCode, errMsg, analysisKey, promptVer, schemaVer pgtype.Text
	var queuedAt, processedAt pgtype.Timestamptz

	err := row.Scan(&t.ID, &t.SourceKey, &t.Status, &errCode, &errMsg, &analysisKey,
		&promptVer, &schemaVer, &queuedAt, &processedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transcript{}, ErrNotFound
	}
	if err != nil {
		return models.Transcript{}, fmt.Errorf("scan transcript: %w", err)
	}

	t.ErrorCode = textPtr(errCode)
	t.ErrorMessage = textPtr(errMsg)
	t.AnalysisKey = textPtr(analysisKey)
	t.PromptVersion = textPtr(promptVer)
	t.SchemaVersion = textPtr(schemaVer)
	t.QueuedAt = timePtr(queuedAt)
	t.ProcessedAt = timePtr(processedAt)
	return t, nil
}

// SaveAnalysisMetadata persists the output artifact locator and the
// prompt/schema versions used. Status columns are left alone; those belong
// to the queue transitions.
func (s *Store) SaveAnalysisMetadata(ctx context.Context, transcriptID, analysisKey, promptVersion, schemaVersion string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transcripts
		SET analysis_key = $2, prompt_version = $3, schema_version = $4, updated_at = NOW()
		WHERE id = $1
	`, transcriptID, analysisKey, promptVersion, schemaVersion)
	if err != nil {
		return fmt.Errorf("save analysis metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
