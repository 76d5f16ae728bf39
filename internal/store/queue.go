package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"transcript-analyzer/internal/models"
)

// EnqueueForTranscript inserts a queued job for the transcript and flips the
// transcript to queued in the same transaction. A transcript with an
// existing job row yields ErrAlreadyEnqueued and no writes at all, which is
// what makes at-least-once upstream triggers safe.
func (s *Store) EnqueueForTranscript(ctx context.Context, transcriptID string, maxAttempts, lockTTLSeconds int) (models.AnalysisJob, error) {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if lockTTLSeconds <= 0 {
		lockTTLSeconds = 90
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	tag, err := tx.Exec(ctx, `
		INSERT INTO analysis_jobs (id, transcript_id, status, attempts, max_attempts, next_run_at, lock_ttl_seconds, created_at, updated_at)
		VALUES ($1, $2, 'queued', 0, $3, $4, $5, $4, $4)
		ON CONFLICT (transcript_id) DO NOTHING
	`, id, transcriptID, maxAttempts, now, lockTTLSeconds)
	if err != nil {
		// FK violation: the transcript row does not exist.
		if isForeignKeyViolation(err) {
			return models.AnalysisJob{}, ErrNotFound
		}
		return models.AnalysisJob{}, fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.AnalysisJob{}, ErrAlreadyEnqueued
	}

	tag, err = tx.Exec(ctx, `
		UPDATE transcripts
		SET status = 'queued', queued_at = COALESCE(queued_at, $2),
		    error_code = NULL, error_message = NULL, updated_at = $2
		WHERE id = $1
	`, transcriptID, now)
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("update transcript status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.AnalysisJob{}, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return models.AnalysisJob{}, fmt.Errorf("commit: %w", err)
	}

	return models.AnalysisJob{
		ID:             id,
		TranscriptID:   transcriptID,
		Status:         models.StatusQueued,
		Attempts:       0,
		MaxAttempts:    maxAttempts,
		NextRunAt:      now,
		LockTTLSeconds: lockTTLSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// ClaimReadyJob atomically claims one eligible job for workerID, or returns
// found=false when nothing is claimable. Eligible rows are due queued jobs
// and processing jobs whose lease went stale (no heartbeat within the TTL).
// Claiming increments attempts, takes the lease, and flips the transcript to
// processing, all in one transaction. Competing claimants skip locked rows
// instead of blocking on them.
func (s *Store) ClaimReadyJob(ctx context.Context, workerID string) (models.AnalysisJob, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, transcript_id, status, attempts, max_attempts, next_run_at, lock_ttl_seconds
		FROM analysis_jobs
		WHERE (status = 'queued' AND next_run_at <= NOW())
		   OR (status = 'processing'
		       AND NOW() - GREATEST(COALESCE(heartbeat_at, locked_at), locked_at) > make_interval(secs => lock_ttl_seconds))
		ORDER BY next_run_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`)

	var job models.AnalysisJob
	var prevStatus string
	err = row.Scan(&job.ID, &job.TranscriptID, &prevStatus, &job.Attempts, &job.MaxAttempts, &job.NextRunAt, &job.LockTTLSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, false, nil
	}
	if err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("select claimable job: %w", err)
	}

	var lockedAt pgtype.Timestamptz
	err = tx.QueryRow(ctx, `
		UPDATE analysis_jobs
		SET status = 'processing', attempts = attempts + 1,
		    locked_at = NOW(), locked_by = $2, heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING attempts, locked_at
	`, job.ID, workerID).Scan(&job.Attempts, &lockedAt)
	if err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("claim job: %w", err)
	}
	job.Status = models.StatusProcessing
	job.LockedBy = &workerID
	job.LockedAt = timePtr(lockedAt)
	job.HeartbeatAt = timePtr(lockedAt)
	job.Reclaimed = prevStatus == models.StatusProcessing

	if _, err := tx.Exec(ctx, `
		UPDATE transcripts SET status = 'processing', updated_at = NOW() WHERE id = $1
	`, job.TranscriptID); err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("update transcript status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("commit claim: %w", err)
	}
	return job, true, nil
}

// TouchHeartbeat renews the lease. It applies only while the row is still
// processing under workerID; a reclaimed or finalized row yields
// ErrLeaseLost so a zombie worker cannot refresh someone else's lease.
func (s *Store) TouchHeartbeat(ctx context.Context, jobID, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND locked_by = $2
	`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// MarkSucceeded finalizes a job as succeeded and mirrors the transcript to
// succeeded with a processed timestamp. Ownership-checked.
func (s *Store) MarkSucceeded(ctx context.Context, jobID, transcriptID, workerID string) error {
	return s.finalize(ctx, jobID, workerID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE analysis_jobs
			SET status = 'succeeded', locked_at = NULL, locked_by = NULL, heartbeat_at = NULL,
			    last_error_code = NULL, last_error_message = NULL, updated_at = NOW()
			WHERE id = $1
		`, jobID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE transcripts
			SET status = 'succeeded', processed_at = NOW(),
			    error_code = NULL, error_message = NULL, updated_at = NOW()
			WHERE id = $1
		`, transcriptID)
		return err
	})
}

// MarkFailed finalizes a job as terminally failed and records the sanitized
// error on both the job and the transcript. Ownership-checked.
func (s *Store) MarkFailed(ctx context.Context, jobID, transcriptID, workerID, errorCode, errorMessage string) error {
	return s.finalize(ctx, jobID, workerID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE analysis_jobs
			SET status = 'failed', locked_at = NULL, locked_by = NULL, heartbeat_at = NULL,
			    last_error_code = $2, last_error_message = $3, updated_at = NOW()
			WHERE id = $1
		`, jobID, errorCode, errorMessage); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE transcripts
			SET status = 'failed', error_code = $2, error_message = $3, updated_at = NOW()
			WHERE id = $1
		`, transcriptID, errorCode, errorMessage)
		return err
	})
}

// RequeueWithBackoff puts a retriable failure back in the queue with a fresh
// next_run_at, clears the lease, and records diagnostics on the job row.
// The transcript goes back to queued, keeping its original queued_at.
// Ownership-checked.
func (s *Store) RequeueWithBackoff(ctx context.Context, jobID, transcriptID, workerID string, nextRunAt time.Time, errorCode, errorMessage string) error {
	return s.finalize(ctx, jobID, workerID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE analysis_jobs
			SET status = 'queued', next_run_at = $2,
			    locked_at = NULL, locked_by = NULL, heartbeat_at = NULL,
			    last_error_code = $3, last_error_message = $4, updated_at = NOW()
			WHERE id = $1
		`, jobID, nextRunAt, errorCode, errorMessage); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE transcripts
			SET status = 'queued', queued_at = COALESCE(queued_at, NOW()),
			    error_code = NULL, error_message = NULL, updated_at = NOW()
			WHERE id = $1
		`, transcriptID)
		return err
	})
}

// finalize runs fn inside a transaction after re-validating ownership with a
// row lock. A worker whose lease was reclaimed gets ErrLeaseLost and writes
// nothing, so it cannot corrupt a newer claim.
func (s *Store) finalize(ctx context.Context, jobID, workerID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var owned bool
	err = tx.QueryRow(ctx, `
		SELECT locked_by = $2
		FROM analysis_jobs
		WHERE id = $1 AND status = 'processing'
		FOR UPDATE
	`, jobID, workerID).Scan(&owned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLeaseLost
	}
	if err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	if !owned {
		return ErrLeaseLost
	}

	if err := fn(tx); err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

// QueueDepth counts jobs ready to claim right now.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM analysis_jobs WHERE status = 'queued' AND next_run_at <= NOW()
	`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ready jobs: %w", err)
	}
	return n, nil
}
