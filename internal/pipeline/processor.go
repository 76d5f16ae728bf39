// Package pipeline holds the per-job business logic: fetch the transcript
// text, ask the provider for an analysis, validate it strictly, persist the
// artifact, record metadata. Every failure leaves here classified; the
// worker decides retry versus terminal.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"transcript-analyzer/internal/faults"
	"transcript-analyzer/internal/llm"
	"transcript-analyzer/internal/models"
	"transcript-analyzer/internal/schema"
	"transcript-analyzer/internal/storage"
	"transcript-analyzer/internal/store"
	"transcript-analyzer/internal/telemetry"
)

// MetadataStore is what the pipeline needs from the relational store.
type MetadataStore interface {
	GetTranscript(ctx context.Context, id string) (models.Transcript, error)
	SaveAnalysisMetadata(ctx context.Context, transcriptID, analysisKey, promptVersion, schemaVersion string) error
}

// Analyzer is the generation adapter surface.
type Analyzer interface {
	AnalyzeTranscript(ctx context.Context, in llm.Input) (*models.Analysis, error)
}

// Processor runs the analysis pipeline for one claimed job.
type Processor struct {
	meta      MetadataStore
	objects   storage.ObjectStore
	analyzer  Analyzer
	validator *schema.Validator
	logger    *slog.Logger
}

func NewProcessor(meta MetadataStore, objects storage.ObjectStore, analyzer Analyzer, validator *schema.Validator, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		meta:      meta,
		objects:   objects,
		analyzer:  analyzer,
		validator: validator,
		logger:    logger,
	}
}

// AnalysisKey is the canonical artifact location for a transcript's
// validated analysis.
func AnalysisKey(transcriptID string) string {
	return fmt.Sprintf("analysis/%s.json", transcriptID)
}

// RawOutputKey is the diagnostic location for unvalidated model output.
func RawOutputKey(transcriptID string) string {
	return fmt.Sprintf("analysis/raw/%s.json", transcriptID)
}

func (p *Processor) Process(ctx context.Context, job models.AnalysisJob) error {
	// 1. Owning-entity context. A vanished transcript is fatal.
	transcript, err := p.meta.GetTranscript(ctx, job.TranscriptID)
	if errors.Is(err, store.ErrNotFound) {
		return faults.Fatal(faults.CodeTranscriptMissing, err)
	}
	if err != nil {
		return faults.Retriable(faults.CodeDBError, err)
	}

	// 2. Source artifact.
	text, err := p.objects.GetObjectText(ctx, transcript.SourceKey)
	if err != nil {
		if storage.IsTransient(err) {
			return faults.Retriable(faults.CodeStorageRead, err)
		}
		return faults.Fatal(faults.CodeStorageRead, err)
	}

	// 3. Provider call. Adapter errors carry their own classification.
	analysis, err := p.analyzer.AnalyzeTranscript(ctx, llm.Input{TranscriptText: text})
	if err != nil {
		return err
	}

	// 4. Strict validation. A bad model output will not become valid on
	// retry, so validation failure is always fatal; the raw output goes to
	// a diagnostic location instead of the canonical one.
	result, err := p.validator.Validate(analysis.SchemaVersion, analysis.ParsedJSON)
	if err != nil {
		return faults.Fatal(faults.CodeSchemaValidation, err)
	}
	if !result.OK {
		rawKey := RawOutputKey(job.TranscriptID)
		if putErr := p.objects.PutObject(ctx, rawKey, []byte(analysis.RawText), "application/json"); putErr != nil {
			p.logger.Warn("raw output artifact write failed",
				"transcript_id", job.TranscriptID, "key", rawKey, "err", putErr)
		}
		return faults.Fatal(faults.CodeSchemaValidation, errors.New(result.Summary))
	}

	// 5. Canonical artifact.
	payload, err := json.Marshal(analysis.ParsedJSON)
	if err != nil {
		return faults.Fatal(faults.CodeStorageWrite, err)
	}
	key := AnalysisKey(job.TranscriptID)
	if err := p.objects.PutObject(ctx, key, payload, "application/json"); err != nil {
		if storage.IsTransient(err) {
			return faults.Retriable(faults.CodeStorageWrite, err)
		}
		return faults.Fatal(faults.CodeStorageWrite, err)
	}

	// 6. Metadata. 7. On failure, compensate the artifact we just wrote so
	// it does not orphan; a failed delete is logged and counted, never
	// escalated past the original error.
	if err := p.meta.SaveAnalysisMetadata(ctx, job.TranscriptID, key, analysis.PromptVersion, analysis.SchemaVersion); err != nil {
		if delErr := p.objects.DeleteObject(ctx, key); delErr != nil {
			telemetry.OrphanedArtifacts.Inc()
			p.logger.Error("orphaned-artifact",
				"transcript_id", job.TranscriptID, "key", key, "err", delErr)
		}
		if errors.Is(err, store.ErrNotFound) {
			return faults.Fatal(faults.CodeTranscriptMissing, err)
		}
		return faults.Retriable(faults.CodeMetadataWrite, err)
	}

	return nil
}
