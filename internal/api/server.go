// Package api exposes the two surfaces external collaborators get: the
// enqueue hook called on upload completion, and the transcript's
// user-facing status fields. Queue-internal columns stay internal.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"transcript-analyzer/internal/config"
	"transcript-analyzer/internal/models"
	"transcript-analyzer/internal/ratelimit"
	"transcript-analyzer/internal/store"
	"transcript-analyzer/internal/telemetry"
)

// Server wires HTTP handlers for the enqueue/status API.
type Server struct {
	cfg     config.Config
	store   *store.Store
	limiter *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/transcripts", s.handleCreateTranscript)
	r.Post("/transcripts/{id}/analysis", s.handleEnqueue)
	r.Get("/transcripts/{id}/analysis", s.handleStatus)
	return r
}

type createTranscriptRequest struct {
	ID        string `json:"id"`
	SourceKey string `json:"source_key"`
}

func (s *Server) handleCreateTranscript(w http.ResponseWriter, r *http.Request) {
	var req createTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.SourceKey == "" {
		http.Error(w, "id and source_key are required", http.StatusBadRequest)
		return
	}
	t, err := s.store.CreateTranscript(r.Context(), req.ID, req.SourceKey)
	if err != nil {
		http.Error(w, "create transcript failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type enqueueResponse struct {
	JobID     string `json:"job_id,omitempty"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// handleEnqueue is the upload-completion hook. Duplicate calls for the same
// transcript are successful no-ops.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), "enqueue")
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job, err := s.store.EnqueueForTranscript(r.Context(), id, s.cfg.MaxAttempts, s.cfg.LockTTLSeconds)
	if errors.Is(err, store.ErrAlreadyEnqueued) {
		writeJSON(w, http.StatusOK, enqueueResponse{Status: models.StatusQueued, Duplicate: true})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "transcript not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	telemetry.EnqueueCounter.Inc()
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: job.ID, Status: job.Status})
}

// statusResponse exposes only the user-facing fields of a transcript.
type statusResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	ErrorCode     *string `json:"error_code,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	AnalysisKey   *string `json:"analysis_key,omitempty"`
	PromptVersion *string `json:"prompt_version,omitempty"`
	SchemaVersion *string `json:"schema_version,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.store.GetTranscript(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "transcript not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ID:            t.ID,
		Status:        t.Status,
		ErrorCode:     t.ErrorCode,
		ErrorMessage:  t.ErrorMessage,
		AnalysisKey:   t.AnalysisKey,
		PromptVersion: t.PromptVersion,
		SchemaVersion: t.SchemaVersion,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
