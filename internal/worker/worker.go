// Package worker drives the claim/execute/finalize loop over the durable
// queue. Correctness under multiple processes relies entirely on the
// repository's atomic claim; this package only bounds in-process
// parallelism and keeps leases fresh.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"transcript-analyzer/internal/faults"
	"transcript-analyzer/internal/models"
	"transcript-analyzer/internal/telemetry"
)

// Repository is the queue surface the worker drives.
type Repository interface {
	ClaimReadyJob(ctx context.Context, workerID string) (models.AnalysisJob, bool, error)
	TouchHeartbeat(ctx context.Context, jobID, workerID string) error
	MarkSucceeded(ctx context.Context, jobID, transcriptID, workerID string) error
	MarkFailed(ctx context.Context, jobID, transcriptID, workerID, errorCode, errorMessage string) error
	RequeueWithBackoff(ctx context.Context, jobID, transcriptID, workerID string, nextRunAt time.Time, errorCode, errorMessage string) error
	QueueDepth(ctx context.Context) (int64, error)
}

// Processor executes the business logic for one claimed job.
type Processor interface {
	Process(ctx context.Context, job models.AnalysisJob) error
}

// Options configure a Worker.
type Options struct {
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	Logger       *slog.Logger

	// Now and RandFloat exist for deterministic tests; nil means wall clock
	// and math/rand.
	Now       func() time.Time
	RandFloat func() float64
}

// Worker polls for claimable jobs up to a concurrency limit and translates
// processor outcomes into terminal or retry repository calls.
type Worker struct {
	repo Repository
	proc Processor
	opts Options

	sem  chan struct{}
	wg   sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

func New(repo Repository, proc Processor, opts Options) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RandFloat == nil {
		opts.RandFloat = rand.Float64
	}
	return &Worker{
		repo: repo,
		proc: proc,
		opts: opts,
		sem:  make(chan struct{}, opts.Concurrency),
		quit: make(chan struct{}),
	}
}

// Run polls until the context is cancelled or Stop is called, then waits for
// every in-flight job to finish. No job is abandoned mid-flight on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.quit:
			return nil
		default:
		}

		if depth, err := w.repo.QueueDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		claimed := w.claimCycle(ctx)
		if claimed == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.quit:
				return nil
			case <-time.After(w.opts.PollInterval):
			}
		}
	}
}

// Stop requests cooperative shutdown. Run returns once the current poll
// cycle ends and all in-flight jobs have finalized.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.quit) })
}

// claimCycle claims jobs until no slot is free or no job is available.
func (w *Worker) claimCycle(ctx context.Context) int {
	claimed := 0
	for {
		select {
		case w.sem <- struct{}{}:
		default:
			return claimed
		}

		job, found, err := w.repo.ClaimReadyJob(ctx, w.opts.WorkerID)
		if err != nil {
			<-w.sem
			w.opts.Logger.Error("worker-loop-error", "op", "claim", "err", err)
			return claimed
		}
		if !found {
			<-w.sem
			return claimed
		}

		telemetry.ClaimCounter.Inc()
		if job.Reclaimed {
			telemetry.ReclaimCounter.Inc()
		}
		claimed++
		w.wg.Add(1)
		go w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job models.AnalysisJob) {
	defer w.wg.Done()
	defer func() { <-w.sem }()

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	stopHeartbeat := w.startHeartbeat(ctx, job)
	defer stopHeartbeat()

	err := w.proc.Process(ctx, job)
	w.finalize(ctx, job, err)
}

// startHeartbeat renews the lease at max(1s, ttl/3). Heartbeat failures are
// diagnostic only: a lost lease is caught by the ownership check at
// finalization.
func (w *Worker) startHeartbeat(ctx context.Context, job models.AnalysisJob) func() {
	interval := time.Duration(job.LockTTLSeconds) * time.Second / 3
	if interval < time.Second {
		interval = time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.repo.TouchHeartbeat(ctx, job.ID, w.opts.WorkerID); err != nil {
					telemetry.HeartbeatErrors.Inc()
					w.opts.Logger.Warn("job-heartbeat-error",
						"job_id", job.ID, "transcript_id", job.TranscriptID, "err", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// finalize is the single point deciding retry versus terminal, from the
// error classification and the remaining attempt budget.
func (w *Worker) finalize(ctx context.Context, job models.AnalysisJob, procErr error) {
	log := w.opts.Logger.With("job_id", job.ID, "transcript_id", job.TranscriptID, "attempt", job.Attempts)

	if procErr == nil {
		if err := w.repo.MarkSucceeded(ctx, job.ID, job.TranscriptID, w.opts.WorkerID); err != nil {
			log.Error("worker-loop-error", "op", "mark_succeeded", "err", err)
			return
		}
		telemetry.WorkerSuccess.Inc()
		log.Info("job succeeded")
		return
	}

	// A cancelled job context means shutdown or a lost race, never a verdict
	// on the job itself. Requeue regardless of remaining attempts so an
	// interrupted job cannot terminally fail.
	if errors.Is(procErr, context.Canceled) {
		nextRun := w.opts.Now().Add(time.Second)
		if err := w.repo.RequeueWithBackoff(ctx, job.ID, job.TranscriptID, w.opts.WorkerID, nextRun, faults.CodeWorkerShutdown, "interrupted before completion"); err != nil {
			log.Error("worker-loop-error", "op", "requeue", "err", err)
			return
		}
		telemetry.WorkerRequeues.Inc()
		log.Warn("job requeued", "code", faults.CodeWorkerShutdown)
		return
	}

	c := faults.Classify(procErr)
	if c.Retriable && job.Attempts < job.MaxAttempts {
		delay := computeRetryDelay(job.Attempts+1, w.opts.RandFloat())
		nextRun := w.opts.Now().Add(delay)
		if err := w.repo.RequeueWithBackoff(ctx, job.ID, job.TranscriptID, w.opts.WorkerID, nextRun, c.Code, c.Message); err != nil {
			log.Error("worker-loop-error", "op", "requeue", "err", err)
			return
		}
		telemetry.WorkerRequeues.Inc()
		log.Warn("job requeued", "code", c.Code, "delay", delay)
		return
	}

	if err := w.repo.MarkFailed(ctx, job.ID, job.TranscriptID, w.opts.WorkerID, c.Code, c.Message); err != nil {
		// Includes store.ErrLeaseLost: another worker reclaimed the job and
		// owns its outcome now.
		log.Error("worker-loop-error", "op", "mark_failed", "err", err)
		return
	}
	telemetry.WorkerFailures.Inc()
	log.Error("job failed", "code", c.Code, "retriable", c.Retriable)
}
