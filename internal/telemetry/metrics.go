package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_enqueued_total", Help: "Jobs enqueued"})
	ClaimCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_claimed_total", Help: "Jobs claimed by workers"})
	ReclaimCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_stale_reclaimed_total", Help: "Stale leases taken over"})
	WorkerSuccess     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_succeeded_total", Help: "Jobs completed successfully"})
	WorkerFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_failed_total", Help: "Jobs terminally failed"})
	WorkerRequeues    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_requeued_total", Help: "Jobs requeued with backoff"})
	HeartbeatErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_heartbeat_errors_total", Help: "Heartbeat writes that failed"})
	OrphanedArtifacts = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_orphaned_artifacts_total", Help: "Artifacts left behind after failed cleanup"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_rate_limit_rejects_total", Help: "Enqueue requests rejected by rate limiter"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_queue_depth", Help: "Jobs ready to claim"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_inflight", Help: "Jobs currently leased by this process"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			ClaimCounter,
			ReclaimCounter,
			WorkerSuccess,
			WorkerFailures,
			WorkerRequeues,
			HeartbeatErrors,
			OrphanedArtifacts,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
