package worker

import (
	"time"
)

// Retry delays keyed by the attempt number about to run: attempt 2 waits
// 30s, 3 waits 2m, 4 waits 8m. Attempts beyond the table clamp to the last
// tier.
var backoffTiers = []time.Duration{
	30 * time.Second,
	120 * time.Second,
	480 * time.Second,
}

const backoffJitter = 0.2

// computeRetryDelay returns the backoff before nextAttempt runs, perturbed
// by ±20% using r in [0,1] so synchronized retry storms against a degraded
// provider spread out. Never below one second.
func computeRetryDelay(nextAttempt int, r float64) time.Duration {
	idx := nextAttempt - 2
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffTiers) {
		idx = len(backoffTiers) - 1
	}
	base := backoffTiers[idx]

	factor := 1 + (2*r-1)*backoffJitter
	delay := time.Duration(float64(base) * factor)
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}
