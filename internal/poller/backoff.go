package poller

import (
	"math"
	"time"

	"github.com/maauso/mediagen-api/internal/provider"
)

// NextInterval returns the wait after the n-th tick (zero-based):
// Interval * BackoffFactor^n, capped at MaxInterval.
func NextInterval(policy provider.PollPolicy, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	factor := policy.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	limit := policy.MaxInterval
	if limit < policy.Interval {
		limit = policy.Interval
	}
	d := float64(policy.Interval) * math.Pow(factor, float64(n))
	if math.IsInf(d, 0) || d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}

// Schedule returns every wait of a run that exhausts its attempt budget.
func Schedule(policy provider.PollPolicy) []time.Duration {
	if policy.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, policy.MaxAttempts-1)
	for i := range out {
		out[i] = NextInterval(policy, i)
	}
	return out
}

// Budget is the total time a run that exhausts its attempts spends waiting.
func Budget(policy provider.PollPolicy) time.Duration {
	var total time.Duration
	for _, d := range Schedule(policy) {
		total += d
	}
	return total
}
