// Package retry provides the exponential-backoff-with-jitter helper used by
// the log writer's LogWriteMissingParent handling, ported directly from
// graph/policy.go's computeBackoff.
package retry

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before retry attempt (0-based) using
// exponential backoff capped at maxDelay, plus jitter in [0, base).
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	exp := base * (1 << uint(attempt))
	if exp > maxDelay {
		exp = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing, not security
	return exp + jitter
}

// Policy bounds a retry loop by attempt count and backoff parameters.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// LogWriteRetryPolicy is spec.md §7's LogWriteMissingParent policy: base
// 50ms, cap 500ms, 8 tries.
var LogWriteRetryPolicy = Policy{MaxAttempts: 8, BaseDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

// Do runs fn up to p.MaxAttempts times, sleeping with Backoff between
// attempts, stopping early on success or when ctx-style cancellation isn't
// needed by the caller (callers that need cancellation should select on
// their own context alongside a time.After(Backoff(...))).
func Do(p Policy, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt < p.MaxAttempts-1 {
			time.Sleep(Backoff(attempt, p.BaseDelay, p.MaxDelay))
		}
	}
	return err
}
