package poller

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Failure handling defaults.
const (
	DefaultResetThreshold  = 5
	DefaultWatchdogCeiling = 10 * time.Minute
	DefaultMinErrorDelay   = 2 * time.Second
	DefaultMaxErrorDelay   = 10 * time.Second
)

// FailureManager tracks consecutive poll failures for one terminal and
// decides when the poll window must be abandoned.
//
// A window reset is due when the consecutive error count reaches the reset
// threshold, or when no cycle has succeeded within the watchdog ceiling.
// FailureManager is owned by a single poller and is not safe for concurrent
// use.
type FailureManager struct {
	threshold     int
	ceiling       time.Duration
	consecutive   int
	lastSuccessAt time.Time

	minDelay time.Duration
	maxDelay time.Duration
	backoff  *backoff.ExponentialBackOff
}

// NewFailureManager creates a [FailureManager] whose watchdog is armed at
// now. Non-positive arguments fall back to the package defaults.
func NewFailureManager(threshold int, ceiling, minDelay, maxDelay time.Duration, now time.Time) *FailureManager {
	if threshold <= 0 {
		threshold = DefaultResetThreshold
	}
	if ceiling <= 0 {
		ceiling = DefaultWatchdogCeiling
	}
	if minDelay <= 0 {
		minDelay = DefaultMinErrorDelay
	}
	if maxDelay < minDelay {
		maxDelay = max(minDelay, DefaultMaxErrorDelay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // never give up; resets handle persistent failure
	b.Reset()

	return &FailureManager{
		threshold:     threshold,
		ceiling:       ceiling,
		lastSuccessAt: now,
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		backoff:       b,
	}
}

// RecordSuccess clears the error count, re-arms the watchdog at now and
// restarts the error delay sequence.
func (f *FailureManager) RecordSuccess(now time.Time) {
	f.consecutive = 0
	f.lastSuccessAt = now
	f.backoff.Reset()
}

// RecordFailure counts one failed cycle and reports whether a window reset
// is due. When it returns true the count has already been cleared, so the
// next failure starts a fresh run toward the threshold.
func (f *FailureManager) RecordFailure() bool {
	f.consecutive++
	if f.consecutive >= f.threshold {
		f.consecutive = 0
		return true
	}
	return false
}

// NextDelay returns the jittered, exponentially growing delay before the
// next attempt, bounded by the configured minimum and maximum.
func (f *FailureManager) NextDelay() time.Duration {
	d := f.backoff.NextBackOff()
	if d == backoff.Stop || d > f.maxDelay {
		return f.maxDelay
	}
	if d < f.minDelay {
		return f.minDelay
	}
	return d
}

// WatchdogExpired reports whether more than the watchdog ceiling has passed
// since the last success (or the last re-arm).
func (f *FailureManager) WatchdogExpired(now time.Time) bool {
	return now.Sub(f.lastSuccessAt) > f.ceiling
}

// Rearm clears the error count and restarts the watchdog at now without
// counting a success. Used after a window reset and while gated.
func (f *FailureManager) Rearm(now time.Time) {
	f.consecutive = 0
	f.lastSuccessAt = now
	f.backoff.Reset()
}

// ConsecutiveErrors returns the current run of failed cycles.
func (f *FailureManager) ConsecutiveErrors() int {
	return f.consecutive
}

// LastSuccessAt returns when the watchdog was last armed.
func (f *FailureManager) LastSuccessAt() time.Time {
	return f.lastSuccessAt
}
