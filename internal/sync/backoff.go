// Package sync implements the reconciliation and retry engine that keeps
// lock slot codes consistent with booking-derived desired state.
package sync

import "time"

// Backoff returns the delay before the next automatic retry after the
// given number of failed attempts: base doubled per attempt, capped.
// The delay depends only on the attempt count so it can be recomputed
// from a persisted operation after a restart.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
