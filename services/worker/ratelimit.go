package worker

import (
	"sync"
	"time"
)

// RateLimiter is a sliding one-hour window over action timestamps. Shared by
// every apply loop in the process so concurrent runs cannot exceed the
// configured hourly budget together.
type RateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	now        func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now}
}

// CheckAndRecord reports whether another action may start now. When allowed,
// the action is recorded immediately. When denied, the returned wait is the
// time until the oldest recorded action leaves the window.
func (r *RateLimiter) CheckAndRecord(maxPerHour int) (bool, time.Duration) {
	now := r.now()
	cutoff := now.Add(-time.Hour)

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.timestamps = kept

	if len(r.timestamps) >= maxPerHour {
		wait := r.timestamps[0].Add(time.Hour).Sub(now)
		return false, wait
	}
	r.timestamps = append(r.timestamps, now)
	return true, 0
}

var sharedRateLimiter = NewRateLimiter()
