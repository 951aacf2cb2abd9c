package connection

import (
	"sync"
	"time"
)

// attemptLimiter counts connection attempts per player in a sliding window.
// All methods are safe for concurrent use.
type attemptLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// allow records an attempt for playerID at now and reports whether it is
// within the limit. Attempts older than the window age out.
func (l *attemptLimiter) allow(playerID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.attempts[playerID][:0]
	for _, t := range l.attempts[playerID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.attempts[playerID] = kept
		return false
	}

	l.attempts[playerID] = append(kept, now)
	return true
}
