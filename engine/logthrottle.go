package engine

import (
	"sync"
	"time"
)

// logThrottle coalesces repeated identical warnings within a rolling
// window, keyed by an arbitrary message key, so a noisy rejection reason
// doesn't flood the log once per bar.
type logThrottle struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	counts   map[string]int
}

func newLogThrottle(window time.Duration) *logThrottle {
	return &logThrottle{
		window:   window,
		lastSeen: make(map[string]time.Time),
		counts:   make(map[string]int),
	}
}

// Allow reports whether the caller should actually emit a log line for key,
// and the number of times it has been suppressed since the last emission.
func (t *logThrottle) Allow(key string, now time.Time) (emit bool, suppressed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen := t.lastSeen[key]
	if !seen || now.Sub(last) >= t.window {
		suppressed = t.counts[key]
		t.counts[key] = 0
		t.lastSeen[key] = now
		return true, suppressed
	}
	t.counts[key]++
	return false, t.counts[key]
}
