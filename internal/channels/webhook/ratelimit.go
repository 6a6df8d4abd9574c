package webhook

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps the number of tracked keys so rotating source
	// addresses cannot exhaust memory.
	maxTrackedKeys = 4096

	limiterWindow  = 60 * time.Second
	limiterMaxHits = 30
)

type limiterEntry struct {
	windowStart time.Time
	count       int
}

// edgeLimiter is a fixed-window per-key limiter for the HTTP edge. It
// is deliberately coarser than the pairing store's per-sender limiter:
// this one sheds abusive unauthenticated traffic before the pipeline
// ever sees it. Safe for concurrent use.
type edgeLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*limiterEntry
}

func newEdgeLimiter() *edgeLimiter {
	return &edgeLimiter{
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// allow reports whether the key is within its window budget, pruning
// stale entries and hard-evicting when the key cap is reached.
func (l *edgeLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if len(l.entries) >= maxTrackedKeys {
		for k, e := range l.entries {
			if now.Sub(e.windowStart) >= limiterWindow {
				delete(l.entries, k)
			}
		}
		for len(l.entries) >= maxTrackedKeys {
			for k := range l.entries {
				delete(l.entries, k)
				break
			}
		}
	}

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= limiterWindow {
		l.entries[key] = &limiterEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= limiterMaxHits
}
