package store

import (
	"sync"
	"time"
)

// maxRateKeys caps tracked senders so rotating sender ids cannot exhaust
// memory. Eviction drops whole windows, which only ever errs permissive.
const maxRateKeys = 4096

// RateWindow is an exact rolling-window counter shared by the store
// backends: a message is allowed iff fewer than max events fell inside
// the trailing window. Window state is in-memory only; it does not need
// to survive a restart.
type RateWindow struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
}

// NewRateWindow creates a rolling window allowing max events per window.
func NewRateWindow(max int, window time.Duration) *RateWindow {
	return &RateWindow{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records an event for key at now and reports whether it was under
// the cap. The boundary is inclusive on the allowed side: the max-th
// event in a window is allowed, the max+1-th is not.
func (w *RateWindow) Allow(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.hits[key][:0]
	for _, t := range w.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= w.max {
		w.hits[key] = kept
		return false
	}

	if len(w.hits) >= maxRateKeys {
		w.evictStale(cutoff)
	}

	w.hits[key] = append(kept, now)
	return true
}

// evictStale drops keys whose every event left the window; if none
// qualify, an arbitrary key goes (map order eviction, caller holds lock).
func (w *RateWindow) evictStale(cutoff time.Time) {
	for k, times := range w.hits {
		stale := true
		for _, t := range times {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(w.hits, k)
		}
	}
	for len(w.hits) >= maxRateKeys {
		for k := range w.hits {
			delete(w.hits, k)
			break
		}
	}
}
