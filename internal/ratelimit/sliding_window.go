// Package ratelimit holds the per-identity limiters used by presence and messaging.
package ratelimit

import (
	"sync"
	"time"
)

type windowEntry struct {
	stamps   []time.Time
	lastSeen time.Time
}

// SlidingWindow counts hits per key over a rolling window.
type SlidingWindow struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]*windowEntry
}

// NewSlidingWindow creates a limiter with the given rolling window.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window:  window,
		now:     time.Now,
		entries: make(map[string]*windowEntry),
	}
}

// WithClock overrides the time source.
func (l *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Allow records a hit for key when fewer than limit hits fall inside the window. When the
// ceiling is reached nothing is recorded and the time until the oldest hit expires is returned.
// A non-positive limit disables limiting.
func (l *SlidingWindow) Allow(key string, limit int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok {
		entry = &windowEntry{}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	entry.stamps = prune(entry.stamps, now.Add(-l.window))

	if limit > 0 && len(entry.stamps) >= limit {
		retryAfter := entry.stamps[0].Add(l.window).Sub(now)
		return false, retryAfter
	}
	entry.stamps = append(entry.stamps, now)
	return true, 0
}

// Count returns the hits currently inside the window for key.
func (l *SlidingWindow) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return 0
	}
	entry.stamps = prune(entry.stamps, l.now().Add(-l.window))
	return len(entry.stamps)
}

// PurgeIdle drops keys with no activity for maxIdle and returns how many were removed.
func (l *SlidingWindow) PurgeIdle(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for key, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// prune drops stamps at or before cutoff; stamps are appended in order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
