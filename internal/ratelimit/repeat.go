package ratelimit

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

type repeatHit struct {
	fingerprint uint64
	at          time.Time
}

// RepeatDetector remembers recent message fingerprints per key to spot copy-paste flooding.
type RepeatDetector struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	hits   map[string][]repeatHit
}

// NewRepeatDetector creates a detector that forgets hits older than window.
func NewRepeatDetector(window time.Duration) *RepeatDetector {
	return &RepeatDetector{
		window: window,
		now:    time.Now,
		hits:   make(map[string][]repeatHit),
	}
}

// WithClock overrides the time source.
func (d *RepeatDetector) WithClock(now func() time.Time) *RepeatDetector {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
	return d
}

// Seen returns how many times body was recorded for key inside the window.
func (d *RepeatDetector) Seen(key, body string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	fp := fingerprint(body)
	hits := d.pruneLocked(key)
	n := 0
	for _, h := range hits {
		if h.fingerprint == fp {
			n++
		}
	}
	return n
}

// Record stores one occurrence of body for key.
func (d *RepeatDetector) Record(key, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hits := d.pruneLocked(key)
	d.hits[key] = append(hits, repeatHit{fingerprint: fingerprint(body), at: d.now()})
}

// PurgeIdle drops keys whose newest hit is older than the window.
func (d *RepeatDetector) PurgeIdle() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key := range d.hits {
		if len(d.pruneLocked(key)) == 0 {
			delete(d.hits, key)
			removed++
		}
	}
	return removed
}

func (d *RepeatDetector) pruneLocked(key string) []repeatHit {
	hits := d.hits[key]
	cutoff := d.now().Add(-d.window)
	i := 0
	for i < len(hits) && !hits[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		hits = append(hits[:0], hits[i:]...)
		d.hits[key] = hits
	}
	return hits
}

// fingerprint matches bodies that are identical once surrounding whitespace is trimmed.
func fingerprint(body string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(body)))
	return h.Sum64()
}
