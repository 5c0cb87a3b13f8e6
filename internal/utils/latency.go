package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencySnapshot summarises the samples currently held by a LatencyTracker.
type LatencySnapshot struct {
	Samples int
	P50     time.Duration
	P95     time.Duration
	Max     time.Duration
}

// LatencyTracker keeps the most recent durations in a fixed-size ring.
type LatencyTracker struct {
	mu    sync.RWMutex
	ring  []time.Duration
	next  int
	total int
}

// NewLatencyTracker creates a tracker holding up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, 0, size)}
}

// Observe records d, overwriting the oldest sample once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ring) < cap(l.ring) {
		l.ring = append(l.ring, d)
	} else {
		l.ring[l.next] = d
	}
	l.next = (l.next + 1) % cap(l.ring)
	l.total++
}

// Count returns the number of samples currently held.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ring)
}

// Total returns the number of samples observed since creation.
func (l *LatencyTracker) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Percentile returns the p-th percentile (0-100) of held samples, or zero when empty.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	return percentile(l.sorted(), p)
}

// Snapshot returns p50, p95 and max over the held samples.
func (l *LatencyTracker) Snapshot() LatencySnapshot {
	sorted := l.sorted()
	snap := LatencySnapshot{Samples: len(sorted)}
	if len(sorted) == 0 {
		return snap
	}
	snap.P50 = percentile(sorted, 50)
	snap.P95 = percentile(sorted, 95)
	snap.Max = sorted[len(sorted)-1]
	return snap
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.RLock()
	out := append([]time.Duration(nil), l.ring...)
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[idx]
}
