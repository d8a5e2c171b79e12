// Package selector tracks per-selector hit rates to catch markup drift on
// scraped sites before extraction silently degrades.
package selector

import (
	"sort"
	"sync"
	"time"
)

const defaultCapacity = 1000

// Sample is one selector observation from a fetch.
type Sample struct {
	Selector   string
	Matched    int
	HTMLLength int
	URL        string
	At         time.Time
}

// Report summarizes a selector's recent hit rate against its trailing median.
type Report struct {
	Current        float64
	Median         float64
	AlertThreshold float64
	Samples        int
}

// Drifting reports whether the most recent observation fell below half the
// trailing median. A heuristic early warning, not a hard failure.
func (r Report) Drifting() bool {
	return r.Samples > 1 && r.Current < r.AlertThreshold
}

// Monitor keeps a bounded ring of selector observations. Oldest entries are
// evicted first so memory stays constant no matter how long the process runs.
type Monitor struct {
	mu       sync.Mutex
	capacity int
	samples  []Sample
	start    int
	count    int
}

// NewMonitor builds a Monitor holding at most capacity samples (1000 when
// capacity <= 0).
func NewMonitor(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Monitor{
		capacity: capacity,
		samples:  make([]Sample, capacity),
	}
}

// TrackHit appends one observation, evicting the oldest when full.
func (m *Monitor) TrackHit(selectorName string, matched, htmlLength int, url string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := (m.start + m.count) % m.capacity
	m.samples[idx] = Sample{
		Selector:   selectorName,
		Matched:    matched,
		HTMLLength: htmlLength,
		URL:        url,
		At:         at,
	}
	if m.count < m.capacity {
		m.count++
	} else {
		m.start = (m.start + 1) % m.capacity
	}
}

// Len returns the number of retained samples.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// HitRate computes the selector's most recent hit rate, the trailing median
// over the daysBack window ending at now, and the drift alert threshold
// (half the median).
func (m *Monitor) HitRate(selectorName string, daysBack int, now time.Time) Report {
	if daysBack <= 0 {
		daysBack = 7
	}
	cutoff := now.AddDate(0, 0, -daysBack)

	m.mu.Lock()
	rates := make([]float64, 0, m.count)
	for i := 0; i < m.count; i++ {
		s := m.samples[(m.start+i)%m.capacity]
		if s.Selector != selectorName || s.At.Before(cutoff) || s.At.After(now) {
			continue
		}
		rates = append(rates, hitRate(s))
	}
	m.mu.Unlock()

	report := Report{Samples: len(rates)}
	if len(rates) == 0 {
		return report
	}
	// Samples are stored in arrival order, so the last rate is the current one.
	report.Current = rates[len(rates)-1]
	report.Median = median(rates)
	report.AlertThreshold = report.Median * 0.5
	return report
}

// hitRate normalizes match counts by page size so large pages with many
// candidates and small pages with few are comparable.
func hitRate(s Sample) float64 {
	denom := float64(s.HTMLLength) / 1000
	if denom < 1 {
		denom = 1
	}
	return float64(s.Matched) / denom
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
