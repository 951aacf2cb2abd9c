package subject

import (
	"slices"
	"sync"
	"time"
)

// durationWindowSize caps the rolling window used for latency percentiles.
const durationWindowSize = 1000

// MetricsSnapshot is a point-in-time copy of registry counters, returned by
// [Registry.Metrics] and served on the admin health endpoint.
type MetricsSnapshot struct {
	BuildCount       int64            `json:"build_count"`
	ValidationCount  int64            `json:"validation_count"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	ErrorsByCategory map[string]int64 `json:"errors_by_category"`
	AvgDurationMS    float64          `json:"avg_duration_ms"`
	P95DurationMS    float64          `json:"p95_duration_ms"`
	PatternCount     int              `json:"pattern_count"`
}

// metrics accumulates registry counters and a rolling window of operation
// durations. Disabled instances drop every record cheaply.
type metrics struct {
	enabled bool

	mu        sync.Mutex
	builds    int64
	validates int64
	hits      int64
	misses    int64
	errors    map[string]int64
	durations []time.Duration
	next      int
	filled    bool
}

func newMetrics(enabled bool) *metrics {
	return &metrics{
		enabled: enabled,
		errors:  make(map[string]int64),
	}
}

func (m *metrics) recordBuild(d time.Duration) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.builds++
	m.push(d)
	m.mu.Unlock()
}

func (m *metrics) recordValidate(d time.Duration, cacheHit bool) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.validates++
	if cacheHit {
		m.hits++
	} else {
		m.misses++
	}
	m.push(d)
	m.mu.Unlock()
}

func (m *metrics) recordError(category string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.errors[category]++
	m.mu.Unlock()
}

// push appends a duration to the rolling window, overwriting the oldest
// entry once the window is full. Caller holds m.mu.
func (m *metrics) push(d time.Duration) {
	if len(m.durations) < durationWindowSize {
		m.durations = append(m.durations, d)
		return
	}
	m.durations[m.next] = d
	m.next = (m.next + 1) % durationWindowSize
	m.filled = true
}

func (m *metrics) snapshot(patternCount int) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		BuildCount:       m.builds,
		ValidationCount:  m.validates,
		CacheHits:        m.hits,
		CacheMisses:      m.misses,
		ErrorsByCategory: make(map[string]int64, len(m.errors)),
		PatternCount:     patternCount,
	}
	for k, v := range m.errors {
		snap.ErrorsByCategory[k] = v
	}

	if len(m.durations) == 0 {
		return snap
	}

	sorted := slices.Clone(m.durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	snap.AvgDurationMS = float64(sum.Microseconds()) / float64(len(sorted)) / 1000

	idx := (len(sorted)*95+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	snap.P95DurationMS = float64(sorted[idx].Microseconds()) / 1000
	return snap
}
