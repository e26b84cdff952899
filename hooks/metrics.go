package hooks

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stageDurationsMs map[string]int64 // cumulative ms per stage
	stageCalls       map[string]int64 // call count per stage
	stageErrors      map[string]int64
	deliveries       map[string]int64 // "flow/status" -> count

	totalThroughputB int64
	clones           int64
	releases         int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stageDurationsMs: make(map[string]int64),
		stageCalls:       make(map[string]int64),
		stageErrors:      make(map[string]int64),
		deliveries:       make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stage string, d time.Duration) {
	m.mu.Lock()
	m.stageDurationsMs[stage] += d.Milliseconds()
	m.stageCalls[stage]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(stage string, _ string) {
	m.mu.Lock()
	m.stageErrors[stage]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordDelivery(flow, status string) {
	m.mu.Lock()
	m.deliveries[flow+"/"+status]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordBufferClone()   { atomic.AddInt64(&m.clones, 1) }
func (m *InMemoryMetrics) RecordBufferRelease() { atomic.AddInt64(&m.releases, 1) }

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		StageDurationsMs: maps.Clone(m.stageDurationsMs),
		StageCalls:       maps.Clone(m.stageCalls),
		StageErrors:      maps.Clone(m.stageErrors),
		Deliveries:       maps.Clone(m.deliveries),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
		BufferClones:     atomic.LoadInt64(&m.clones),
		BufferReleases:   atomic.LoadInt64(&m.releases),
	}
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StageDurationsMs map[string]int64
	StageCalls       map[string]int64
	StageErrors      map[string]int64
	Deliveries       map[string]int64
	TotalThroughputB int64
	BufferClones     int64
	BufferReleases   int64
}

// OutstandingBuffers is clones minus releases; zero once every delivery
// has cleaned up.
func (s MetricsSnapshot) OutstandingBuffers() int64 { return s.BufferClones - s.BufferReleases }
