package consumer

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// rollingWindowSize is how many processing durations the window keeps.
const rollingWindowSize = 100

// Metrics is the per-consumer metric registry exposed to observability.
type Metrics struct {
	TotalProcessed atomic.Int64
	Success        atomic.Int64
	Failure        atomic.Int64
	Filtered       atomic.Int64
	Poisoned       atomic.Int64

	mu           sync.Mutex
	errorsByType map[string]int64
	lastOffsets  map[string]int64 // "topic/partition" -> offset
	durations    [rollingWindowSize]time.Duration
	durationIdx  int
	durationLen  int
}

func NewMetrics() *Metrics {
	return &Metrics{
		errorsByType: make(map[string]int64),
		lastOffsets:  make(map[string]int64),
	}
}

// RecordError bumps an error-category counter.
func (m *Metrics) RecordError(category string) {
	m.mu.Lock()
	m.errorsByType[category]++
	m.mu.Unlock()
}

// RecordOffset stores the last processed offset per topic partition.
func (m *Metrics) RecordOffset(topic string, partition int32, offset int64) {
	m.mu.Lock()
	m.lastOffsets[offsetMapKey(topic, partition)] = offset
	m.mu.Unlock()
}

// RecordDuration appends a processing time to the rolling window.
func (m *Metrics) RecordDuration(d time.Duration) {
	m.mu.Lock()
	m.durations[m.durationIdx] = d
	m.durationIdx = (m.durationIdx + 1) % rollingWindowSize
	if m.durationLen < rollingWindowSize {
		m.durationLen++
	}
	m.mu.Unlock()
}

// Snapshot returns a consistent copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	errors := make(map[string]int64, len(m.errorsByType))
	for k, v := range m.errorsByType {
		errors[k] = v
	}
	offsets := make(map[string]int64, len(m.lastOffsets))
	for k, v := range m.lastOffsets {
		offsets[k] = v
	}

	var avg time.Duration
	if m.durationLen > 0 {
		var total time.Duration
		for i := 0; i < m.durationLen; i++ {
			total += m.durations[i]
		}
		avg = total / time.Duration(m.durationLen)
	}

	return MetricsSnapshot{
		TotalProcessed: m.TotalProcessed.Load(),
		Success:        m.Success.Load(),
		Failure:        m.Failure.Load(),
		Filtered:       m.Filtered.Load(),
		Poisoned:       m.Poisoned.Load(),
		ErrorsByType:   errors,
		LastOffsets:    offsets,
		AvgProcessing:  avg,
		WindowSamples:  m.durationLen,
	}
}

// MetricsSnapshot is a point-in-time view of the registry.
type MetricsSnapshot struct {
	TotalProcessed int64            `json:"total_processed"`
	Success        int64            `json:"success"`
	Failure        int64            `json:"failure"`
	Filtered       int64            `json:"filtered"`
	Poisoned       int64            `json:"poisoned"`
	ErrorsByType   map[string]int64 `json:"errors_by_type"`
	LastOffsets    map[string]int64 `json:"last_offsets"`
	AvgProcessing  time.Duration    `json:"avg_processing"`
	WindowSamples  int              `json:"window_samples"`
}

func offsetMapKey(topic string, partition int32) string {
	return topic + "/" + strconv.Itoa(int(partition))
}
