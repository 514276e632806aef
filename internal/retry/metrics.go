package retry

import (
	"sync"
	"time"
)

// Metrics accumulates process-wide retry counters. Mutated on every retry
// decision, never reset except on restart.
type Metrics struct {
	mu         sync.Mutex
	attempts   int64
	successes  int64
	failures   map[string]int64
	totalDelay time.Duration
}

// MetricsSnapshot is a read-only copy of the counters.
type MetricsSnapshot struct {
	Attempts   int64            `json:"attempts"`
	Successes  int64            `json:"successes"`
	Failures   map[string]int64 `json:"failures_by_kind"`
	TotalDelay time.Duration    `json:"total_delay"`
}

func newMetrics() *Metrics {
	return &Metrics{failures: make(map[string]int64)}
}

func (m *Metrics) recordAttempt() {
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
}

func (m *Metrics) recordSuccess() {
	m.mu.Lock()
	m.successes++
	m.mu.Unlock()
}

func (m *Metrics) recordFailure(kind string) {
	m.mu.Lock()
	m.failures[kind]++
	m.mu.Unlock()
}

func (m *Metrics) recordDelay(d time.Duration) {
	m.mu.Lock()
	m.totalDelay += d
	m.mu.Unlock()
}

func (m *Metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	failures := make(map[string]int64, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}
	return MetricsSnapshot{
		Attempts:   m.attempts,
		Successes:  m.successes,
		Failures:   failures,
		TotalDelay: m.totalDelay,
	}
}
