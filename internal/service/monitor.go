package service

import (
	"sync"
	"time"
)

// OpStats aggregates latency/outcome samples for one operation.
type OpStats struct {
	Count    int64         `json:"count"`
	Errors   int64         `json:"errors"`
	Total    time.Duration `json:"total"`
	Max      time.Duration `json:"max"`
	InFlight int64         `json:"in_flight"`
}

// Avg returns the mean latency across recorded samples.
func (s OpStats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// PerformanceMonitor records per-operation samples and concurrency counters.
// One instance per process; read by the admin surface to spot slow operations
// and elevated error rates.
type PerformanceMonitor struct {
	mu  sync.Mutex
	ops map[string]*OpStats
}

func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{ops: make(map[string]*OpStats)}
}

func (m *PerformanceMonitor) stats(op string) *OpStats {
	s, ok := m.ops[op]
	if !ok {
		s = &OpStats{}
		m.ops[op] = s
	}
	return s
}

// Begin marks an operation in flight and returns a done func that records the
// sample. Usage: done := m.Begin("admit"); defer done(err != nil).
func (m *PerformanceMonitor) Begin(op string) func(failed bool) {
	start := time.Now()
	m.mu.Lock()
	m.stats(op).InFlight++
	m.mu.Unlock()

	return func(failed bool) {
		elapsed := time.Since(start)
		m.mu.Lock()
		s := m.stats(op)
		s.InFlight--
		s.Count++
		s.Total += elapsed
		if elapsed > s.Max {
			s.Max = elapsed
		}
		if failed {
			s.Errors++
		}
		m.mu.Unlock()
	}
}

// Snapshot copies current stats for all operations.
func (m *PerformanceMonitor) Snapshot() map[string]OpStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]OpStats, len(m.ops))
	for op, s := range m.ops {
		out[op] = *s
	}
	return out
}

// Reset clears all recorded samples. Test/teardown hook.
func (m *PerformanceMonitor) Reset() {
	m.mu.Lock()
	m.ops = make(map[string]*OpStats)
	m.mu.Unlock()
}
