package executor

import (
	"sync"
	"time"
)

// ExecutorMetrics tracks tool dispatch statistics for one executor.
type ExecutorMetrics struct {
	CallsDispatched  int
	CacheHits        int
	CallsSucceeded   int
	CallsFailed      int
	UnsupportedCalls int
	TotalDuration    time.Duration
	LongestCallTime  time.Duration

	mu sync.Mutex
}

// Copy returns a snapshot without the mutex.
func (m *ExecutorMetrics) Copy() ExecutorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ExecutorMetrics{
		CallsDispatched:  m.CallsDispatched,
		CacheHits:        m.CacheHits,
		CallsSucceeded:   m.CallsSucceeded,
		CallsFailed:      m.CallsFailed,
		UnsupportedCalls: m.UnsupportedCalls,
		TotalDuration:    m.TotalDuration,
		LongestCallTime:  m.LongestCallTime,
	}
}

func (m *ExecutorMetrics) update(fn func(m *ExecutorMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *ExecutorMetrics) recordCall(d time.Duration, err error) {
	m.update(func(m *ExecutorMetrics) {
		m.TotalDuration += d
		if d > m.LongestCallTime {
			m.LongestCallTime = d
		}
		if err != nil {
			m.CallsFailed++
		} else {
			m.CallsSucceeded++
		}
	})
}
