package stats

import "sync/atomic"

// mean is the running mean of a series of durations.
type mean struct {
	count atomic.Uint64
	sum   atomic.Uint64
}

func (m *mean) add(value uint64) {
	m.count.Add(1)
	m.sum.Add(value)
}

func (m *mean) get() float64 {
	count := m.count.Load()
	if count == 0 {
		return 0
	}
	return float64(m.sum.Load()) / float64(count)
}

func (m *mean) reset() {
	m.count.Store(0)
	m.sum.Store(0)
}
