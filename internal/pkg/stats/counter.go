package stats

import "sync/atomic"

// counter is a gauge or a monotonic total.
type counter struct {
	count atomic.Int64
}

func (c *counter) incr(step int64) {
	c.count.Add(step)
}

func (c *counter) decr(step int64) {
	c.count.Add(-step)
}

func (c *counter) set(value int64) {
	c.count.Store(value)
}

func (c *counter) get() int64 {
	return c.count.Load()
}

func (c *counter) reset() {
	c.count.Store(0)
}
