package stats

import (
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
)

// rate tracks a total and its rate over the last second.
type rate struct {
	total   atomic.Uint64
	counter atomic.Pointer[ratecounter.RateCounter]
}

func newRate() *rate {
	r := &rate{}
	r.counter.Store(ratecounter.NewRateCounter(time.Second))
	return r
}

func (r *rate) incr(step uint64) {
	r.total.Add(step)
	r.counter.Load().Incr(int64(step))
}

// get returns the number of events of the last second.
func (r *rate) get() uint64 {
	return uint64(max(r.counter.Load().Rate(), 0))
}

func (r *rate) getTotal() uint64 {
	return r.total.Load()
}

func (r *rate) reset() {
	r.total.Store(0)
	r.counter.Store(ratecounter.NewRateCounter(time.Second))
}
