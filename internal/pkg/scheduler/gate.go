package scheduler

import (
	"context"
	"sync"
)

// gate bounds the number of in-flight fetches to a window that may move
// during the run. The window is read on every acquisition and never exceeds
// the configured concurrency.
type gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int
	window  func() int
	current int
}

func newGate(max int, window func() int) *gate {
	g := &gate{
		max:    max,
		window: window,
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *gate) limit() int {
	limit := g.max
	if g.window != nil {
		limit = min(g.window(), g.max)
	}
	return max(limit, 1)
}

// Acquire blocks until a slot is free. It returns false once ctx is done.
func (g *gate) Acquire(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.current >= g.limit() {
		if ctx.Err() != nil {
			return false
		}
		g.cond.Wait()
	}
	if ctx.Err() != nil {
		return false
	}

	g.current++
	return true
}

// Release frees a slot and wakes up the waiters.
func (g *gate) Release() {
	g.mu.Lock()
	g.current--
	g.cond.Broadcast()
	g.mu.Unlock()
}

// InFlight returns the number of held slots.
func (g *gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
