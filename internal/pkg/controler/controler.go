// Package controler owns the lifecycle of a run: the run context and the
// signal watcher that cancels it.
package controler

import (
	"context"
	"sync"

	"github.com/mangaraw/harvester/internal/pkg/log"
)

var (
	logger = log.NewFieldedLogger(&log.Fields{
		"component": "controler",
	})

	mu        sync.Mutex
	done      chan struct{}
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
)

// Start returns the context the run must use. It is canceled by the first
// shutdown signal or by Stop.
func Start(parent context.Context) context.Context {
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	cancelRun = cancel
	done = make(chan struct{})

	wg.Add(1)
	go func(done <-chan struct{}) {
		defer wg.Done()
		WatchSignals(done, cancel)
	}(done)

	return ctx
}

// Stop cancels the run context and stops the signal watcher.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	if done == nil {
		return
	}

	close(done)
	cancelRun()
	wg.Wait()
	done = nil
}
