// Package pause suspends the dispatch of new work without stopping the
// fetches already in flight.
package pause

import (
	"context"
	"sync"

	"github.com/mangaraw/harvester/internal/pkg/stats"
)

type pauseManager struct {
	mu      sync.Mutex
	paused  bool
	message string
	resumed chan struct{} // closed on Resume, nil while running
}

var manager = &pauseManager{}

// Pause stops the dispatch of new work until Resume is called.
func Pause(message ...string) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if manager.paused {
		return
	}

	msg := "Paused"
	if len(message) > 0 {
		msg = message[0]
	}

	manager.paused = true
	manager.message = msg
	manager.resumed = make(chan struct{})

	stats.PausedSet(true)
}

// Resume releases every waiter.
func Resume() {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if !manager.paused {
		return
	}

	close(manager.resumed)
	manager.paused = false
	manager.message = ""
	manager.resumed = nil

	stats.PausedSet(false)
}

// Wait blocks while paused. It returns the context error when ctx is done first.
func Wait(ctx context.Context) error {
	manager.mu.Lock()
	resumed := manager.resumed
	manager.mu.Unlock()

	if resumed == nil {
		return ctx.Err()
	}

	select {
	case <-resumed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func IsPaused() bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.paused
}

func GetMessage() string {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.message
}
