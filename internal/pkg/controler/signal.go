package controler

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalChan receives the shutdown signals.
var SignalChan = make(chan os.Signal, 1)

var exitFunc = os.Exit

// WatchSignals cancels the run on SIGINT or SIGTERM so that in-flight
// fetches get their grace period. A second signal forces the exit.
// It returns when done is closed.
func WatchSignals(done <-chan struct{}, cancelRun context.CancelFunc) {
	// Handle OS signals for graceful shutdown
	signal.Notify(SignalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(SignalChan)

	select {
	case <-done:
		return
	case sig := <-SignalChan:
		logger.Info("received shutdown signal, finishing in-flight items...", "signal", sig.String())
		cancelRun()
	}

	// Catch a second signal to force exit
	select {
	case <-done:
	case <-SignalChan:
		logger.Warn("received second shutdown signal, forcing exit...")
		exitFunc(1)
	}
}
