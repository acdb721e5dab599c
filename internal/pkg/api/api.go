// Package api serves the control and status API of a running crawl.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/mangaraw/harvester/internal/pkg/log"
)

var (
	logger = log.NewFieldedLogger(&log.Fields{
		"component": "api",
	})

	server *http.Server
	once   sync.Once
	// ErrAPIAlreadyInitialized is returned when the API server is already initialized.
	ErrAPIAlreadyInitialized = errors.New("API server already initialized")
)

// Start begins serving HTTP requests in a separate goroutine. store backs
// the checkpoint routes.
func Start(store checkpoint.Store) error {
	var done bool

	once.Do(func() {
		server = &http.Server{
			Addr:              ":" + strconv.Itoa(config.Get().APIPort),
			Handler:           newRouter(store, config.Get().Prometheus),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("starting API server", "addr", server.Addr)
			// ListenAndServe returns http.ErrServerClosed when Shutdown is called.
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server stopped", "err", err.Error())
			}
		}()

		done = true
	})

	if !done {
		return ErrAPIAlreadyInitialized
	}

	return nil
}

// Stop gracefully shuts down the server within the provided timeout.
func Stop(timeout time.Duration) error {
	if server == nil {
		return nil
	}

	logger.Info("stopping API server", "addr", server.Addr)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
