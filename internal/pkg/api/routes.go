package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mangaraw/harvester/internal/pkg/api/handlers"
	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/stats"
)

func newRouter(store checkpoint.Store, prometheus bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if prometheus {
		r.Handle("/metrics", stats.PrometheusHandler())
	}

	r.Get("/status", statusHandler)

	r.Get("/pause", handlers.GetPause)
	r.Patch("/pause", handlers.PatchPause)

	checkpoints := handlers.NewCheckpoints(store)
	r.Route("/checkpoint", func(r chi.Router) {
		r.Get("/", checkpoints.List)
		r.Get("/{stage}", checkpoints.Get)
	})

	return r
}
