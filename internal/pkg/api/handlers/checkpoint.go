package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
)

// Checkpoints exposes the stage records of a checkpoint store.
type Checkpoints struct {
	store checkpoint.Store
}

func NewCheckpoints(store checkpoint.Store) *Checkpoints {
	return &Checkpoints{store: store}
}

// GET /checkpoint
func (c *Checkpoints) List(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "no checkpoint store", http.StatusServiceUnavailable)
		return
	}

	records, err := c.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []checkpoint.Record{}
	}

	writeJSON(w, http.StatusOK, records)
}

// GET /checkpoint/{stage}
func (c *Checkpoints) Get(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "no checkpoint store", http.StatusServiceUnavailable)
		return
	}

	stage := chi.URLParam(r, "stage")
	record, err := c.store.Load(r.Context(), stage)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if record.UpdatedAt.IsZero() {
		http.Error(w, "unknown stage "+stage, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, record)
}
