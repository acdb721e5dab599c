package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mangaraw/harvester/internal/pkg/controler/pause"
)

// JSON schema
type PauseState struct {
	Paused  bool   `json:"paused"`
	Message string `json:"message,omitempty"`
}

// GET /pause.
func GetPause(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PauseState{Paused: pause.IsPaused(), Message: pause.GetMessage()})
}

// PATCH /pause
func PatchPause(w http.ResponseWriter, r *http.Request) {
	var state PauseState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		http.Error(w, "body must be {\"paused\": true|false}", http.StatusBadRequest)
		return
	}
	if state.Paused {
		if state.Message != "" {
			pause.Pause(state.Message)
		} else {
			pause.Pause("Paused from the API")
		}
	} else {
		pause.Resume()
	}

	writeJSON(w, http.StatusOK, PauseState{Paused: pause.IsPaused(), Message: pause.GetMessage()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
