package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/mangaraw/harvester/internal/pkg/controler/pause"
	"github.com/mangaraw/harvester/internal/pkg/stats"
	"github.com/mangaraw/harvester/internal/pkg/utils"
)

// StatusResponse represents the structure of the status API response
type StatusResponse struct {
	Version        string         `json:"version"`
	Host           string         `json:"host"`
	Job            string         `json:"job"`
	RunID          string         `json:"run_id"`
	StartTime      string         `json:"start_time"`
	ItemsProcessed uint64         `json:"items_processed"`
	Paused         bool           `json:"paused"`
	PauseMessage   string         `json:"pause_message,omitempty"`
	Stats          map[string]any `json:"stats"`
}

var startTime = time.Now()

// statusHandler handles GET requests to /status
func statusHandler(w http.ResponseWriter, _ *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	response := StatusResponse{
		Version:        utils.GetVersion().Version,
		Host:           hostname,
		StartTime:      startTime.Format(time.RFC3339),
		ItemsProcessed: stats.ItemsProcessedTotal(),
		Paused:         pause.IsPaused(),
		PauseMessage:   pause.GetMessage(),
		Stats:          stats.GetMap(),
	}
	if cfg := config.Get(); cfg != nil {
		response.Job = cfg.Job
		response.RunID = cfg.RunID
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode JSON", http.StatusInternalServerError)
		return
	}
}
