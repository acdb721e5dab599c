package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mangaraw/harvester/internal/pkg/api/handlers"
	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/controler/pause"
	"github.com/mangaraw/harvester/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, store checkpoint.Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(store, false))
	t.Cleanup(srv.Close)
	return srv
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, checkpoint.NewMemory())

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.NotEmpty(t, status.Version)
	assert.NotEmpty(t, status.StartTime)
	assert.Contains(t, status.Stats, "Items processed")
}

func TestPauseRoutes(t *testing.T) {
	srv := newTestServer(t, checkpoint.NewMemory())
	t.Cleanup(pause.Resume)

	patch := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPatch, srv.URL+"/pause", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := patch(`{"paused": true, "message": "maintenance"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, pause.IsPaused())

	resp, err := http.Get(srv.URL + "/pause")
	require.NoError(t, err)
	var state handlers.PauseState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.True(t, state.Paused)
	assert.Equal(t, "maintenance", state.Message)

	resp = patch(`{"paused": false}`)
	resp.Body.Close()
	assert.False(t, pause.IsPaused())

	resp = patch(`not json`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckpointRoutes(t *testing.T) {
	store := checkpoint.NewMemory()
	last := models.IntItem(1500)
	require.NoError(t, store.Save(context.Background(), checkpoint.Record{Stage: "mal", LastProcessedKey: &last, Processed: 12}))
	srv := newTestServer(t, store)

	resp, err := http.Get(srv.URL + "/checkpoint/mal")
	require.NoError(t, err)
	var rec checkpoint.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	require.NotNil(t, rec.LastProcessedKey)
	assert.EqualValues(t, 1500, rec.LastProcessedKey.ID)
	assert.EqualValues(t, 12, rec.Processed)

	resp, err = http.Get(srv.URL + "/checkpoint/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/checkpoint/")
	require.NoError(t, err)
	var records []checkpoint.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	resp.Body.Close()
	require.Len(t, records, 1)
	assert.Equal(t, "mal", records[0].Stage)
}

func TestMetricsRouteDisabled(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/checkpoint/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
