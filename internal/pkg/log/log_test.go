package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startCaptured(t *testing.T, cfg *Config) (stdout, stderr *syncBuffer) {
	t.Helper()

	Stop()
	stdout, stderr = &syncBuffer{}, &syncBuffer{}
	cfg.stdout, cfg.stderr = stdout, stderr
	require.NoError(t, Start(cfg))
	t.Cleanup(Stop)

	return stdout, stderr
}

func TestLoggerNilSafety(t *testing.T) {
	Stop()

	Debug("Should not panic when logger is nil")
	Info("Should not panic when logger is nil")
	NewFieldedLogger(&Fields{"component": "test"}).Error("Should not panic when logger is nil")
}

func TestStartTwice(t *testing.T) {
	startCaptured(t, DefaultConfig())
	assert.ErrorIs(t, Start(nil), ErrLoggerAlreadyInitialized)
}

func TestRouting(t *testing.T) {
	stdout, stderr := startCaptured(t, DefaultConfig())

	Debug("hidden")
	Info("to stdout")
	Error("to stderr")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "to stdout")
	assert.NotContains(t, stdout.String(), "to stderr")
	assert.Contains(t, stderr.String(), "to stderr")
}

func TestFieldedLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JSON = true
	cfg.StdoutLevel = slog.LevelDebug
	stdout, _ := startCaptured(t, cfg)

	logger := NewFieldedLogger(&Fields{"component": "scheduler", "stage": "mal"})
	logger.With("run_id", "r1").Info("checkpoint flushed", "key", 105)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stdout.String())), &entry))
	assert.Equal(t, "checkpoint flushed", entry["msg"])
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "mal", entry["stage"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.EqualValues(t, 105, entry["key"])
}

func TestLoggerRaceCondition(t *testing.T) {
	startCaptured(t, DefaultConfig())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(4)
		go func() { defer wg.Done(); Debug("message") }()
		go func() { defer wg.Done(); Info("message") }()
		go func() { defer wg.Done(); Warn("message") }()
		go func() { defer wg.Done(); Error("message") }()
	}

	stopped := make(chan struct{})
	go func() {
		Stop()
		close(stopped)
	}()

	wg.Wait()
	<-stopped

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if multiLogger != nil {
		t.Error("Logger should be nil after Stop()")
	}
}

func TestFileDestination(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		File: &FileConfig{Dir: dir, Prefix: "mal", Level: slog.LevelWarn},
	}
	startCaptured(t, cfg)

	Info("not in file")
	Warn("rate limited", "status", 429)
	Stop()

	matches, err := filepath.Glob(filepath.Join(dir, "mal_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "rate limited")
	assert.NotContains(t, string(data), "not in file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
