// Package log is the process-wide structured logger. Until Start is called
// every log call is a no-op, so packages can log freely in tests.
package log

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

var (
	loggerMu    sync.RWMutex
	multiLogger *slog.Logger
	closers     []io.Closer
)

// Start builds the logger from cfg, or from the default configuration when
// cfg is nil.
func Start(cfg *Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if multiLogger != nil {
		return ErrLoggerAlreadyInitialized
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger, c, err := cfg.makeMultiLogger()
	if err != nil {
		return err
	}
	multiLogger = logger
	closers = c

	return nil
}

// Stop flushes and closes the log destinations. Logging after Stop is a no-op.
func Stop() {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	for _, c := range closers {
		c.Close()
	}
	closers = nil
	multiLogger = nil
}

// Debug logs a message at the debug level
func Debug(msg string, args ...any) {
	logWithLevel(slog.LevelDebug, msg, args...)
}

// Info logs a message at the info level
func Info(msg string, args ...any) {
	logWithLevel(slog.LevelInfo, msg, args...)
}

// Warn logs a message at the warn level
func Warn(msg string, args ...any) {
	logWithLevel(slog.LevelWarn, msg, args...)
}

// Error logs a message at the error level
func Error(msg string, args ...any) {
	logWithLevel(slog.LevelError, msg, args...)
}

func logWithLevel(level slog.Level, msg string, args ...any) {
	// skip [runtime.Callers, handle, logWithLevel, exported wrapper]
	handle(context.Background(), level, msg, 4, args)
}

// handle writes one record attributed to the frame found after skipping skip
// frames, runtime.Callers included.
func handle(ctx context.Context, level slog.Level, msg string, skip int, args []any) {
	loggerMu.RLock()
	defer loggerMu.RUnlock()

	if multiLogger == nil || !multiLogger.Enabled(ctx, level) {
		return
	}

	// Code copy from [slog.Logger:log()]: wrapping the logger hides the real
	// caller, so the PC is computed here.
	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)
	multiLogger.Handler().Handle(ctx, record)
}
