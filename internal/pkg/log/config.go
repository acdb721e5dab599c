package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Config describes the log destinations.
type Config struct {
	StdoutEnabled bool
	StdoutLevel   slog.Level
	StderrEnabled bool
	StderrLevel   slog.Level
	// JSON switches the console handlers from text to JSON.
	JSON bool
	// File enables the rotated log file when not nil.
	File *FileConfig

	// stdout and stderr are replaced in tests.
	stdout io.Writer
	stderr io.Writer
}

// FileConfig describes the rotated log file destination.
type FileConfig struct {
	Dir          string
	Prefix       string
	Level        slog.Level
	RotatePeriod time.Duration
	MaxAge       time.Duration
}

// DefaultConfig logs info and above to stdout, errors to stderr.
func DefaultConfig() *Config {
	return &Config{
		StdoutEnabled: true,
		StdoutLevel:   slog.LevelInfo,
		StderrEnabled: true,
		StderrLevel:   slog.LevelError,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) newHandler(out io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if c.JSON {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

func (c *Config) makeMultiLogger() (*slog.Logger, []io.Closer, error) {
	stdout, stderr := c.stdout, c.stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	var closers []io.Closer
	baseRouter := slogmulti.Router()

	// If stdout and stderr are both enabled, every level below the stderr level
	// goes to stdout and the rest to stderr
	if c.StdoutEnabled && c.StderrEnabled {
		baseRouter = baseRouter.Add(c.newHandler(stderr, c.StderrLevel), func(_ context.Context, r slog.Record) bool {
			return r.Level >= c.StderrLevel
		})
		baseRouter = baseRouter.Add(c.newHandler(stdout, c.StdoutLevel), func(_ context.Context, r slog.Record) bool {
			return r.Level >= c.StdoutLevel && r.Level < c.StderrLevel
		})
	} else if c.StdoutEnabled {
		baseRouter = baseRouter.Add(c.newHandler(stdout, c.StdoutLevel), func(_ context.Context, r slog.Record) bool {
			return r.Level >= c.StdoutLevel
		})
	} else if c.StderrEnabled {
		baseRouter = baseRouter.Add(c.newHandler(stderr, c.StderrLevel), func(_ context.Context, r slog.Record) bool {
			return r.Level >= c.StderrLevel
		})
	}

	if c.File != nil {
		file, err := newRotatedFile(c.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, file)

		fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: c.File.Level})
		baseRouter = baseRouter.Add(fileHandler, func(_ context.Context, r slog.Record) bool {
			return r.Level >= c.File.Level
		})
	}

	return slog.New(baseRouter.Handler()), closers, nil
}
