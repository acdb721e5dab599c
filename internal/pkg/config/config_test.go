package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetConfig(t *testing.T) {
	t.Helper()

	viper.Reset()
	once = sync.Once{}
	config = nil

	// keep the developer's own config file out of the tests
	t.Setenv("HOME", t.TempDir())

	t.Cleanup(func() {
		viper.Reset()
		once = sync.Once{}
		config = nil
	})
}

func TestInitConfig_Defaults(t *testing.T) {
	resetConfig(t)

	require.NoError(t, InitConfig())
	cfg := Get()

	assert.Equal(t, Default.WorkersCount, cfg.WorkersCount)
	assert.Equal(t, Default.MaxRetry, cfg.MaxRetry)
	assert.Equal(t, Default.MinDelay, cfg.MinDelay)
	assert.Equal(t, "sqlite", cfg.SinkBackend)
	assert.True(t, cfg.Resume)
	assert.NoError(t, cfg.Validate())
}

func TestInitConfig_Environment(t *testing.T) {
	resetConfig(t)
	t.Setenv("HARVESTER_WORKERS", "12")
	t.Setenv("HARVESTER_MAX_DELAY", "20s")
	t.Setenv("HARVESTER_SINK_DSN", "postgres://localhost/manga")
	t.Setenv("HARVESTER_RESUME", "false")

	require.NoError(t, InitConfig())
	cfg := Get()

	assert.Equal(t, 12, cfg.WorkersCount)
	assert.Equal(t, 20*time.Second, cfg.MaxDelay)
	assert.Equal(t, "postgres://localhost/manga", cfg.SinkDSN)
	assert.False(t, cfg.Resume)
}

func TestInitConfig_FlagsOverrideFile(t *testing.T) {
	resetConfig(t)

	file := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(file, []byte("workers: 6\ntarget: 78000\nphases: [statistics, chapters]\n"), 0o644))

	flags := pflag.NewFlagSet("get", pflag.ContinueOnError)
	flags.String("config-file", "", "")
	flags.Int("workers", Default.WorkersCount, "")
	require.NoError(t, flags.Parse([]string{"--config-file", file, "--workers", "3"}))
	BindFlags(flags)

	require.NoError(t, InitConfig())
	cfg := Get()

	assert.Equal(t, 3, cfg.WorkersCount)
	assert.EqualValues(t, 78000, cfg.Target)
	assert.Equal(t, []string{"statistics", "chapters"}, cfg.Phases)
}

func TestInitConfig_MissingConfigFile(t *testing.T) {
	resetConfig(t)
	viper.Set("config-file", filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, InitConfig())
}

func TestInitConfig_EdgeCases(t *testing.T) {
	resetConfig(t)
	viper.Set("live-stats", true)
	viper.Set("prometheus", true)

	require.NoError(t, InitConfig())
	cfg := Get()

	assert.True(t, cfg.NoStdoutLogging)
	assert.True(t, cfg.NoStderrLogging)
	assert.True(t, cfg.API)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"negative start":   func(c *Config) { c.Start = -1 },
		"reversed range":   func(c *Config) { c.Start, c.End = 10, 5 },
		"negative target":  func(c *Config) { c.Target = -1 },
		"negative retries": func(c *Config) { c.MaxRetry = -1 },
		"no workers":       func(c *Config) { c.WorkersCount = 0 },
		"delays reversed":  func(c *Config) { c.MinDelay, c.MaxDelay = time.Second, time.Millisecond },
		"backoff below 1":  func(c *Config) { c.BackoffFactor = 0.5 },
		"postgres no dsn":  func(c *Config) { c.SinkBackend = "postgres" },
		"bad rotation":     func(c *Config) { c.LogFileRotation = "daily" },
		"jitter above one": func(c *Config) { c.RetryJitter = 2 },
		"negative views":   func(c *Config) { c.YouTubeMinViews = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestTranslators(t *testing.T) {
	cfg := Default
	cfg.WorkersCount = 16
	cfg.Target = 500
	cfg.RunID = "run"

	rc := cfg.RateControllerConfig()
	assert.Equal(t, 16, rc.MaxConcurrency)
	assert.Equal(t, cfg.CooldownThreshold, rc.CooldownThreshold)
	require.NoError(t, rc.Validate())

	policy := cfg.RetryPolicy()
	assert.Equal(t, cfg.MaxRetry, policy.MaxRetries)
	assert.Equal(t, cfg.RetryMaxDelay, policy.MaxDelay)

	sched := cfg.SchedulerConfig("mal")
	assert.Equal(t, "mal", sched.Stage)
	assert.Equal(t, 16, sched.Concurrency)
	assert.EqualValues(t, 500, sched.Target)
	assert.Equal(t, "run", sched.RunID)
	require.NoError(t, sched.Validate())

	cfg.NoFileLogging = true
	assert.Nil(t, cfg.LogConfig().File)
	cfg.NoFileLogging = false
	cfg.LogFileOutputDir = "jobs/x/logs"
	require.NotNil(t, cfg.LogConfig().File)
	assert.Equal(t, 6*time.Hour, cfg.LogConfig().File.RotatePeriod)
}

func TestGenerateCrawlConfig(t *testing.T) {
	resetConfig(t)
	viper.Set("job", "mal-2024")

	require.NoError(t, InitConfig())
	require.NoError(t, GenerateCrawlConfig())
	cfg := Get()

	assert.Equal(t, filepath.Join("jobs", "mal-2024"), cfg.JobPath)
	assert.Equal(t, filepath.Join("jobs", "mal-2024", "records.db"), cfg.SinkPath)
	assert.Equal(t, filepath.Join("jobs", "mal-2024", "checkpoint.json"), cfg.CheckpointPath)
	assert.NotEmpty(t, cfg.RunID)
}
