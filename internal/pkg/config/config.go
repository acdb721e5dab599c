package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/internal/pkg/ratecontroller"
	"github.com/mangaraw/harvester/internal/pkg/retry"
	"github.com/mangaraw/harvester/internal/pkg/scheduler"
	"github.com/mangaraw/harvester/internal/pkg/sink"
	"github.com/mangaraw/harvester/internal/pkg/stats"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for our program, parsed from various sources
// The `mapstructure` tags are used to map the fields to the viper configuration
type Config struct {
	Job     string `mapstructure:"job"`
	JobPath string
	RunID   string

	// Work selection
	Start        int64    `mapstructure:"start"`
	End          int64    `mapstructure:"end"`
	Target       int64    `mapstructure:"target"`
	Phases       []string `mapstructure:"phases"`
	Resume       bool     `mapstructure:"resume"`
	SkipExisting bool     `mapstructure:"skip-existing"`

	// Scheduler
	WorkersCount      int           `mapstructure:"workers"`
	CheckpointEvery   int           `mapstructure:"checkpoint-every"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown-grace"`
	StorageRetries    int           `mapstructure:"storage-retries"`
	StorageRetryDelay time.Duration `mapstructure:"storage-retry-delay"`

	// HTTP and retries
	BaseURL        string        `mapstructure:"base-url"`
	UserAgents     []string      `mapstructure:"user-agent"`
	HTTPTimeout    time.Duration `mapstructure:"http-timeout"`
	MaxRetry       int           `mapstructure:"max-retry"`
	RetryBaseDelay time.Duration `mapstructure:"retry-base-delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry-max-delay"`
	RetryJitter    float64       `mapstructure:"retry-jitter"`

	// Rate control
	MinDelay          time.Duration `mapstructure:"min-delay"`
	MaxDelay          time.Duration `mapstructure:"max-delay"`
	BaseDelay         time.Duration `mapstructure:"base-delay"`
	BackoffFactor     float64       `mapstructure:"backoff-factor"`
	RecoveryFactor    float64       `mapstructure:"recovery-factor"`
	BurstThreshold    int           `mapstructure:"burst-threshold"`
	CooldownThreshold int           `mapstructure:"cooldown-threshold"`
	CooldownMin       time.Duration `mapstructure:"cooldown-min"`
	CooldownMax       time.Duration `mapstructure:"cooldown-max"`
	MaxPenalty        time.Duration `mapstructure:"max-penalty"`
	MinConcurrency    int           `mapstructure:"min-concurrency"`

	// Storage
	SinkBackend        string `mapstructure:"sink"`
	SinkPath           string `mapstructure:"sink-path"`
	SinkDSN            string `mapstructure:"sink-dsn"`
	SinkMaxConns       int    `mapstructure:"sink-max-conns"`
	SinkSimpleProtocol bool   `mapstructure:"sink-simple-protocol"`
	CheckpointBackend  string `mapstructure:"checkpoint-backend"`
	CheckpointPath     string `mapstructure:"checkpoint-path"`

	// Site specific
	JikanRecommendationPages int      `mapstructure:"jikan-recommendation-pages"`
	JikanReviewPages         int      `mapstructure:"jikan-review-pages"`
	MangaDexLanguages        []string `mapstructure:"mangadex-languages"`
	MangaDexMaxChapters      int      `mapstructure:"mangadex-max-chapters"`
	YouTubeMinViews          int64    `mapstructure:"youtube-min-views"`
	YouTubeLanguages         []string `mapstructure:"youtube-languages"`

	// Logging
	NoStdoutLogging  bool   `mapstructure:"no-stdout-log"`
	NoStderrLogging  bool   `mapstructure:"no-stderr-log"`
	NoFileLogging    bool   `mapstructure:"no-log-file"`
	StdoutLogLevel   string `mapstructure:"log-level"`
	LogFileLevel     string `mapstructure:"log-file-level"`
	LogFileOutputDir string `mapstructure:"log-file-output-dir"`
	LogFilePrefix    string `mapstructure:"log-file-prefix"`
	LogFileRotation  string `mapstructure:"log-file-rotation"`
	JSON             bool   `mapstructure:"json"`
	LiveStats        bool   `mapstructure:"live-stats"`

	// API
	APIPort int  `mapstructure:"api-port"`
	API     bool `mapstructure:"api"`

	// Prometheus and metrics
	Prometheus       bool   `mapstructure:"prometheus"`
	PrometheusPrefix string `mapstructure:"prometheus-prefix"`
}

// Default holds the value of every setting that is not given. The command
// line flags use it for their defaults.
var Default = Config{
	Start:             1,
	Resume:            true,
	WorkersCount:      4,
	CheckpointEvery:   10,
	ShutdownGrace:     30 * time.Second,
	StorageRetries:    3,
	StorageRetryDelay: time.Second,

	HTTPTimeout:    30 * time.Second,
	MaxRetry:       5,
	RetryBaseDelay: time.Second,
	RetryMaxDelay:  30 * time.Second,
	RetryJitter:    0.2,

	MinDelay:          100 * time.Millisecond,
	MaxDelay:          5 * time.Second,
	BaseDelay:         500 * time.Millisecond,
	BackoffFactor:     2,
	RecoveryFactor:    0.9,
	BurstThreshold:    10,
	CooldownThreshold: 8,
	CooldownMin:       5 * time.Minute,
	CooldownMax:       15 * time.Minute,
	MaxPenalty:        2 * time.Minute,
	MinConcurrency:    1,

	SinkBackend:       "sqlite",
	SinkMaxConns:      4,
	CheckpointBackend: "file",

	JikanRecommendationPages: 5,
	JikanReviewPages:         3,
	YouTubeMinViews:          1000,
	YouTubeLanguages:         []string{"en", "vi"},

	StdoutLogLevel:  "info",
	LogFileLevel:    "info",
	LogFilePrefix:   "harvester",
	LogFileRotation: "6h",

	APIPort:          9443,
	PrometheusPrefix: "harvester_",
}

var (
	config *Config
	once   sync.Once
)

// InitConfig initializes the configuration
// Flags -> Env -> Config file -> Defaults
// Earliest has precedence over the rest
func InitConfig() error {
	var err error
	once.Do(func() {
		config = &Config{}

		// Check if a config file is provided via flag
		if configFile := viper.GetString("config-file"); configFile != "" {
			viper.SetConfigFile(configFile)
		} else {
			home, homeErr := os.UserHomeDir()
			if homeErr == nil {
				viper.AddConfigPath(home)
			}
			viper.AddConfigPath(".")
			viper.SetConfigType("yaml")
			viper.SetConfigName("harvester-config")
		}

		viper.SetEnvPrefix("HARVESTER")
		replacer := strings.NewReplacer("-", "_", ".", "_")
		viper.SetEnvKeyReplacer(replacer)
		viper.AutomaticEnv()

		setDefaults()

		if readErr := viper.ReadInConfig(); readErr == nil {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		} else if viper.GetString("config-file") != "" {
			err = fmt.Errorf("unable to read config file: %w", readErr)
			return
		}

		// This function is used to bring logic to the flags when needed (e.g. live-stats)
		handleFlagsEdgeCases()

		// Unmarshal the config into the Config struct
		err = viper.Unmarshal(config)
	})
	return err
}

// setDefaults registers every key so that environment variables and the
// config file are honored even without a bound flag.
func setDefaults() {
	viper.SetDefault("job", Default.Job)
	viper.SetDefault("start", Default.Start)
	viper.SetDefault("end", Default.End)
	viper.SetDefault("target", Default.Target)
	viper.SetDefault("phases", Default.Phases)
	viper.SetDefault("skip-existing", Default.SkipExisting)
	viper.SetDefault("resume", Default.Resume)
	viper.SetDefault("workers", Default.WorkersCount)
	viper.SetDefault("checkpoint-every", Default.CheckpointEvery)
	viper.SetDefault("shutdown-grace", Default.ShutdownGrace)
	viper.SetDefault("storage-retries", Default.StorageRetries)
	viper.SetDefault("storage-retry-delay", Default.StorageRetryDelay)

	viper.SetDefault("base-url", Default.BaseURL)
	viper.SetDefault("user-agent", Default.UserAgents)
	viper.SetDefault("http-timeout", Default.HTTPTimeout)
	viper.SetDefault("max-retry", Default.MaxRetry)
	viper.SetDefault("retry-base-delay", Default.RetryBaseDelay)
	viper.SetDefault("retry-max-delay", Default.RetryMaxDelay)
	viper.SetDefault("retry-jitter", Default.RetryJitter)

	viper.SetDefault("min-delay", Default.MinDelay)
	viper.SetDefault("max-delay", Default.MaxDelay)
	viper.SetDefault("base-delay", Default.BaseDelay)
	viper.SetDefault("backoff-factor", Default.BackoffFactor)
	viper.SetDefault("recovery-factor", Default.RecoveryFactor)
	viper.SetDefault("burst-threshold", Default.BurstThreshold)
	viper.SetDefault("cooldown-threshold", Default.CooldownThreshold)
	viper.SetDefault("cooldown-min", Default.CooldownMin)
	viper.SetDefault("cooldown-max", Default.CooldownMax)
	viper.SetDefault("max-penalty", Default.MaxPenalty)
	viper.SetDefault("min-concurrency", Default.MinConcurrency)

	viper.SetDefault("sink", Default.SinkBackend)
	viper.SetDefault("sink-path", Default.SinkPath)
	viper.SetDefault("sink-dsn", Default.SinkDSN)
	viper.SetDefault("sink-max-conns", Default.SinkMaxConns)
	viper.SetDefault("sink-simple-protocol", Default.SinkSimpleProtocol)
	viper.SetDefault("checkpoint-backend", Default.CheckpointBackend)
	viper.SetDefault("checkpoint-path", Default.CheckpointPath)

	viper.SetDefault("jikan-recommendation-pages", Default.JikanRecommendationPages)
	viper.SetDefault("jikan-review-pages", Default.JikanReviewPages)
	viper.SetDefault("mangadex-languages", Default.MangaDexLanguages)
	viper.SetDefault("mangadex-max-chapters", Default.MangaDexMaxChapters)
	viper.SetDefault("youtube-min-views", Default.YouTubeMinViews)
	viper.SetDefault("youtube-languages", Default.YouTubeLanguages)

	viper.SetDefault("no-stdout-log", Default.NoStdoutLogging)
	viper.SetDefault("no-stderr-log", Default.NoStderrLogging)
	viper.SetDefault("no-log-file", Default.NoFileLogging)
	viper.SetDefault("log-level", Default.StdoutLogLevel)
	viper.SetDefault("log-file-level", Default.LogFileLevel)
	viper.SetDefault("log-file-prefix", Default.LogFilePrefix)
	viper.SetDefault("log-file-rotation", Default.LogFileRotation)
	viper.SetDefault("log-file-output-dir", Default.LogFileOutputDir)
	viper.SetDefault("json", Default.JSON)
	viper.SetDefault("live-stats", Default.LiveStats)

	viper.SetDefault("api", Default.API)
	viper.SetDefault("api-port", Default.APIPort)
	viper.SetDefault("prometheus", Default.Prometheus)
	viper.SetDefault("prometheus-prefix", Default.PrometheusPrefix)
}

// BindFlags binds the flags to the viper configuration
// This is needed because viper doesn't support same flag name accross multiple commands
// Details here: https://github.com/spf13/viper/issues/375#issuecomment-794668149
func BindFlags(flagSet *pflag.FlagSet) {
	flagSet.VisitAll(func(flag *pflag.Flag) {
		viper.BindPFlag(flag.Name, flag)
	})
}

// Get returns the config struct
func Get() *Config {
	return config
}

// GenerateCrawlConfig fills the derived fields of a crawl job and validates
// the result.
func GenerateCrawlConfig() error {
	// If the job name isn't specified, we generate a random name
	if config.Job == "" {
		config.Job = "harvester-" + time.Now().UTC().Format("20060102")
	}
	config.JobPath = path.Join("jobs", config.Job)
	config.RunID = uuid.NewString()

	if config.SinkPath == "" {
		switch config.SinkBackend {
		case "sqlite":
			config.SinkPath = path.Join(config.JobPath, "records.db")
		case "leveldb":
			config.SinkPath = path.Join(config.JobPath, "records")
		}
	}
	if config.CheckpointPath == "" {
		switch config.CheckpointBackend {
		case "file", "":
			config.CheckpointPath = path.Join(config.JobPath, "checkpoint.json")
		case "sqlite":
			config.CheckpointPath = path.Join(config.JobPath, "checkpoint.db")
		}
	}
	if config.LogFileOutputDir == "" {
		config.LogFileOutputDir = path.Join(config.JobPath, "logs")
	}

	return config.Validate()
}

// Validate checks the named settings and their combinations.
func (c *Config) Validate() error {
	switch {
	case c.Start < 0 || c.End < 0:
		return fmt.Errorf("%w: --start and --end must not be negative", ErrInvalidConfig)
	case c.End != 0 && c.End < c.Start:
		return fmt.Errorf("%w: --end %d is before --start %d", ErrInvalidConfig, c.End, c.Start)
	case c.Target < 0:
		return fmt.Errorf("%w: --target must not be negative", ErrInvalidConfig)
	case c.MaxRetry < 0:
		return fmt.Errorf("%w: --max-retry must not be negative", ErrInvalidConfig)
	case c.HTTPTimeout <= 0:
		return fmt.Errorf("%w: --http-timeout must be positive", ErrInvalidConfig)
	case c.RetryJitter < 0 || c.RetryJitter > 1:
		return fmt.Errorf("%w: --retry-jitter must be in [0, 1]", ErrInvalidConfig)
	case c.YouTubeMinViews < 0:
		return fmt.Errorf("%w: --youtube-min-views must not be negative", ErrInvalidConfig)
	case c.SinkBackend == "postgres" && c.SinkDSN == "":
		return fmt.Errorf("%w: the postgres sink needs --sink-dsn", ErrInvalidConfig)
	}

	if _, err := time.ParseDuration(c.LogFileRotation); c.LogFileRotation != "" && err != nil {
		return fmt.Errorf("%w: --log-file-rotation: %w", ErrInvalidConfig, err)
	}

	if err := c.RateControllerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.SchedulerConfig("validate").Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// RateControllerConfig returns the settings of the rate controller. The
// worker count is its maximum concurrency window.
func (c *Config) RateControllerConfig() ratecontroller.Config {
	return ratecontroller.Config{
		MinDelay:          c.MinDelay,
		MaxDelay:          c.MaxDelay,
		BaseDelay:         c.BaseDelay,
		BackoffFactor:     c.BackoffFactor,
		RecoveryFactor:    c.RecoveryFactor,
		BurstThreshold:    c.BurstThreshold,
		CooldownThreshold: c.CooldownThreshold,
		CooldownMin:       c.CooldownMin,
		CooldownMax:       c.CooldownMax,
		MaxPenalty:        c.MaxPenalty,
		MinConcurrency:    c.MinConcurrency,
		MaxConcurrency:    c.WorkersCount,
	}
}

// RetryPolicy returns the retry policy of every HTTP request.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.MaxRetry,
		BaseDelay:  c.RetryBaseDelay,
		MaxDelay:   c.RetryMaxDelay,
		Jitter:     c.RetryJitter,
	}
}

// SchedulerConfig returns the settings of one stage.
func (c *Config) SchedulerConfig(stage string) scheduler.Config {
	return scheduler.Config{
		Stage:             stage,
		Concurrency:       c.WorkersCount,
		Target:            c.Target,
		CheckpointEvery:   c.CheckpointEvery,
		Resume:            c.Resume,
		ShutdownGrace:     c.ShutdownGrace,
		StorageRetries:    c.StorageRetries,
		StorageRetryDelay: c.StorageRetryDelay,
		RunID:             c.RunID,
	}
}

// ClientConfig returns the settings of the shared HTTP client.
func (c *Config) ClientConfig() fetcher.ClientConfig {
	return fetcher.ClientConfig{
		Timeout:      c.HTTPTimeout,
		UserAgents:   c.UserAgents,
		MaxIdleConns: c.WorkersCount * 2,
	}
}

// SinkOptions returns the settings of the document store.
func (c *Config) SinkOptions() sink.Options {
	return sink.Options{
		Backend:        c.SinkBackend,
		Path:           c.SinkPath,
		DSN:            c.SinkDSN,
		MaxConns:       c.SinkMaxConns,
		SimpleProtocol: c.SinkSimpleProtocol,
	}
}

// LogConfig returns the settings of the logger.
func (c *Config) LogConfig() *log.Config {
	cfg := &log.Config{
		StdoutEnabled: !c.NoStdoutLogging,
		StdoutLevel:   log.ParseLevel(c.StdoutLogLevel),
		StderrEnabled: !c.NoStderrLogging,
		StderrLevel:   log.ParseLevel("error"),
		JSON:          c.JSON,
	}

	if !c.NoFileLogging {
		rotation, _ := time.ParseDuration(c.LogFileRotation)
		cfg.File = &log.FileConfig{
			Dir:          c.LogFileOutputDir,
			Prefix:       c.LogFilePrefix,
			Level:        log.ParseLevel(c.LogFileLevel),
			RotatePeriod: rotation,
		}
	}

	return cfg
}

// StatsConfig returns the settings of the metrics.
func (c *Config) StatsConfig() *stats.Config {
	return &stats.Config{
		Prometheus: c.Prometheus,
		Prefix:     c.PrometheusPrefix,
		Job:        c.Job,
	}
}

func handleFlagsEdgeCases() {
	if viper.GetBool("live-stats") {
		// If live-stats is true, set no-stdout-log to true
		viper.Set("no-stdout-log", true)
		viper.Set("no-stderr-log", true)
	}

	if viper.GetBool("prometheus") {
		// If prometheus is true, set api to true
		viper.Set("api", true)
	}
}
