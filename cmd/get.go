package cmd

import (
	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/spf13/cobra"
)

func getCMDs() *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Crawl a source",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				cmd.Help()
			}
		},
	}

	getCMDsFlags(getCmd)
	getRangeCmdFlags(getJikanCmd)
	getRangeCmdFlags(getMangaUpdatesCmd)
	getRangeCmdFlags(getAniListCmd)
	getJikanCmdFlags(getJikanCmd)
	getMangaDexCmdFlags(getMangaDexCmd)
	getYouTubeCmdFlags(getYouTubeCmd)

	getCmd.AddCommand(getJikanCmd)
	getCmd.AddCommand(getMangaUpdatesCmd)
	getCmd.AddCommand(getAniListCmd)
	getCmd.AddCommand(getMangaDexCmd)
	getCmd.AddCommand(getYouTubeCmd)
	getCmd.AddCommand(getRetryFailedCmd)

	return getCmd
}

func getCMDsFlags(getCmd *cobra.Command) {
	d := config.Default

	getCmd.PersistentFlags().String("job", "", "Job name to use, will determine the path of the records database, the checkpoint and the logs.")
	getCmd.PersistentFlags().Int64("target", d.Target, "Stop once this many records of the source are collected (ok or partial_error). 0 means no target.")
	getCmd.PersistentFlags().Bool("resume", d.Resume, "Resume from the stage checkpoint. --resume=false starts over.")
	getCmd.PersistentFlags().IntP("workers", "w", d.WorkersCount, "Maximum number of concurrent fetches.")
	getCmd.PersistentFlags().Int("checkpoint-every", d.CheckpointEvery, "Flush the checkpoint every N stored items.")
	getCmd.PersistentFlags().Duration("shutdown-grace", d.ShutdownGrace, "Time left to in-flight fetches when the crawl is interrupted.")
	getCmd.PersistentFlags().Int("storage-retries", d.StorageRetries, "Number of retries of a failed write before the run aborts.")
	getCmd.PersistentFlags().Duration("storage-retry-delay", d.StorageRetryDelay, "Delay between storage retries, multiplied by the attempt.")

	// HTTP flags
	getCmd.PersistentFlags().String("base-url", d.BaseURL, "Base URL of the service, to target a mirror or a local instance.")
	getCmd.PersistentFlags().StringSlice("user-agent", d.UserAgents, "User agents to rotate through. Defaults to a pool of desktop browsers.")
	getCmd.PersistentFlags().Duration("http-timeout", d.HTTPTimeout, "Timeout of one HTTP request.")
	getCmd.PersistentFlags().Int("max-retry", d.MaxRetry, "Number of retries of a failed HTTP request.")
	getCmd.PersistentFlags().Duration("retry-base-delay", d.RetryBaseDelay, "First retry delay, doubled on every attempt.")
	getCmd.PersistentFlags().Duration("retry-max-delay", d.RetryMaxDelay, "Maximum retry delay.")
	getCmd.PersistentFlags().Float64("retry-jitter", d.RetryJitter, "Random fraction added to every retry delay, in [0, 1].")

	// Rate control flags
	getCmd.PersistentFlags().Duration("min-delay", d.MinDelay, "Smallest delay between two requests.")
	getCmd.PersistentFlags().Duration("max-delay", d.MaxDelay, "Largest delay between two requests outside of a cooldown.")
	getCmd.PersistentFlags().Duration("base-delay", d.BaseDelay, "Delay between two requests at start.")
	getCmd.PersistentFlags().Float64("backoff-factor", d.BackoffFactor, "Delay multiplier on a throttling response.")
	getCmd.PersistentFlags().Float64("recovery-factor", d.RecoveryFactor, "Delay multiplier after a streak of successes.")
	getCmd.PersistentFlags().Int("burst-threshold", d.BurstThreshold, "Consecutive successes before the delay decreases.")
	getCmd.PersistentFlags().Int("cooldown-threshold", d.CooldownThreshold, "Consecutive failures before a cooldown.")
	getCmd.PersistentFlags().Duration("cooldown-min", d.CooldownMin, "Shortest cooldown.")
	getCmd.PersistentFlags().Duration("cooldown-max", d.CooldownMax, "Longest cooldown.")
	getCmd.PersistentFlags().Duration("max-penalty", d.MaxPenalty, "Largest delay set by a Retry-After header.")
	getCmd.PersistentFlags().Int("min-concurrency", d.MinConcurrency, "Smallest concurrency window under throttling.")

	// Storage flags
	getCmd.PersistentFlags().String("sink", d.SinkBackend, "Document store: sqlite, postgres, leveldb or memory.")
	getCmd.PersistentFlags().String("sink-path", d.SinkPath, "Path of the sqlite database or leveldb directory. Defaults to the job directory.")
	getCmd.PersistentFlags().String("sink-dsn", d.SinkDSN, "Connection string of the postgres sink.")
	getCmd.PersistentFlags().Int("sink-max-conns", d.SinkMaxConns, "Maximum number of postgres connections.")
	getCmd.PersistentFlags().Bool("sink-simple-protocol", d.SinkSimpleProtocol, "Disable postgres prepared statements, for connection poolers.")
	getCmd.PersistentFlags().String("checkpoint-backend", d.CheckpointBackend, "Checkpoint store: file, sqlite or memory.")
	getCmd.PersistentFlags().String("checkpoint-path", d.CheckpointPath, "Path of the checkpoint. Defaults to the job directory.")

	// Logging flags
	getCmd.PersistentFlags().Bool("live-stats", d.LiveStats, "Enable live stats but disable logging. (implies --no-stdout-log)")
	getCmd.PersistentFlags().Bool("no-stdout-log", d.NoStdoutLogging, "Disable stdout logging.")
	getCmd.PersistentFlags().Bool("no-stderr-log", d.NoStderrLogging, "Disable stderr logging.")
	getCmd.PersistentFlags().Bool("no-log-file", d.NoFileLogging, "Disable logging to a file.")
	getCmd.PersistentFlags().String("log-file-level", d.LogFileLevel, "Log level for the log file (debug, info, warn, error).")
	getCmd.PersistentFlags().String("log-file-output-dir", d.LogFileOutputDir, "Directory to write log files to. Defaults to the job directory.")
	getCmd.PersistentFlags().String("log-file-prefix", d.LogFilePrefix, "Prefix of the log file names.")
	getCmd.PersistentFlags().String("log-file-rotation", d.LogFileRotation, "Rotation period of the log file, e.g. 1h or 24h.")
	getCmd.PersistentFlags().Bool("json", d.JSON, "Output logs in JSON.")

	// API and metrics flags
	getCmd.PersistentFlags().Bool("api", d.API, "Enable the status API.")
	getCmd.PersistentFlags().Int("api-port", d.APIPort, "Port to listen on for the API.")
	getCmd.PersistentFlags().Bool("prometheus", d.Prometheus, "Export metrics in Prometheus format. (implies --api)")
	getCmd.PersistentFlags().String("prometheus-prefix", d.PrometheusPrefix, "String used as a prefix for the exported Prometheus metrics.")
}

func getRangeCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("start", config.Default.Start, "First ID of the range.")
	cmd.Flags().Int64("end", config.Default.End, "Last ID of the range, inclusive. 0 means unbounded, which needs --target.")
	cmd.Flags().Bool("skip-existing", config.Default.SkipExisting, "Skip the IDs already stored with status ok.")
}

func getJikanCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Int("jikan-recommendation-pages", config.Default.JikanRecommendationPages, "Maximum number of recommendation pages per manga.")
	cmd.Flags().Int("jikan-review-pages", config.Default.JikanReviewPages, "Maximum number of review pages per manga.")
}
