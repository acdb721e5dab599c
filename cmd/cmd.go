// Package cmd holds the command line interface of harvester.
package cmd

import (
	"fmt"

	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Resumable crawler of manga metadata services",
	Long: `harvester crawls manga metadata services (MyAnimeList through Jikan,
MangaUpdates, AniList and MangaDex) at a pace the services tolerate.
Every run can be interrupted and resumed from its checkpoint.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Bind the flags of the command being run, viper doesn't support the
		// same flag name on several commands
		config.BindFlags(cmd.Flags())

		// Initialize config here, after cobra has parsed command line flags
		if err := config.InitConfig(); err != nil {
			return fmt.Errorf("error initializing config: %w", err)
		}

		cfg = config.Get()
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

// Run the root command
func Run() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().String("config-file", "", "Config file (default is $HOME/harvester-config.yaml or ./harvester-config.yaml).")
	rootCmd.PersistentFlags().String("log-level", config.Default.StdoutLogLevel, "Stdout log level (debug, info, warn, error).")

	rootCmd.AddCommand(getCMDs())
	rootCmd.AddCommand(checkpointCMDs())
	rootCmd.AddCommand(versionCmd)

	return rootCmd.Execute()
}
