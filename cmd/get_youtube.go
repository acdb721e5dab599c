package cmd

import (
	"context"
	"fmt"

	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/mangadex"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/youtube"
	"github.com/mangaraw/harvester/internal/pkg/scheduler"
	"github.com/mangaraw/harvester/internal/pkg/source"
	"github.com/mangaraw/harvester/pkg/models"
	"github.com/spf13/cobra"
)

var getYouTubeCmd = &cobra.Command{
	Use:   "youtube",
	Short: "Search YouTube for the titles of the stored MangaDex manga",
	Long: `Search YouTube for the titles of the MangaDex manga stored by the same
job, with status ok or partial_error. Every title in --youtube-languages is
searched and the videos with at least --youtube-min-views views are kept.
A captcha page counts as a throttling response and cools the crawl down.`,
	Args: cobra.NoArgs,
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if cfg == nil {
			return fmt.Errorf("viper config is nil")
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return runJob(youtube.Source, func(ctx context.Context, c *crawl) ([]scheduler.Summary, error) {
			p, err := youTubePipeline(c)
			if err != nil {
				return nil, err
			}
			return p.Run(ctx)
		})
	},
}

func getYouTubeCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("youtube-min-views", config.Default.YouTubeMinViews, "Smallest view count of a kept video.")
	cmd.Flags().StringSlice("youtube-languages", config.Default.YouTubeLanguages, "Languages of the searched titles and of the kept videos.")
	cmd.Flags().Bool("skip-existing", config.Default.SkipExisting, "Skip the manga already searched with status ok.")
}

// youTubePipeline walks the stored MangaDex manga in a single stage.
func youTubePipeline(c *crawl) (*scheduler.Pipeline, error) {
	lister, err := c.lister()
	if err != nil {
		return nil, err
	}

	opts := []source.Option{source.WithStatuses(models.StatusOK, models.StatusPartialError)}
	if c.cfg.SkipExisting {
		opts = append(opts, source.WithSkip(c.skipStored(youtube.Source)))
	}

	f, err := newFetcher(youtube.Source, c.client, c.sink, c.cfg)
	if err != nil {
		return nil, err
	}

	return c.pipeline(youtube.Source, scheduler.Phase{
		Name:    youtube.Source,
		Source:  source.NewStore(youtube.Source, lister, mangadex.Source, opts...),
		Fetcher: f,
	}), nil
}
