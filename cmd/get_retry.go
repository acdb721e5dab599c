package cmd

import (
	"context"
	"fmt"

	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/anilist"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/jikan"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/mangadex"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/mangaupdates"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/youtube"
	"github.com/mangaraw/harvester/internal/pkg/scheduler"
	"github.com/mangaraw/harvester/internal/pkg/source"
	"github.com/mangaraw/harvester/pkg/models"
	"github.com/spf13/cobra"
)

// retryPhase names the stage of a retry sweep: "<source>_retry".
const retryPhase = "retry"

var getRetryFailedCmd = &cobra.Command{
	Use:       "retry-failed <source>",
	Short:     "Crawl again the records of a source stored with status partial_error",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{jikan.Source, mangaupdates.Source, anilist.Source, mangadex.Source, mangadex.StatisticsSource, mangadex.ChaptersSource, youtube.Source},
	PreRunE: func(_ *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("viper config is nil")
		}
		if _, err := newFetcher(args[0], nil, nil, cfg); err != nil {
			return err
		}
		return nil
	},
	RunE: func(_ *cobra.Command, args []string) error {
		src := args[0]
		return runJob(src, func(ctx context.Context, c *crawl) ([]scheduler.Summary, error) {
			return retryFailed(ctx, c, src)
		})
	},
}

// retryFailed sweeps the partial_error records of src. A completed sweep is
// forgotten so that the next call starts over.
func retryFailed(ctx context.Context, c *crawl, src string) ([]scheduler.Summary, error) {
	f, err := newFetcher(src, c.client, c.sink, c.cfg)
	if err != nil {
		return nil, err
	}

	lister, err := c.lister()
	if err != nil {
		return nil, err
	}

	stage := scheduler.StageName(src, retryPhase)
	rec, err := c.store.Load(ctx, stage)
	if err != nil {
		return nil, err
	}
	if rec.Completed {
		logger.Info("previous retry sweep completed, starting over", "stage", stage)
		if err := c.store.Reset(ctx, stage); err != nil {
			return nil, err
		}
	}

	p := c.pipeline(src, scheduler.Phase{
		Name:    retryPhase,
		Source:  source.NewStore(src, lister, src, source.WithStatuses(models.StatusPartialError)),
		Fetcher: f,
	})
	// the target of a retry sweep is the whole failed set
	p.Config.Target = 0

	return p.Run(ctx)
}

// newFetcher returns the fetcher of a source name. A nil client only checks the
// name. records is read by the sources searching for stored titles.
func newFetcher(src string, client *fetcher.Client, records youtube.Records, cfg *config.Config) (fetcher.Fetcher, error) {
	switch src {
	case jikan.Source:
		return jikan.New(client, jikan.Config{
			BaseURL:             cfg.BaseURL,
			RecommendationPages: cfg.JikanRecommendationPages,
			ReviewPages:         cfg.JikanReviewPages,
		}), nil
	case mangaupdates.Source:
		return mangaupdates.New(client, cfg.BaseURL), nil
	case anilist.Source:
		return anilist.New(client, cfg.BaseURL), nil
	case mangadex.Source:
		return mangadex.NewManga(client, cfg.BaseURL), nil
	case mangadex.StatisticsSource:
		return mangadex.NewStatistics(client, cfg.BaseURL), nil
	case mangadex.ChaptersSource:
		return mangadex.NewChapters(client, cfg.BaseURL, cfg.MangaDexLanguages, cfg.MangaDexMaxChapters), nil
	case youtube.Source:
		return youtube.New(client, records, youtube.Config{
			BaseURL:   cfg.BaseURL,
			MinViews:  cfg.YouTubeMinViews,
			Languages: cfg.YouTubeLanguages,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalidConfig, src)
	}
}
