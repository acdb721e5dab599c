package cmd

import (
	"context"
	"fmt"

	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/anilist"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/jikan"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/mangaupdates"
	"github.com/mangaraw/harvester/internal/pkg/scheduler"
	"github.com/mangaraw/harvester/internal/pkg/source"
	"github.com/spf13/cobra"
)

var (
	getJikanCmd        = newRangeCmd("jikan", "Crawl MyAnimeList manga through the Jikan API", jikan.Source)
	getMangaUpdatesCmd = newRangeCmd("mangaupdates", "Crawl MangaUpdates series pages", mangaupdates.Source)
	getAniListCmd      = newRangeCmd("anilist", "Crawl AniList manga through its GraphQL API", anilist.Source)
)

// newRangeCmd returns the command crawling a dense ID range of one service.
func newRangeCmd(use, short, src string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if cfg == nil {
				return fmt.Errorf("viper config is nil")
			}

			// an open range only stops on its target
			if cfg.End == 0 && cfg.Target == 0 {
				return fmt.Errorf("%w: an unbounded range (no --end) needs a --target", config.ErrInvalidConfig)
			}

			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return runJob(src, func(ctx context.Context, c *crawl) ([]scheduler.Summary, error) {
				f, err := newFetcher(src, c.client, c.sink, c.cfg)
				if err != nil {
					return nil, err
				}
				return crawlRange(ctx, c, src, f)
			})
		},
	}
}

// crawlRange crawls [start, end] of src as a single stage named after src.
func crawlRange(ctx context.Context, c *crawl, src string, f fetcher.Fetcher) ([]scheduler.Summary, error) {
	var opts []source.Option
	if c.cfg.SkipExisting {
		opts = append(opts, source.WithSkip(c.skipStored(src)))
	}

	rng, err := source.NewRange(src, c.cfg.Start, c.cfg.End, opts...)
	if err != nil {
		return nil, err
	}

	return c.pipeline(src, scheduler.Phase{Name: src, Source: rng, Fetcher: f}).Run(ctx)
}
