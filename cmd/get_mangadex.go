package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/mangadex"
	"github.com/mangaraw/harvester/internal/pkg/scheduler"
	"github.com/mangaraw/harvester/internal/pkg/source"
	"github.com/mangaraw/harvester/pkg/models"
	"github.com/spf13/cobra"
)

var getMangaDexCmd = &cobra.Command{
	Use:   "mangadex [seed-file]",
	Short: "Crawl MangaDex in phases: manga, statistics, chapters",
	Long: `Crawl MangaDex in phases. The manga phase fetches the titles listed in
seed-file, one UUID per line. It is left out without a seed file. The
statistics and chapters phases walk the manga records already stored.`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if cfg == nil {
			return fmt.Errorf("viper config is nil")
		}
		return nil
	},
	RunE: func(_ *cobra.Command, args []string) error {
		var seeds []models.WorkItem
		if len(args) == 1 {
			var err error
			if seeds, err = readSeeds(args[0]); err != nil {
				return err
			}
		}

		return runJob(mangadex.Source, func(ctx context.Context, c *crawl) ([]scheduler.Summary, error) {
			p, err := mangaDexPipeline(c, seeds)
			if err != nil {
				return nil, err
			}
			return p.Run(ctx, c.cfg.Phases...)
		})
	},
}

func getMangaDexCmdFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("phases", config.Default.Phases, "Phases to run, in order: manga, statistics, chapters. Defaults to all of them.")
	cmd.Flags().StringSlice("mangadex-languages", config.Default.MangaDexLanguages, "Translated languages of the chapter feed. Defaults to every language.")
	cmd.Flags().Bool("skip-existing", config.Default.SkipExisting, "Skip the seeds already stored with status ok.")
	cmd.Flags().Int("mangadex-max-chapters", config.Default.MangaDexMaxChapters, "Maximum number of chapters per manga. 0 fetches the whole feed.")
}

// mangaDexPipeline builds the phases of a MangaDex crawl. Without seeds the
// manga phase is left out.
func mangaDexPipeline(c *crawl, seeds []models.WorkItem) (*scheduler.Pipeline, error) {
	lister, err := c.lister()
	if err != nil {
		return nil, err
	}

	stored := []source.Option{source.WithStatuses(models.StatusOK, models.StatusPartialError)}

	var phases []scheduler.Phase
	if len(seeds) > 0 {
		var opts []source.Option
		if c.cfg.SkipExisting {
			opts = append(opts, source.WithSkip(c.skipStored(mangadex.Source)))
		}
		phases = append(phases, scheduler.Phase{
			Name:    mangadex.PhaseManga,
			Source:  source.NewSlice(mangadex.Source, seeds, opts...),
			Fetcher: mangadex.NewManga(c.client, c.cfg.BaseURL),
		})
	}

	phases = append(phases,
		scheduler.Phase{
			Name:    mangadex.PhaseStatistics,
			Source:  source.NewStore(mangadex.StatisticsSource, lister, mangadex.Source, stored...),
			Fetcher: mangadex.NewStatistics(c.client, c.cfg.BaseURL),
		},
		scheduler.Phase{
			Name:    mangadex.PhaseChapters,
			Source:  source.NewStore(mangadex.ChaptersSource, lister, mangadex.Source, stored...),
			Fetcher: mangadex.NewChapters(c.client, c.cfg.BaseURL, c.cfg.MangaDexLanguages, c.cfg.MangaDexMaxChapters),
		},
	)

	return c.pipeline(mangadex.Source, phases...), nil
}

// readSeeds reads one key per line. Blank lines and # comments are ignored.
func readSeeds(path string) ([]models.WorkItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open seed file: %w", err)
	}
	defer file.Close()

	var seeds []models.WorkItem
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, models.StringItem(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read seed file: %w", err)
	}

	return seeds, nil
}
