package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/mangaraw/harvester/internal/pkg/api"
	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/config"
	"github.com/mangaraw/harvester/internal/pkg/controler"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/internal/pkg/ratecontroller"
	"github.com/mangaraw/harvester/internal/pkg/scheduler"
	"github.com/mangaraw/harvester/internal/pkg/sink"
	"github.com/mangaraw/harvester/internal/pkg/source"
	"github.com/mangaraw/harvester/internal/pkg/stats"
	"github.com/mangaraw/harvester/internal/pkg/ui"
	"github.com/mangaraw/harvester/pkg/models"
)

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "cmd",
})

// crawl holds what the stages of one job share: a single rate controller
// and HTTP client per service, the document store and the checkpoint store.
type crawl struct {
	cfg    *config.Config
	rate   *ratecontroller.Controller
	client *fetcher.Client
	sink   sink.Sink
	store  checkpoint.Store
}

// newCrawl opens the stores and builds the client of service.
func newCrawl(ctx context.Context, cfg *config.Config, service string) (*crawl, error) {
	rate, err := ratecontroller.New(service, cfg.RateControllerConfig())
	if err != nil {
		return nil, err
	}

	snk, err := sink.Open(ctx, cfg.SinkOptions())
	if err != nil {
		return nil, fmt.Errorf("unable to open the %s sink: %w", cfg.SinkBackend, err)
	}

	store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.CheckpointPath)
	if err != nil {
		snk.Close()
		return nil, fmt.Errorf("unable to open the checkpoint: %w", err)
	}

	return &crawl{
		cfg:    cfg,
		rate:   rate,
		client: fetcher.NewClient(cfg.ClientConfig(), cfg.RetryPolicy(), rate),
		sink:   snk,
		store:  store,
	}, nil
}

func (c *crawl) Close() {
	c.client.Close()
	if err := c.store.Close(); err != nil {
		logger.Error("unable to close the checkpoint", "err", err.Error())
	}
	if err := c.sink.Close(); err != nil {
		logger.Error("unable to close the sink", "err", err.Error())
	}
}

// pipeline returns a pipeline of the job sharing the crawl stores and window.
func (c *crawl) pipeline(name string, phases ...scheduler.Phase) *scheduler.Pipeline {
	return &scheduler.Pipeline{
		Name:   name,
		Phases: phases,
		Config: c.cfg.SchedulerConfig(name),
		Sink:   c.sink,
		Store:  c.store,
		Window: c.rate,
	}
}

// lister returns the sink as a key lister, for store-backed sources.
func (c *crawl) lister() (source.KeyLister, error) {
	lister, ok := c.sink.(source.KeyLister)
	if !ok {
		return nil, fmt.Errorf("the %s sink cannot list its records", c.cfg.SinkBackend)
	}
	return lister, nil
}

// skipStored skips the items of src already stored with status ok.
func (c *crawl) skipStored(src string) source.SkipFunc {
	return func(ctx context.Context, item models.WorkItem) (bool, error) {
		return c.sink.Exists(ctx, models.NaturalKey(src, item))
	}
}

// runJob runs job with the ambient stack of a crawl started: logging, stats,
// signal handling, the optional API and live stats.
func runJob(service string, job func(ctx context.Context, c *crawl) ([]scheduler.Summary, error)) error {
	if err := config.GenerateCrawlConfig(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.JobPath, 0o755); err != nil {
		return fmt.Errorf("unable to create the job directory: %w", err)
	}

	if err := log.Start(cfg.LogConfig()); err != nil {
		return fmt.Errorf("unable to start the logger: %w", err)
	}
	defer log.Stop()

	if err := stats.Init(cfg.StatsConfig()); err != nil && !errors.Is(err, stats.ErrStatsAlreadyInitialized) {
		return err
	}

	ctx := controler.Start(context.Background())
	defer controler.Stop()

	c, err := newCrawl(ctx, cfg, service)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.API {
		if err := api.Start(c.store); err != nil {
			return err
		}
		defer func() {
			if err := api.Stop(5 * time.Second); err != nil {
				logger.Error("unable to stop the API", "err", err.Error())
			}
		}()
	}

	if cfg.LiveStats {
		printer := ui.New(cfg.Job)
		printer.Start()
		defer printer.Stop()
	}

	logger.Info("crawl starting", "job", cfg.Job, "run_id", cfg.RunID, "service", service)

	summaries, err := job(ctx, c)
	printSummaries(summaries)

	return err
}

func printSummaries(summaries []scheduler.Summary) {
	if len(summaries) == 0 {
		return
	}

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("STAGE", "STORED", "OK", "PARTIAL", "NO DATA", "CANCELED", "LAST KEY", "STATE", "DURATION")

	for _, s := range summaries {
		last := "-"
		if s.LastKey != nil {
			last = s.LastKey.String()
		}

		table.AddRow(
			s.Stage,
			humanize.Comma(s.Stored()),
			humanize.Comma(s.Statuses[models.StatusOK]),
			humanize.Comma(s.Statuses[models.StatusPartialError]),
			humanize.Comma(s.Statuses[models.StatusNoData]),
			humanize.Comma(s.Canceled),
			last,
			state(s),
			s.Duration.Round(time.Second).String(),
		)

		logger.Info("stage finished",
			"stage", s.Stage,
			"stored", s.Stored(),
			"collected", s.Collected,
			"canceled", s.Canceled,
			"last_key", last,
			"state", state(s),
		)
	}

	fmt.Println(table)
}

func state(s scheduler.Summary) string {
	switch {
	case s.TargetReached:
		return "target reached"
	case s.Completed:
		return "completed"
	case s.Interrupted:
		return "interrupted"
	default:
		return "stopped"
	}
}
