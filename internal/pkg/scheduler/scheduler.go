// Package scheduler is the concurrency core of a crawl stage: it pulls items
// from a source, fetches them on a bounded pool of workers, stores every
// terminal outcome and advances the stage checkpoint as a watermark over
// stored work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/controler/pause"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/internal/pkg/sink"
	"github.com/mangaraw/harvester/internal/pkg/source"
	"github.com/mangaraw/harvester/internal/pkg/stats"
	"github.com/mangaraw/harvester/internal/pkg/utils"
	"github.com/mangaraw/harvester/pkg/models"
	"github.com/remeh/sizedwaitgroup"
)

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "scheduler",
})

// Config holds the settings of one stage run.
type Config struct {
	Stage string
	// Concurrency is the hard cap on in-flight fetches.
	Concurrency int
	// Target stops dispatching once that many records of the source are
	// stored with status ok or partial_error. 0 disables it.
	Target int64
	// CheckpointEvery is the number of watermark advances between two
	// checkpoint writes.
	CheckpointEvery int
	// Resume continues from the stored checkpoint instead of resetting it.
	Resume bool
	// ShutdownGrace is how long in-flight fetches may run after cancellation.
	ShutdownGrace     time.Duration
	StorageRetries    int
	StorageRetryDelay time.Duration
	RunID             string
}

// DefaultConfig returns the settings used when a field is left empty.
func DefaultConfig(stage string) Config {
	return Config{
		Stage:             stage,
		Concurrency:       4,
		CheckpointEvery:   10,
		Resume:            true,
		ShutdownGrace:     30 * time.Second,
		StorageRetries:    3,
		StorageRetryDelay: time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Stage == "":
		return fmt.Errorf("%w: stage is required", ErrInvalidConfig)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be >= 1", ErrInvalidConfig)
	case c.Target < 0:
		return fmt.Errorf("%w: target must not be negative", ErrInvalidConfig)
	case c.CheckpointEvery < 1:
		return fmt.Errorf("%w: checkpoint-every must be >= 1", ErrInvalidConfig)
	case c.ShutdownGrace < 0 || c.StorageRetries < 0 || c.StorageRetryDelay < 0:
		return fmt.Errorf("%w: grace, storage retries and retry delay must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Window provides the adaptive concurrency window, usually the rate controller.
type Window interface {
	Concurrency() int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWindow narrows the pool to the window reported by w.
func WithWindow(w Window) Option {
	return func(s *Scheduler) {
		s.window = w
	}
}

// Scheduler runs one stage. A Scheduler is meant for a single Run.
type Scheduler struct {
	cfg     Config
	source  source.Source
	fetcher fetcher.Fetcher
	sink    sink.Sink
	store   checkpoint.Store
	window  Window
	logger  *log.FieldedLogger

	flushMu sync.Mutex

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New returns a Scheduler for one stage.
func New(cfg Config, src source.Source, f fetcher.Fetcher, snk sink.Sink, store checkpoint.Store, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || f == nil || snk == nil || store == nil {
		return nil, fmt.Errorf("%w: source, fetcher, sink and checkpoint store are required", ErrInvalidConfig)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	s := &Scheduler{
		cfg:     cfg,
		source:  src,
		fetcher: f,
		sink:    snk,
		store:   store,
		logger: log.NewFieldedLogger(&log.Fields{
			"component": "scheduler",
			"stage":     cfg.Stage,
		}),
		nowFunc:   time.Now,
		sleepFunc: utils.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// run is the mutable state of one Run.
type run struct {
	marks      *watermark
	processed  int64 // checkpointed count carried over from previous runs
	advanced   atomic.Int64
	sinceFlush int

	collected  atomic.Int64
	dispatched atomic.Int64
	canceled   atomic.Int64

	mu       sync.Mutex
	statuses map[models.RecordStatus]int64
	err      error
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *run) failed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *run) count(status models.RecordStatus) {
	r.mu.Lock()
	r.statuses[status]++
	r.mu.Unlock()
	if status.Collected() {
		r.collected.Add(1)
	}
}

// due adds n watermark advances and reports whether a checkpoint write is due.
func (r *run) due(n, every int) bool {
	r.advanced.Add(int64(n))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinceFlush += n
	if r.sinceFlush < every {
		return false
	}
	r.sinceFlush = 0
	return true
}

// Run processes the stage until the source is exhausted, the target is
// reached or ctx is canceled. Cancellation is not an error: the returned
// Summary is marked Interrupted and the checkpoint holds every stored item.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	start := s.nowFunc()
	summary := Summary{
		Stage: s.cfg.Stage,
		RunID: s.cfg.RunID,
	}

	prev, err := s.prepare(ctx)
	if err != nil {
		return summary, err
	}
	if prev.Completed {
		summary.Completed = true
		summary.LastKey = prev.LastProcessedKey
		return summary, ErrStageCompleted
	}

	r := &run{
		marks:     newWatermark(prev.LastProcessedKey),
		processed: prev.Processed,
		statuses:  make(map[models.RecordStatus]int64),
	}

	if s.cfg.Target > 0 {
		r.collected.Store(s.countCollected(ctx))
		if r.collected.Load() >= s.cfg.Target {
			s.logger.Info("target already reached", "target", s.cfg.Target, "collected", r.collected.Load())
			err := s.flush(ctx, r, true)
			summary = s.summarize(summary, r, true, start)
			summary.TargetReached = true
			return summary, err
		}
	}

	s.logger.Info("stage started",
		"run_id", s.cfg.RunID,
		"source", s.source.Name(),
		"concurrency", s.cfg.Concurrency,
		"target", s.cfg.Target,
		"resume_after", prev.LastProcessedKey,
	)

	exhausted := s.dispatch(ctx, r)

	targetReached := s.cfg.Target > 0 && r.collected.Load() >= s.cfg.Target
	completed := (exhausted || targetReached) &&
		r.canceled.Load() == 0 &&
		r.marks.Ahead() == 0 &&
		r.failed() == nil

	flushErr := s.flush(ctx, r, completed)
	runErr := r.failed()
	if runErr == nil {
		runErr = flushErr
	} else if flushErr != nil {
		s.logger.Error("final checkpoint write failed", "err", flushErr)
	}

	summary = s.summarize(summary, r, completed, start)
	summary.Interrupted = ctx.Err() != nil && !completed
	summary.TargetReached = targetReached

	s.logger.Info("stage finished",
		"completed", summary.Completed,
		"interrupted", summary.Interrupted,
		"dispatched", summary.Dispatched,
		"last_key", summary.LastKey,
		"duration", summary.Duration.String(),
	)

	return summary, runErr
}

// prepare loads or resets the checkpoint and positions the source after it.
func (s *Scheduler) prepare(ctx context.Context) (checkpoint.Record, error) {
	if !s.cfg.Resume {
		err := s.withStorageRetry(ctx, "checkpoint reset", func(ctx context.Context) error {
			return s.store.Reset(ctx, s.cfg.Stage)
		})
		if err != nil {
			return checkpoint.Record{}, err
		}
	}

	var rec checkpoint.Record
	err := s.withStorageRetry(ctx, "checkpoint load", func(ctx context.Context) (err error) {
		rec, err = s.store.Load(ctx, s.cfg.Stage)
		return err
	})
	if err != nil {
		return checkpoint.Record{}, err
	}
	if rec.Completed {
		s.logger.Info("stage already completed, skipping", "last_key", rec.LastProcessedKey)
		return rec, nil
	}

	if rec.LastProcessedKey != nil {
		s.logger.Info("resuming from checkpoint", "last_key", rec.LastProcessedKey, "processed", rec.Processed)
		s.source.Seek(*rec.LastProcessedKey)
	}
	if stateful, ok := s.fetcher.(fetcher.Stateful); ok && (rec.BatchSize > 0 || len(rec.Aux) > 0) {
		stateful.RestoreState(rec.BatchSize, rec.Aux)
	}

	return rec, nil
}

// countCollected returns how many records of the source already count toward
// the target. Sinks that cannot count start from zero.
func (s *Scheduler) countCollected(ctx context.Context) int64 {
	counter, ok := s.sink.(sink.Counter)
	if !ok {
		s.logger.Warn("sink cannot count records, target counts this run only")
		return 0
	}

	n, err := counter.Count(ctx, s.fetcher.Source(), models.StatusOK, models.StatusPartialError)
	if err != nil {
		s.logger.Warn("unable to count stored records, target counts this run only", "err", err)
		return 0
	}
	return n
}

// dispatch feeds the pool until a termination condition is met and waits
// for every dispatched item. It reports whether the source was exhausted.
func (s *Scheduler) dispatch(ctx context.Context, r *run) (exhausted bool) {
	// In-flight fetches outlive ctx by the shutdown grace.
	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	stopGrace := context.AfterFunc(ctx, func() {
		s.logger.Info("stopping dispatch, waiting for in-flight fetches", "grace", s.cfg.ShutdownGrace.String())

		timer := time.NewTimer(s.cfg.ShutdownGrace)
		defer timer.Stop()

		select {
		case <-timer.C:
			s.logger.Warn("shutdown grace elapsed, canceling in-flight fetches")
			cancelWork()
		case <-work.Done():
		}
	})
	defer stopGrace()

	var window func() int
	if s.window != nil {
		window = s.window.Concurrency
	}
	gate := newGate(s.cfg.Concurrency, window)
	swg := sizedwaitgroup.New(s.cfg.Concurrency)

	var seq uint64
dispatch:
	for {
		if pause.Wait(ctx) != nil || !gate.Acquire(ctx) {
			break
		}
		// checked with a slot held so that finished items are counted
		if r.failed() != nil {
			gate.Release()
			break
		}
		if s.cfg.Target > 0 && r.collected.Load() >= s.cfg.Target {
			s.logger.Info("target reached", "target", s.cfg.Target)
			gate.Release()
			break
		}

		if err := swg.AddWithContext(ctx); err != nil {
			gate.Release()
			break
		}

		item, err := s.source.Next(ctx)
		if err != nil {
			swg.Done()
			gate.Release()

			switch {
			case errors.Is(err, source.ErrEndOfWork):
				exhausted = true
			case ctx.Err() != nil:
			default:
				r.fail(fmt.Errorf("%w: source %s: %w", ErrStorage, s.source.Name(), err))
			}
			break dispatch
		}

		r.dispatched.Add(1)
		go func(n uint64, item models.WorkItem) {
			defer swg.Done()
			defer gate.Release()
			s.process(work, r, n, item)
		}(seq, item)
		seq++
	}

	swg.Wait()

	if skipper, ok := s.source.(interface{ Skipped() int64 }); ok {
		stats.ItemsSkippedSet(skipper.Skipped())
	}

	return exhausted
}

// process fetches one item and stores its outcome.
func (s *Scheduler) process(ctx context.Context, r *run, seq uint64, item models.WorkItem) {
	stats.FetchersInFlightIncr()
	defer stats.FetchersInFlightDecr()

	start := s.nowFunc()
	outcome := s.fetcher.Fetch(ctx, item)
	stats.FetchTimeAdd(s.nowFunc().Sub(start))

	if outcome.Canceled() || (ctx.Err() != nil && outcome.Kind != models.Success) {
		// never stored, so the watermark stays before it and a resumed run fetches it again
		r.canceled.Add(1)
		stats.ItemsCanceledIncr()
		s.logger.Debug("fetch canceled", "key", item.Key)
		return
	}

	rec := models.NewRecord(s.fetcher.Source(), item, outcome, s.nowFunc())
	err := s.withStorageRetry(ctx, "sink upsert", func(ctx context.Context) error {
		return s.sink.Upsert(ctx, rec.NaturalKey, rec)
	})
	if err != nil {
		s.logger.Error("unable to store record, stopping", "key", rec.NaturalKey, "err", err)
		r.fail(err)
		return
	}

	r.count(rec.Status)
	stats.ItemsProcessedIncr(string(rec.Status))

	if rec.Status != models.StatusOK {
		s.logger.Info("item stored with failures",
			"key", rec.NaturalKey,
			"status", rec.Status,
			"outcome", outcome.Kind.String(),
			"error_kind", outcome.ErrorKind,
			"missing_parts", outcome.MissingParts,
		)
	} else {
		s.logger.Debug("item stored", "key", rec.NaturalKey, "attempts", outcome.Attempts)
	}

	advanced := r.marks.complete(seq, item)
	if advanced > 0 && r.due(advanced, s.cfg.CheckpointEvery) {
		if err := s.flush(ctx, r, false); err != nil {
			s.logger.Error("unable to write checkpoint, stopping", "err", err)
			r.fail(err)
		}
	}
}

// flush writes the checkpoint at the current watermark.
func (s *Scheduler) flush(ctx context.Context, r *run, completed bool) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	rec := checkpoint.Record{
		Stage:     s.cfg.Stage,
		Completed: completed,
		Processed: r.processed + r.advanced.Load(),
		RunID:     s.cfg.RunID,
		UpdatedAt: s.nowFunc().UTC(),
	}
	if last, ok := r.marks.Last(); ok {
		rec.LastProcessedKey = &last
	}
	if stateful, ok := s.fetcher.(fetcher.Stateful); ok {
		rec.BatchSize, rec.Aux = stateful.SaveState()
	}

	err := s.withStorageRetry(ctx, "checkpoint save", func(ctx context.Context) error {
		return s.store.Save(ctx, rec)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("checkpoint written", "last_key", rec.LastProcessedKey, "completed", completed)
	return nil
}

// withStorageRetry runs op, retrying it StorageRetries times. Storage writes
// are not bound to the run context: a completed fetch is always persisted.
func (s *Scheduler) withStorageRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt <= s.cfg.StorageRetries; attempt++ {
		if attempt > 0 {
			stats.StorageErrorsIncr()
			s.logger.Warn("storage operation failed, retrying", "op", op, "attempt", attempt, "err", err)

			if err := s.sleepFunc(ctx, s.cfg.StorageRetryDelay*time.Duration(attempt)); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, checkpoint.ErrRegression) || errors.Is(err, checkpoint.ErrNoStage) {
			break
		}
	}

	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func (s *Scheduler) summarize(summary Summary, r *run, completed bool, start time.Time) Summary {
	r.mu.Lock()
	summary.Statuses = make(map[models.RecordStatus]int64, len(r.statuses))
	for status, n := range r.statuses {
		summary.Statuses[status] = n
	}
	r.mu.Unlock()

	summary.Dispatched = r.dispatched.Load()
	summary.Canceled = r.canceled.Load()
	summary.Collected = r.collected.Load()
	summary.Completed = completed
	summary.Duration = s.nowFunc().Sub(start)
	if last, ok := r.marks.Last(); ok {
		summary.LastKey = &last
	}

	return summary
}
