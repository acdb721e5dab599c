package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/sink"
	"github.com/mangaraw/harvester/internal/pkg/source"
)

// Phase is one stage of a multi-phase crawl. Its checkpoint stage is
// "<pipeline>_<phase>".
type Phase struct {
	Name    string
	Source  source.Source
	Fetcher fetcher.Fetcher
	// Target overrides the pipeline target for this phase when set.
	Target int64
}

// Pipeline runs ordered phases that share one sink, one checkpoint store and
// one concurrency window.
type Pipeline struct {
	Name   string
	Phases []Phase
	// Config is the base configuration of every phase; Stage is derived from
	// the pipeline and phase names.
	Config Config
	Sink   sink.Sink
	Store  checkpoint.Store
	Window Window
}

// StageName returns the checkpoint stage of a phase.
func StageName(pipeline, phase string) string {
	if phase == "" || phase == pipeline {
		return pipeline
	}
	return pipeline + "_" + phase
}

// Run runs the selected phases in order, all of them when selected is empty.
// Completed phases are skipped. It stops at the first error or interruption.
func (p *Pipeline) Run(ctx context.Context, selected ...string) ([]Summary, error) {
	for _, name := range selected {
		if !slices.ContainsFunc(p.Phases, func(phase Phase) bool { return phase.Name == name }) {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnknownPhase, name, p.Name)
		}
	}

	var summaries []Summary
	for _, phase := range p.Phases {
		if len(selected) > 0 && !slices.Contains(selected, phase.Name) {
			continue
		}

		cfg := p.Config
		cfg.Stage = StageName(p.Name, phase.Name)
		if phase.Target > 0 {
			cfg.Target = phase.Target
		}

		var opts []Option
		if p.Window != nil {
			opts = append(opts, WithWindow(p.Window))
		}

		sched, err := New(cfg, phase.Source, phase.Fetcher, p.Sink, p.Store, opts...)
		if err != nil {
			return summaries, err
		}

		logger.Info("phase starting", "pipeline", p.Name, "phase", phase.Name)

		summary, err := sched.Run(ctx)
		if errors.Is(err, ErrStageCompleted) {
			logger.Info("phase already completed, skipping", "pipeline", p.Name, "phase", phase.Name)
			summaries = append(summaries, summary)
			continue
		}
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, fmt.Errorf("phase %s: %w", phase.Name, err)
		}
		if summary.Interrupted {
			logger.Warn("pipeline interrupted", "pipeline", p.Name, "phase", phase.Name)
			return summaries, nil
		}
	}

	return summaries, nil
}
