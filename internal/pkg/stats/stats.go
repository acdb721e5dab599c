// Package stats keeps the process-wide crawl counters shown by the live UI and
// the status API, and mirrors them as Prometheus metrics when enabled.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

type stats struct {
	ItemsProcessed   *rate
	ItemsByStatus    *rateBucket
	ItemsCanceled    *counter
	ItemsSkipped     *counter
	StorageErrors    *counter
	HTTPAttempts     *counter
	HTTPReturnCodes  *rateBucket
	Retries          *counter
	FetchersInFlight *counter
	MeanFetchTime    *mean
	RateMode         atomic.Value // string
	CurrentDelay     *counter     // in ns
	Concurrency      *counter
	Paused           atomic.Bool
	StartedAt        atomic.Int64 // unix seconds
}

// Config is the stats configuration given to Init.
type Config struct {
	// Prometheus enables the Prometheus metrics.
	Prometheus bool
	// Prefix prefixes every metric name.
	Prefix string
	// Job is the value of the "job" label, usually the stage name.
	Job string
}

var (
	globalStats = newStats()
	doOnce      sync.Once
)

func newStats() *stats {
	s := &stats{
		ItemsProcessed:   newRate(),
		ItemsByStatus:    newRateBucket(),
		ItemsCanceled:    &counter{},
		ItemsSkipped:     &counter{},
		StorageErrors:    &counter{},
		HTTPAttempts:     &counter{},
		HTTPReturnCodes:  newRateBucket(),
		Retries:          &counter{},
		FetchersInFlight: &counter{},
		MeanFetchTime:    &mean{},
		CurrentDelay:     &counter{},
		Concurrency:      &counter{},
	}
	s.RateMode.Store("")
	s.StartedAt.Store(time.Now().Unix())
	return s
}

// Init enables the Prometheus metrics when cfg asks for them. Counters work
// without Init, so packages can be tested without it.
func Init(cfg *Config) error {
	var done = false

	doOnce.Do(func() {
		globalStats.StartedAt.Store(time.Now().Unix())
		if cfg != nil && cfg.Prometheus {
			globalPromStats = newPrometheusStats(cfg.Prefix, cfg.Job)
			registerPrometheusMetrics()
		}
		done = true
	})

	if !done {
		return ErrStatsAlreadyInitialized
	}

	return nil
}

// Reset zeroes every counter.
func Reset() {
	globalStats.ItemsProcessed.reset()
	globalStats.ItemsByStatus.resetAll()
	globalStats.ItemsCanceled.reset()
	globalStats.ItemsSkipped.reset()
	globalStats.StorageErrors.reset()
	globalStats.HTTPAttempts.reset()
	globalStats.HTTPReturnCodes.resetAll()
	globalStats.Retries.reset()
	globalStats.FetchersInFlight.reset()
	globalStats.MeanFetchTime.reset()
	globalStats.CurrentDelay.reset()
	globalStats.Concurrency.reset()
	globalStats.RateMode.Store("")
	globalStats.Paused.Store(false)
}

// GetMap returns a map of the current stats.
// This is used by the live UI and the status API.
func GetMap() map[string]any {
	return map[string]any{
		"Items/s":             globalStats.ItemsProcessed.get(),
		"Items processed":     globalStats.ItemsProcessed.getTotal(),
		"Items ok":            globalStats.ItemsByStatus.getTotal("ok"),
		"Items partial_error": globalStats.ItemsByStatus.getTotal("partial_error"),
		"Items no_data":       globalStats.ItemsByStatus.getTotal("no_data"),
		"Items canceled":      globalStats.ItemsCanceled.get(),
		"Items skipped":       globalStats.ItemsSkipped.get(),
		"Storage errors":      globalStats.StorageErrors.get(),
		"HTTP attempts":       globalStats.HTTPAttempts.get(),
		"HTTP 2xx/s":          bucketSum(globalStats.HTTPReturnCodes.getFiltered("2*")),
		"HTTP 4xx/s":          bucketSum(globalStats.HTTPReturnCodes.getFiltered("4*")),
		"HTTP 5xx/s":          bucketSum(globalStats.HTTPReturnCodes.getFiltered("5*")),
		"HTTP 429 total":      globalStats.HTTPReturnCodes.getTotal("429"),
		"Retries":             globalStats.Retries.get(),
		"Fetchers in flight":  globalStats.FetchersInFlight.get(),
		"Mean fetch time":     time.Duration(globalStats.MeanFetchTime.get()).Round(time.Millisecond).String(),
		"Rate mode":           globalStats.RateMode.Load(),
		"Current delay":       time.Duration(globalStats.CurrentDelay.get()).String(),
		"Concurrency window":  globalStats.Concurrency.get(),
		"Is paused?":          globalStats.Paused.Load(),
		"Uptime":              (time.Duration(time.Now().Unix()-globalStats.StartedAt.Load()) * time.Second).String(),
	}
}
