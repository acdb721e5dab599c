package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/checkpoint"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/ratecontroller"
	"github.com/mangaraw/harvester/internal/pkg/retry"
	"github.com/mangaraw/harvester/internal/pkg/sink"
	"github.com/mangaraw/harvester/internal/pkg/source"
	"github.com/mangaraw/harvester/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcFetcher struct {
	source string
	calls  atomic.Int64
	fn     func(ctx context.Context, item models.WorkItem) models.FetchOutcome
}

func (f *funcFetcher) Source() string {
	return f.source
}

func (f *funcFetcher) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	f.calls.Add(1)
	return f.fn(ctx, item)
}

func okOutcome(item models.WorkItem) models.FetchOutcome {
	return models.FetchOutcome{
		Kind:     models.Success,
		Payload:  map[string]json.RawMessage{"metadata": json.RawMessage(fmt.Sprintf(`{"id":%q}`, item.Key))},
		HTTP:     map[string]int{"metadata": http.StatusOK},
		Attempts: 1,
	}
}

func notFoundOutcome(models.WorkItem) models.FetchOutcome {
	return models.FetchOutcome{
		Kind:     models.NotFound,
		HTTP:     map[string]int{"metadata": http.StatusNotFound},
		Attempts: 1,
	}
}

func canceledOutcome() models.FetchOutcome {
	return models.NewTransientOutcome(models.ErrKindCanceled, context.Canceled.Error())
}

func testConfig(stage string) Config {
	cfg := DefaultConfig(stage)
	cfg.Concurrency = 2
	cfg.CheckpointEvery = 2
	cfg.ShutdownGrace = time.Second
	cfg.StorageRetries = 2
	cfg.StorageRetryDelay = 0
	return cfg
}

func newRange(t *testing.T, start, end int64) *source.Range {
	t.Helper()
	src, err := source.NewRange("test", start, end)
	require.NoError(t, err)
	return src
}

func newScheduler(t *testing.T, cfg Config, src source.Source, f fetcher.Fetcher, snk sink.Sink, store checkpoint.Store, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(cfg, src, f, snk, store, opts...)
	require.NoError(t, err)
	s.sleepFunc = func(context.Context, time.Duration) error { return nil }
	return s
}

func requireStatus(t *testing.T, snk sink.Sink, naturalKey string, status models.RecordStatus) {
	t.Helper()
	rec, err := snk.Get(context.Background(), naturalKey)
	require.NoError(t, err, naturalKey)
	assert.Equal(t, status, rec.Status, naturalKey)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig("mal").Validate())

	for name, mutate := range map[string]func(*Config){
		"no stage":         func(c *Config) { c.Stage = "" },
		"no concurrency":   func(c *Config) { c.Concurrency = 0 },
		"negative target":  func(c *Config) { c.Target = -1 },
		"no cadence":       func(c *Config) { c.CheckpointEvery = 0 },
		"negative grace":   func(c *Config) { c.ShutdownGrace = -time.Second },
		"negative retries": func(c *Config) { c.StorageRetries = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig("mal")
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	_, err := New(DefaultConfig("mal"), nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestRun_RangeAgainstFakeService crawls 100..105 against a service that
// rate limits 104 once and does not know 105.
func TestRun_RangeAgainstFakeService(t *testing.T) {
	var hits104 atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/manga/")
		switch id {
		case "104":
			if hits104.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
		case "105":
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"data":{"mal_id":%s}}`, id)
	}))
	defer srv.Close()

	rc, err := ratecontroller.New("fake", ratecontroller.Config{
		MinDelay:          0,
		MaxDelay:          5 * time.Millisecond,
		BaseDelay:         time.Millisecond,
		BackoffFactor:     2,
		RecoveryFactor:    0.9,
		BurstThreshold:    10,
		CooldownThreshold: 50,
		CooldownMin:       time.Second,
		CooldownMax:       time.Second,
		MaxPenalty:        10 * time.Millisecond,
		MinConcurrency:    1,
		MaxConcurrency:    2,
	})
	require.NoError(t, err)

	client := fetcher.NewClient(fetcher.ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second},
		retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, rc)
	defer client.Close()

	f := fetcher.NewEndpoints("mal", client, fetcher.Endpoint{Part: "metadata", Path: "/manga/{key}", Primary: true})
	snk := sink.NewMemory()
	store := checkpoint.NewMemory()

	s := newScheduler(t, testConfig("mal"), newRange(t, 100, 105), f, snk, store, WithWindow(rc))
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Completed)
	assert.False(t, summary.Interrupted)
	assert.EqualValues(t, 6, summary.Dispatched)
	assert.EqualValues(t, 5, summary.Statuses[models.StatusOK])
	assert.EqualValues(t, 1, summary.Statuses[models.StatusNoData])

	assert.Equal(t, 6, snk.Len())
	for id := 100; id <= 104; id++ {
		requireStatus(t, snk, fmt.Sprintf("mal_%d", id), models.StatusOK)
	}
	requireStatus(t, snk, "mal_105", models.StatusNoData)
	assert.EqualValues(t, 2, hits104.Load())

	rec, err := store.Load(context.Background(), "mal")
	require.NoError(t, err)
	require.NotNil(t, rec.LastProcessedKey)
	assert.Equal(t, models.IntItem(105), *rec.LastProcessedKey)
	assert.True(t, rec.Completed)
	assert.EqualValues(t, 6, rec.Processed)
	assert.Equal(t, summary.RunID, rec.RunID)
}

func TestRun_StoresEveryDispatchedItem(t *testing.T) {
	f := &funcFetcher{source: "mal", fn: func(ctx context.Context, item models.WorkItem) models.FetchOutcome {
		// finish out of order
		time.Sleep(time.Duration(item.ID%3) * time.Millisecond)

		switch item.ID % 4 {
		case 0:
			return notFoundOutcome(item)
		case 1:
			return models.FetchOutcome{
				Kind:         models.PartialSuccess,
				Payload:      okOutcome(item).Payload,
				MissingParts: []string{"reviews"},
				Errors:       map[string]string{"reviews": "retries exhausted"},
			}
		case 2:
			return models.NewFatalOutcome(models.ErrKindMalformed, "bad body")
		}
		return okOutcome(item)
	}}

	cfg := testConfig("mal")
	cfg.Concurrency = 8
	snk := sink.NewMemory()
	store := checkpoint.NewMemory()

	summary, err := newScheduler(t, cfg, newRange(t, 1, 50), f, snk, store).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Completed)
	assert.EqualValues(t, 50, summary.Dispatched)
	assert.EqualValues(t, 50, summary.Stored())
	assert.Equal(t, 50, snk.Len())
	assert.Equal(t, 50, snk.Writes())

	requireStatus(t, snk, "mal_4", models.StatusNoData)
	requireStatus(t, snk, "mal_5", models.StatusPartialError)
	requireStatus(t, snk, "mal_6", models.StatusPartialError)
	requireStatus(t, snk, "mal_7", models.StatusOK)

	rec, err := store.Load(context.Background(), "mal")
	require.NoError(t, err)
	assert.Equal(t, models.IntItem(50), *rec.LastProcessedKey)
}

func TestRun_CheckpointCadence(t *testing.T) {
	f := &funcFetcher{source: "mal", fn: func(_ context.Context, item models.WorkItem) models.FetchOutcome {
		return okOutcome(item)
	}}

	cfg := testConfig("mal")
	cfg.Concurrency = 1
	cfg.CheckpointEvery = 3
	store := checkpoint.NewMemory()

	_, err := newScheduler(t, cfg, newRange(t, 1, 10), f, sink.NewMemory(), store).Run(context.Background())
	require.NoError(t, err)

	// 3 periodic writes and the final one
	assert.Equal(t, 4, store.Saves())
}

func TestRun_ResumesAfterCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemory()
	last := models.IntItem(4)
	require.NoError(t, store.Save(ctx, checkpoint.Record{Stage: "mal", LastProcessedKey: &last, Processed: 4}))

	var (
		mu   sync.Mutex
		seen []int64
	)
	f := &funcFetcher{source: "mal", fn: func(_ context.Context, item models.WorkItem) models.FetchOutcome {
		mu.Lock()
		seen = append(seen, item.ID)
		mu.Unlock()
		return okOutcome(item)
	}}

	cfg := testConfig("mal")
	cfg.Concurrency = 1
	snk := sink.NewMemory()

	summary, err := newScheduler(t, cfg, newRange(t, 1, 10), f, snk, store).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int64{5, 6, 7, 8, 9, 10}, seen)
	assert.Equal(t, 6, snk.Len())
	assert.True(t, summary.Completed)

	rec, err := store.Load(ctx, "mal")
	require.NoError(t, err)
	assert.EqualValues(t, 10, rec.Processed)
	assert.True(t, rec.Completed)

	t.Run("completed stage is skipped", func(t *testing.T) {
		f.calls.Store(0)
		summary, err := newScheduler(t, cfg, newRange(t, 1, 10), f, snk, store).Run(ctx)
		assert.ErrorIs(t, err, ErrStageCompleted)
		assert.True(t, summary.Completed)
		assert.Zero(t, f.calls.Load())
	})

	t.Run("no resume starts over", func(t *testing.T) {
		f.calls.Store(0)
		cfg := cfg
		cfg.Resume = false
		summary, err := newScheduler(t, cfg, newRange(t, 1, 10), f, snk, store).Run(ctx)
		require.NoError(t, err)
		assert.True(t, summary.Completed)
		assert.EqualValues(t, 10, f.calls.Load())
	})
}

func TestRun_Target(t *testing.T) {
	ctx := context.Background()
	f := &funcFetcher{source: "mal", fn: func(_ context.Context, item models.WorkItem) models.FetchOutcome {
		if item.ID%2 == 1 {
			return notFoundOutcome(item)
		}
		return okOutcome(item)
	}}

	cfg := testConfig("mal")
	cfg.Concurrency = 1
	cfg.Target = 5
	snk := sink.NewMemory()
	store := checkpoint.NewMemory()

	summary, err := newScheduler(t, cfg, newRange(t, 1, 0), f, snk, store).Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.TargetReached)
	assert.True(t, summary.Completed)
	assert.EqualValues(t, 5, summary.Collected)

	count, err := snk.Count(ctx, "mal", models.StatusOK, models.StatusPartialError)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	rec, err := store.Load(ctx, "mal")
	require.NoError(t, err)
	assert.Equal(t, models.IntItem(10), *rec.LastProcessedKey)

	t.Run("already reached", func(t *testing.T) {
		f.calls.Store(0)
		cfg := cfg
		cfg.Stage = "mal_again"
		summary, err := newScheduler(t, cfg, newRange(t, 1, 0), f, snk, store).Run(ctx)
		require.NoError(t, err)
		assert.True(t, summary.TargetReached)
		assert.Zero(t, summary.Dispatched)
		assert.Zero(t, f.calls.Load())
	})
}

func TestRun_TargetCountsStoredRecords(t *testing.T) {
	backends := map[string]func(t *testing.T) sink.Sink{
		"memory": func(*testing.T) sink.Sink { return sink.NewMemory() },
		"sqlite": func(t *testing.T) sink.Sink {
			s, err := sink.OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"leveldb": func(t *testing.T) sink.Sink {
			s, err := sink.OpenLevelDB(filepath.Join(t.TempDir(), "records"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			snk := open(t)
			store := checkpoint.NewMemory()
			f := &funcFetcher{source: "mal", fn: func(_ context.Context, item models.WorkItem) models.FetchOutcome {
				return okOutcome(item)
			}}

			cfg := testConfig("mal")
			cfg.Concurrency = 1
			summary, err := newScheduler(t, cfg, newRange(t, 1, 3), f, snk, store).Run(ctx)
			require.NoError(t, err)
			require.True(t, summary.Completed)

			// a later run with a target only fetches what is missing
			f.calls.Store(0)
			cfg.Stage = "mal_target"
			cfg.Target = 5
			summary, err = newScheduler(t, cfg, newRange(t, 4, 0), f, snk, store).Run(ctx)
			require.NoError(t, err)
			assert.True(t, summary.TargetReached)
			assert.EqualValues(t, 5, summary.Collected)
			assert.EqualValues(t, 2, f.calls.Load())

			f.calls.Store(0)
			cfg.Stage = "mal_target_again"
			summary, err = newScheduler(t, cfg, newRange(t, 6, 0), f, snk, store).Run(ctx)
			require.NoError(t, err)
			assert.True(t, summary.TargetReached)
			assert.Zero(t, summary.Dispatched)
			assert.Zero(t, f.calls.Load())
		})
	}
}

type flakySink struct {
	*sink.Memory
	failures atomic.Int64
	calls    atomic.Int64
}

func (s *flakySink) Upsert(ctx context.Context, naturalKey string, rec *models.StoredRecord) error {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errors.New("database is locked")
	}
	return s.Memory.Upsert(ctx, naturalKey, rec)
}

func TestRun_StorageFailures(t *testing.T) {
	f := &funcFetcher{source: "mal", fn: func(_ context.Context, item models.WorkItem) models.FetchOutcome {
		return okOutcome(item)
	}}

	t.Run("retried", func(t *testing.T) {
		snk := &flakySink{Memory: sink.NewMemory()}
		snk.failures.Store(2)

		cfg := testConfig("mal")
		cfg.Concurrency = 1
		summary, err := newScheduler(t, cfg, newRange(t, 1, 5), f, snk, checkpoint.NewMemory()).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, summary.Completed)
		assert.Equal(t, 5, snk.Len())
		assert.EqualValues(t, 7, snk.calls.Load())
	})

	t.Run("aborts the run", func(t *testing.T) {
		snk := &flakySink{Memory: sink.NewMemory()}
		snk.failures.Store(1000)
		store := checkpoint.NewMemory()

		cfg := testConfig("mal")
		cfg.Concurrency = 1
		summary, err := newScheduler(t, cfg, newRange(t, 1, 5), f, snk, store).Run(context.Background())
		require.ErrorIs(t, err, ErrStorage)
		assert.False(t, summary.Completed)
		assert.Zero(t, snk.Len())
		assert.EqualValues(t, cfg.StorageRetries+1, snk.calls.Load())

		rec, err := store.Load(context.Background(), "mal")
		require.NoError(t, err)
		assert.False(t, rec.Completed)
		assert.Nil(t, rec.LastProcessedKey)
	})
}

func TestRun_CancelWaitsForGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &funcFetcher{source: "mal", fn: func(work context.Context, item models.WorkItem) models.FetchOutcome {
		if item.ID == 3 {
			cancel()
			// the fetch outlives the run context
			time.Sleep(5 * time.Millisecond)
			if work.Err() != nil {
				return canceledOutcome()
			}
		}
		return okOutcome(item)
	}}

	cfg := testConfig("mal")
	cfg.Concurrency = 1
	snk := sink.NewMemory()
	store := checkpoint.NewMemory()

	summary, err := newScheduler(t, cfg, newRange(t, 1, 100), f, snk, store).Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.False(t, summary.Completed)
	assert.Zero(t, summary.Canceled)
	assert.Equal(t, 3, snk.Len())
	requireStatus(t, snk, "mal_3", models.StatusOK)

	rec, err := store.Load(context.Background(), "mal")
	require.NoError(t, err)
	assert.Equal(t, models.IntItem(3), *rec.LastProcessedKey)
	assert.False(t, rec.Completed)
}

func TestRun_CancelAfterGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	f := &funcFetcher{source: "mal", fn: func(work context.Context, item models.WorkItem) models.FetchOutcome {
		if item.ID < 4 {
			return okOutcome(item)
		}
		once.Do(cancel)
		<-work.Done()
		return canceledOutcome()
	}}

	cfg := testConfig("mal")
	cfg.Concurrency = 1
	cfg.ShutdownGrace = 10 * time.Millisecond
	snk := sink.NewMemory()
	store := checkpoint.NewMemory()

	summary, err := newScheduler(t, cfg, newRange(t, 1, 100), f, snk, store).Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.False(t, summary.Completed)
	assert.EqualValues(t, 1, summary.Canceled)
	assert.Equal(t, 3, snk.Len(), "canceled fetches are not stored")

	_, err = snk.Get(context.Background(), "mal_4")
	assert.ErrorIs(t, err, sink.ErrNotFound)

	rec, err := store.Load(context.Background(), "mal")
	require.NoError(t, err)
	assert.Equal(t, models.IntItem(3), *rec.LastProcessedKey)

	t.Run("resumed run fetches the canceled item", func(t *testing.T) {
		f := &funcFetcher{source: "mal", fn: func(_ context.Context, item models.WorkItem) models.FetchOutcome {
			return okOutcome(item)
		}}
		summary, err := newScheduler(t, cfg, newRange(t, 1, 6), f, snk, store).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, summary.Completed)
		assert.EqualValues(t, 3, f.calls.Load())
		requireStatus(t, snk, "mal_4", models.StatusOK)
	})
}
