package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mangaraw/harvester/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyPtr(item models.WorkItem) *models.WorkItem {
	return &item
}

// storeFactories returns one constructor per backend so every store runs the same cases.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemory() },
		"file": func(*testing.T) Store {
			return NewFile(afero.NewMemMapFs(), "/state/checkpoint.json")
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_LoadMissingStage(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)

			rec, err := store.Load(context.Background(), "mal")
			require.NoError(t, err)
			assert.Equal(t, "mal", rec.Stage)
			assert.Nil(t, rec.LastProcessedKey)
			assert.False(t, rec.Completed)
		})
	}
}

func TestStore_SaveLoad(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			want := Record{
				Stage:            "mangadex_chapters",
				LastProcessedKey: keyPtr(models.StringItem("32d76d19-8a05-4db0-9fc2-e0b0648fe9d0")),
				BatchSize:        25,
				Aux:              map[string]string{"lang": "en"},
				Processed:        42,
				RunID:            "run-1",
				UpdatedAt:        updated,
			}
			require.NoError(t, store.Save(ctx, want))

			got, err := store.Load(ctx, "mangadex_chapters")
			require.NoError(t, err)
			assert.Equal(t, want.LastProcessedKey, got.LastProcessedKey)
			assert.Equal(t, 25, got.BatchSize)
			assert.Equal(t, "en", got.Aux["lang"])
			assert.EqualValues(t, 42, got.Processed)
			assert.Equal(t, "run-1", got.RunID)
			assert.True(t, updated.Equal(got.UpdatedAt))

			// numeric keys keep their kind across the round trip
			require.NoError(t, store.Save(ctx, Record{Stage: "mal", LastProcessedKey: keyPtr(models.IntItem(105)), Completed: true}))
			got, err = store.Load(ctx, "mal")
			require.NoError(t, err)
			require.NotNil(t, got.LastProcessedKey)
			assert.Equal(t, models.IntItem(105), *got.LastProcessedKey)
			assert.True(t, got.Completed)

			records, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "mal", records[0].Stage)
			assert.Equal(t, "mangadex_chapters", records[1].Stage)
		})
	}
}

func TestStore_RefusesRegression(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			require.NoError(t, store.Save(ctx, Record{Stage: "mal", LastProcessedKey: keyPtr(models.IntItem(100))}))
			require.NoError(t, store.Save(ctx, Record{Stage: "mal", LastProcessedKey: keyPtr(models.IntItem(100))}))

			err := store.Save(ctx, Record{Stage: "mal", LastProcessedKey: keyPtr(models.IntItem(99))})
			assert.ErrorIs(t, err, ErrRegression)

			err = store.Save(ctx, Record{Stage: "mal"})
			assert.ErrorIs(t, err, ErrRegression)

			got, err := store.Load(ctx, "mal")
			require.NoError(t, err)
			assert.Equal(t, models.IntItem(100), *got.LastProcessedKey)

			require.NoError(t, store.Reset(ctx, "mal"))
			require.NoError(t, store.Save(ctx, Record{Stage: "mal", LastProcessedKey: keyPtr(models.IntItem(1))}))

			got, err = store.Load(ctx, "mal")
			require.NoError(t, err)
			assert.Equal(t, models.IntItem(1), *got.LastProcessedKey)
		})
	}
}

func TestStore_RequiresStage(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			err := newStore(t).Save(context.Background(), Record{})
			assert.ErrorIs(t, err, ErrNoStage)
		})
	}
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Record{Stage: "mu", LastProcessedKey: keyPtr(models.IntItem(7)), Aux: map[string]string{"a": "1"}}))

	rec, err := store.Load(ctx, "mu")
	require.NoError(t, err)
	rec.LastProcessedKey.ID = 1000
	rec.Aux["a"] = "2"

	again, err := store.Load(ctx, "mu")
	require.NoError(t, err)
	assert.EqualValues(t, 7, again.LastProcessedKey.ID)
	assert.Equal(t, "1", again.Aux["a"])
}

func TestFile_KeepsBackup(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFile(fs, "/state/checkpoint.json")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Record{Stage: "mal", LastProcessedKey: keyPtr(models.IntItem(10))}))
	require.NoError(t, store.Save(ctx, Record{Stage: "mal", LastProcessedKey: keyPtr(models.IntItem(20))}))

	exists, err := afero.Exists(fs, "/state/checkpoint.json.old")
	require.NoError(t, err)
	assert.True(t, exists)

	// no temporary file is left behind
	matches, err := afero.Glob(fs, "/state/checkpoint.json.tmp_*")
	require.NoError(t, err)
	assert.Empty(t, matches)

	// a crash between the two renames leaves only the backup
	require.NoError(t, fs.Remove("/state/checkpoint.json"))

	rec, err := NewFile(fs, "/state/checkpoint.json").Load(ctx, "mal")
	require.NoError(t, err)
	require.NotNil(t, rec.LastProcessedKey)
	assert.EqualValues(t, 10, rec.LastProcessedKey.ID)
}

func TestFile_CorruptDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/state/checkpoint.json", []byte("{not json"), 0o644))

	_, err := NewFile(fs, "/state/checkpoint.json").Load(context.Background(), "mal")
	assert.Error(t, err)
}

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	ctx := context.Background()

	first := NewFile(afero.NewOsFs(), path)
	require.NoError(t, first.Save(ctx, Record{Stage: "anilist", LastProcessedKey: keyPtr(models.IntItem(30013)), Processed: 3}))
	require.NoError(t, first.Close())

	rec, err := NewFile(afero.NewOsFs(), path).Load(ctx, "anilist")
	require.NoError(t, err)
	assert.EqualValues(t, 30013, rec.LastProcessedKey.ID)
	assert.EqualValues(t, 3, rec.Processed)
}

func TestOpen(t *testing.T) {
	store, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)

	store, err = Open("file", filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, err)
	assert.IsType(t, &File{}, store)

	_, err = Open("redis", "")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
