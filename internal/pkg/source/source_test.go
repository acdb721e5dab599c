package source

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/mangaraw/harvester/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src Source) []models.WorkItem {
	t.Helper()

	var items []models.WorkItem
	for {
		item, err := src.Next(context.Background())
		if errors.Is(err, ErrEndOfWork) {
			return items
		}
		require.NoError(t, err)
		items = append(items, item)
	}
}

func keys(items []models.WorkItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Key
	}
	return out
}

func TestRange(t *testing.T) {
	src, err := NewRange("mal", 100, 105)
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "101", "102", "103", "104", "105"}, keys(drain(t, src)))

	// exhausted sources stay exhausted
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfWork)
}

func TestRange_Seek(t *testing.T) {
	src, err := NewRange("mal", 100, 105)
	require.NoError(t, err)

	src.Seek(models.IntItem(102))
	assert.Equal(t, []string{"103", "104", "105"}, keys(drain(t, src)))

	src.Seek(models.IntItem(10))
	assert.Equal(t, "100", keys(drain(t, src))[0])

	src.Seek(models.IntItem(105))
	assert.Empty(t, drain(t, src))
}

func TestRange_Unbounded(t *testing.T) {
	src, err := NewRange("mal", 1, 0)
	require.NoError(t, err)

	for want := int64(1); want <= 1000; want++ {
		item, err := src.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, item.ID)
	}
}

func TestRange_Invalid(t *testing.T) {
	_, err := NewRange("mal", 10, 5)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = NewRange("mal", -1, 5)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRange_Skip(t *testing.T) {
	populated := map[int64]bool{101: true, 102: true, 104: true}

	src, err := NewRange("mal", 100, 105, WithSkip(func(_ context.Context, item models.WorkItem) (bool, error) {
		return populated[item.ID], nil
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "103", "105"}, keys(drain(t, src)))
	assert.EqualValues(t, 3, src.Skipped())
}

func TestRange_SkipError(t *testing.T) {
	boom := errors.New("boom")
	src, err := NewRange("mal", 1, 3, WithSkip(func(context.Context, models.WorkItem) (bool, error) {
		return false, boom
	}))
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRange_Canceled(t *testing.T) {
	src, err := NewRange("mal", 1, 3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSlice(t *testing.T) {
	src := NewSlice("ids", []models.WorkItem{
		models.IntItem(30), models.IntItem(2), models.IntItem(30), models.IntItem(11),
	})

	assert.Equal(t, []string{"2", "11", "30"}, keys(drain(t, src)))

	src.Seek(models.IntItem(2))
	assert.Equal(t, []string{"11", "30"}, keys(drain(t, src)))

	src.Seek(models.IntItem(5))
	assert.Equal(t, []string{"11", "30"}, keys(drain(t, src)))

	src.Seek(models.IntItem(30))
	assert.Empty(t, drain(t, src))
}

// fakeLister serves keys from a sorted in-memory list and records every query.
type fakeLister struct {
	records map[string][]listed
	calls   int
	err     error
}

type listed struct {
	item   models.WorkItem
	status models.RecordStatus
}

func (f *fakeLister) ListKeys(_ context.Context, source string, after *models.WorkItem, limit int, statuses ...models.RecordStatus) ([]models.WorkItem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	var out []models.WorkItem
	for _, rec := range f.records[source] {
		if after != nil && !after.Less(rec.item) {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, rec.status) {
			continue
		}
		out = append(out, rec.item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newFakeLister() *fakeLister {
	return &fakeLister{records: map[string][]listed{
		"mangadex": {
			{models.StringItem("0a"), models.StatusOK},
			{models.StringItem("1b"), models.StatusPartialError},
			{models.StringItem("2c"), models.StatusOK},
			{models.StringItem("3d"), models.StatusNoData},
			{models.StringItem("4e"), models.StatusOK},
		},
	}}
}

func TestStore_Paginates(t *testing.T) {
	lister := newFakeLister()
	src := NewStore("mangadex_statistics", lister, "mangadex", WithPageSize(2))

	assert.Equal(t, []string{"0a", "1b", "2c", "3d", "4e"}, keys(drain(t, src)))
	// 2 + 2 + 1, the short page ends the enumeration
	assert.Equal(t, 3, lister.calls)
	assert.Equal(t, "mangadex_statistics", src.Name())
}

func TestStore_Seek(t *testing.T) {
	src := NewStore("mangadex_statistics", newFakeLister(), "mangadex", WithPageSize(2))

	src.Seek(models.StringItem("1b"))
	assert.Equal(t, []string{"2c", "3d", "4e"}, keys(drain(t, src)))

	// seeking again restarts enumeration after the new key
	src.Seek(models.StringItem("3d"))
	assert.Equal(t, []string{"4e"}, keys(drain(t, src)))
}

func TestStore_StatusFilterAndSkip(t *testing.T) {
	src := NewStore("mangadex_retry", newFakeLister(), "mangadex",
		WithStatuses(models.StatusPartialError, models.StatusNoData),
	)
	assert.Equal(t, []string{"1b", "3d"}, keys(drain(t, src)))

	src = NewStore("mangadex_chapters", newFakeLister(), "mangadex",
		WithSkip(func(_ context.Context, item models.WorkItem) (bool, error) {
			return item.Key == "2c", nil
		}),
	)
	assert.Equal(t, []string{"0a", "1b", "3d", "4e"}, keys(drain(t, src)))
	assert.EqualValues(t, 1, src.Skipped())
}

func TestStore_ListError(t *testing.T) {
	lister := newFakeLister()
	lister.err = errors.New("database is locked")

	_, err := NewStore("mangadex_statistics", lister, "mangadex").Next(context.Background())
	assert.ErrorIs(t, err, lister.err)
}
