package source

import (
	"context"
	"fmt"
	"slices"

	"github.com/mangaraw/harvester/pkg/models"
)

// Slice enumerates an explicit list of items, sorted on creation.
type Slice struct {
	name    string
	items   []models.WorkItem
	pos     int
	opts    options
	skipped int64
}

// NewSlice returns a Slice source over a sorted copy of items.
func NewSlice(name string, items []models.WorkItem, opts ...Option) *Slice {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b models.WorkItem) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	sorted = slices.Compact(sorted)

	return &Slice{
		name:  name,
		items: sorted,
		opts:  newOptions(opts),
	}
}

// Name implements Source.
func (s *Slice) Name() string {
	return s.name
}

// Next implements Source.
func (s *Slice) Next(ctx context.Context) (models.WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.WorkItem{}, err
		}
		if s.pos >= len(s.items) {
			return models.WorkItem{}, ErrEndOfWork
		}

		item := s.items[s.pos]
		s.pos++

		skip, err := s.opts.skipped(ctx, item, &s.skipped)
		if err != nil {
			return models.WorkItem{}, fmt.Errorf("skip check of %s failed: %w", item, err)
		}
		if !skip {
			return item, nil
		}
	}
}

// Seek implements Source.
func (s *Slice) Seek(after models.WorkItem) {
	s.pos = len(s.items)
	for i, item := range s.items {
		if after.Less(item) {
			s.pos = i
			return
		}
	}
}
