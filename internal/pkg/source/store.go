package source

import (
	"context"
	"fmt"

	"github.com/mangaraw/harvester/pkg/models"
)

// KeyLister lists the keys of the records of one source in ascending order.
// It is implemented by the document stores.
type KeyLister interface {
	// ListKeys returns at most limit keys of records of source that come
	// strictly after the given key (nil for the first page). An empty
	// statuses list matches every record.
	ListKeys(ctx context.Context, source string, after *models.WorkItem, limit int, statuses ...models.RecordStatus) ([]models.WorkItem, error)
}

// Store enumerates the keys of already stored records, typically the manga
// documents of a previous phase.
type Store struct {
	name      string
	lister    KeyLister
	from      string
	opts      options
	buffer    []models.WorkItem
	after     *models.WorkItem
	exhausted bool
	skipped   int64
}

// NewStore returns a Store source named name that enumerates the records of
// the from source.
func NewStore(name string, lister KeyLister, from string, opts ...Option) *Store {
	return &Store{
		name:   name,
		lister: lister,
		from:   from,
		opts:   newOptions(opts),
	}
}

// Name implements Source.
func (s *Store) Name() string {
	return s.name
}

// Next implements Source.
func (s *Store) Next(ctx context.Context) (models.WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.WorkItem{}, err
		}

		if len(s.buffer) == 0 {
			if s.exhausted {
				return models.WorkItem{}, ErrEndOfWork
			}
			if err := s.fill(ctx); err != nil {
				return models.WorkItem{}, err
			}
			continue
		}

		item := s.buffer[0]
		s.buffer = s.buffer[1:]
		s.after = &item

		skip, err := s.opts.skipped(ctx, item, &s.skipped)
		if err != nil {
			return models.WorkItem{}, fmt.Errorf("skip check of %s failed: %w", item, err)
		}
		if !skip {
			return item, nil
		}
	}
}

func (s *Store) fill(ctx context.Context) error {
	keys, err := s.lister.ListKeys(ctx, s.from, s.after, s.opts.pageSize, s.opts.statuses...)
	if err != nil {
		return fmt.Errorf("failed to list keys of %s: %w", s.from, err)
	}

	logger.Debug("listed keys", "source", s.name, "from", s.from, "count", len(keys))

	if len(keys) < s.opts.pageSize {
		s.exhausted = true
	}
	s.buffer = keys

	return nil
}

// Seek implements Source.
func (s *Store) Seek(after models.WorkItem) {
	s.after = &after
	s.buffer = nil
	s.exhausted = false
}

// Skipped returns how many items the skip function filtered out.
func (s *Store) Skipped() int64 {
	return s.skipped
}
