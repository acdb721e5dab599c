// Package source enumerates the work items of a crawl stage: dense numeric
// ranges, keys already present in the document store, or explicit lists.
package source

import (
	"context"

	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/pkg/models"
)

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "source",
})

// Source produces work items in ascending order. It is used by a single
// goroutine and is not safe for concurrent use.
type Source interface {
	// Next returns the next item, or ErrEndOfWork once the source is exhausted.
	Next(ctx context.Context) (models.WorkItem, error)
	// Seek positions the source so that Next returns the items strictly after
	// the given one.
	Seek(after models.WorkItem)
	// Name returns the name of the source.
	Name() string
}

// SkipFunc reports whether an item is already fully populated and must not be
// crawled again.
type SkipFunc func(ctx context.Context, item models.WorkItem) (bool, error)

type options struct {
	skip     SkipFunc
	pageSize int
	statuses []models.RecordStatus
}

// Option configures a source.
type Option func(*options)

// WithSkip makes the source skip the items for which fn returns true.
func WithSkip(fn SkipFunc) Option {
	return func(o *options) {
		o.skip = fn
	}
}

// WithPageSize sets how many keys a Store source reads per query.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithStatuses restricts a Store source to records with one of the given statuses.
func WithStatuses(statuses ...models.RecordStatus) Option {
	return func(o *options) {
		o.statuses = statuses
	}
}

func newOptions(opts []Option) options {
	o := options{pageSize: 500}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// skipped applies the skip function, counting the skipped items.
func (o *options) skipped(ctx context.Context, item models.WorkItem, counter *int64) (bool, error) {
	if o.skip == nil {
		return false, nil
	}

	skip, err := o.skip(ctx, item)
	if err != nil {
		return false, err
	}
	if skip {
		*counter++
		logger.Debug("skipping populated item", "key", item.Key)
	}
	return skip, nil
}
