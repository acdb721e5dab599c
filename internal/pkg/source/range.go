package source

import (
	"context"
	"fmt"

	"github.com/mangaraw/harvester/pkg/models"
)

// Range enumerates the integers start..end inclusive. An end of 0 makes the
// range unbounded: the scheduler target stops it.
type Range struct {
	name    string
	start   int64
	end     int64
	next    int64
	opts    options
	skipped int64
}

// NewRange returns a Range source.
func NewRange(name string, start, end int64, opts ...Option) (*Range, error) {
	if start < 0 || (end != 0 && end < start) {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidRange, start, end)
	}

	return &Range{
		name:  name,
		start: start,
		end:   end,
		next:  start,
		opts:  newOptions(opts),
	}, nil
}

// Name implements Source.
func (r *Range) Name() string {
	return r.name
}

// Next implements Source.
func (r *Range) Next(ctx context.Context) (models.WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.WorkItem{}, err
		}
		if r.end != 0 && r.next > r.end {
			return models.WorkItem{}, ErrEndOfWork
		}

		item := models.IntItem(r.next)
		r.next++

		skip, err := r.opts.skipped(ctx, item, &r.skipped)
		if err != nil {
			return models.WorkItem{}, fmt.Errorf("skip check of %s failed: %w", item, err)
		}
		if !skip {
			return item, nil
		}
	}
}

// Seek implements Source. A key before the start of the range is ignored.
func (r *Range) Seek(after models.WorkItem) {
	if !after.Numeric {
		logger.Warn("ignoring non numeric resume key on a range", "source", r.name, "key", after.Key)
		return
	}
	r.next = max(r.start, after.ID+1)
}

// Skipped returns how many items the skip function filtered out.
func (r *Range) Skipped() int64 {
	return r.skipped
}
