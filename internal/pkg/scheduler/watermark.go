package scheduler

import (
	"sync"

	"github.com/mangaraw/harvester/pkg/models"
)

// watermark tracks the highest item below which every dispatched item has a
// stored terminal outcome. Items are numbered in dispatch order and may
// complete in any order; the mark only moves across contiguous completions.
type watermark struct {
	mu   sync.Mutex
	next uint64
	done map[uint64]models.WorkItem
	last *models.WorkItem
}

// newWatermark starts a mark at the key restored from a checkpoint, if any.
func newWatermark(from *models.WorkItem) *watermark {
	w := &watermark{
		done: make(map[uint64]models.WorkItem),
	}
	if from != nil {
		key := *from
		w.last = &key
	}
	return w
}

// complete records the terminal outcome of the item dispatched as seq and
// returns how many positions the mark moved.
func (w *watermark) complete(seq uint64, item models.WorkItem) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seq < w.next {
		return 0
	}
	w.done[seq] = item

	var advanced int
	for {
		item, ok := w.done[w.next]
		if !ok {
			break
		}
		delete(w.done, w.next)
		w.last = &item
		w.next++
		advanced++
	}

	return advanced
}

// Last returns the item at the mark.
func (w *watermark) Last() (models.WorkItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.last == nil {
		return models.WorkItem{}, false
	}
	return *w.last, true
}

// Ahead returns the number of completed items held back by a gap.
func (w *watermark) Ahead() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.done)
}
