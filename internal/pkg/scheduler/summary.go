package scheduler

import (
	"time"

	"github.com/mangaraw/harvester/pkg/models"
)

// Summary reports what a stage run did.
type Summary struct {
	Stage      string
	RunID      string
	Dispatched int64
	Statuses   map[models.RecordStatus]int64
	// Canceled counts fetches cut short by shutdown. They are not stored.
	Canceled int64
	// Collected counts the records of the source with status ok or
	// partial_error, including those stored by previous runs when a target is set.
	Collected     int64
	LastKey       *models.WorkItem
	Completed     bool
	Interrupted   bool
	TargetReached bool
	Duration      time.Duration
}

// Stored returns the number of records written by the run.
func (s Summary) Stored() int64 {
	var n int64
	for _, count := range s.Statuses {
		n += count
	}
	return n
}
