// Package fetcher turns one WorkItem into one FetchOutcome by performing and
// folding the sub-requests that make up the item's data. Fetchers never write
// to a sink.
package fetcher

import (
	"context"

	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/pkg/models"
)

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "fetcher",
})

// Fetcher fetches every part of a WorkItem.
type Fetcher interface {
	// Source is the prefix of the natural keys of the records it produces, e.g. "mal".
	Source() string
	Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome
}

// Stateful is implemented by fetchers carrying adaptive state that must
// survive a restart, such as a page size.
type Stateful interface {
	SaveState() (batchSize int, aux map[string]string)
	RestoreState(batchSize int, aux map[string]string)
}
