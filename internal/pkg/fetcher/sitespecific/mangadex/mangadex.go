// Package mangadex fetches MangaDex titles in several phases: the manga
// documents themselves, their statistics and their chapter feeds.
package mangadex

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/pkg/models"
)

const (
	// Source is the natural key prefix of MangaDex manga records. The
	// statistics and chapters phases read their keys from these records.
	Source           = "mangadex"
	StatisticsSource = "mangadex_statistics"
	ChaptersSource   = "mangadex_chapters"

	DefaultBaseURL = "https://api.mangadex.org"
)

// Phase names, in run order.
const (
	PhaseManga      = "manga"
	PhaseStatistics = "statistics"
	PhaseChapters   = "chapters"
)

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "fetcher.sitespecific.mangadex",
})

func baseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

// validKey reports whether the item is a MangaDex UUID.
func validKey(item models.WorkItem) bool {
	if item.Numeric {
		return false
	}
	_, err := uuid.Parse(item.Key)
	return err == nil
}

func invalidKey(item models.WorkItem) models.FetchOutcome {
	return models.NewFatalOutcome(models.ErrKindInvalidKey, "not a MangaDex id: "+item.Key)
}

type uuidEndpoints struct {
	source    string
	endpoints *fetcher.Endpoints
}

func (u *uuidEndpoints) Source() string {
	return u.source
}

func (u *uuidEndpoints) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	if !validKey(item) {
		return invalidKey(item)
	}
	return u.endpoints.Fetch(ctx, item)
}

// NewManga returns the fetcher of the manga phase: the manga document with
// its authors and its volume/chapter aggregate.
func NewManga(client *fetcher.Client, base string) fetcher.Fetcher {
	base = baseURL(base)
	return &uuidEndpoints{
		source: Source,
		endpoints: fetcher.NewEndpoints(Source, client,
			fetcher.Endpoint{Part: "manga", Path: base + "/manga/{key}?includes[]=author&includes[]=artist", Primary: true},
			fetcher.Endpoint{Part: "aggregate", Path: base + "/manga/{key}/aggregate"},
		),
	}
}

// NewStatistics returns the fetcher of the statistics phase.
func NewStatistics(client *fetcher.Client, base string) fetcher.Fetcher {
	base = baseURL(base)
	return &uuidEndpoints{
		source: StatisticsSource,
		endpoints: fetcher.NewEndpoints(StatisticsSource, client,
			fetcher.Endpoint{Part: "statistics", Path: base + "/statistics/manga/{key}", Primary: true},
		),
	}
}
