// Package youtube searches YouTube for the titles of stored MangaDex manga and
// keeps the popular videos found in the search result pages.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/fetcher/sitespecific/mangadex"
	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/internal/pkg/sink"
	"github.com/mangaraw/harvester/pkg/models"
)

const (
	// Source is the natural key prefix of YouTube records. They are keyed by
	// the MangaDex id of the manga searched for, e.g. "youtube_<uuid>".
	Source = "youtube"

	DefaultBaseURL  = "https://www.youtube.com"
	DefaultMinViews = 1000
)

// DefaultLanguages are the title and video languages kept by default.
var DefaultLanguages = []string{"en", "vi"}

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "fetcher.sitespecific.youtube",
})

// Config configures a Fetcher.
type Config struct {
	BaseURL  string
	MinViews int64
	// Languages are the manga title languages searched for and the
	// detected video title languages kept.
	Languages []string
}

// Records reads stored records. sink.Sink implements it.
type Records interface {
	Get(ctx context.Context, naturalKey string) (*models.StoredRecord, error)
}

// Fetcher runs one search per title of a stored MangaDex manga.
type Fetcher struct {
	client    *fetcher.Client
	records   Records
	base      string
	minViews  int64
	languages []string
}

// New returns a YouTube Fetcher reading the manga titles from records.
func New(client *fetcher.Client, records Records, cfg Config) *Fetcher {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = DefaultLanguages
	}

	return &Fetcher{
		client:    client,
		records:   records,
		base:      base,
		minViews:  cfg.MinViews,
		languages: languages,
	}
}

// Source implements fetcher.Fetcher.
func (f *Fetcher) Source() string {
	return Source
}

// Fetch implements fetcher.Fetcher. A manga without a title in one of the
// languages is NotFound.
func (f *Fetcher) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	rec, err := f.records.Get(ctx, models.NaturalKey(mangadex.Source, item))
	if errors.Is(err, sink.ErrNotFound) {
		return models.FetchOutcome{Kind: models.NotFound}
	}
	if err != nil {
		return models.NewTransientOutcome(models.ErrKindConnection, err.Error())
	}

	titles := Titles(rec.Payload["manga"], f.languages)
	if len(titles) == 0 {
		return models.FetchOutcome{Kind: models.NotFound}
	}

	parts := make([]fetcher.Part, 0, len(titles))
	for i, title := range titles {
		part := f.client.Do(ctx, fetcher.Request{
			Part:  fmt.Sprintf("search_%d", i+1),
			URL:   f.base + "/results",
			Query: url.Values{"search_query": []string{title + " manga"}},
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml",
				"Accept-Language": "en-US,en;q=0.9,vi;q=0.8",
				"Referer":         f.base + "/",
			},
			Decode: ParseSearchPage,
		})
		parts = append(parts, part)
		if part.Canceled() {
			break
		}
	}

	outcome := fetcher.Fold(parts...)
	if outcome.Payload == nil {
		return outcome
	}

	payload, err := f.merge(titles, parts)
	if err != nil {
		return models.NewFatalOutcome(models.ErrKindMalformed, err.Error())
	}
	outcome.Payload = map[string]json.RawMessage{"videos": payload}

	logger.Debug("searched manga titles", "key", item.Key, "titles", len(titles), "kind", outcome.Kind)

	return outcome
}

// merge keeps the distinct videos of the fetched searches with enough views
// and a kept language.
func (f *Fetcher) merge(titles []string, parts []fetcher.Part) (json.RawMessage, error) {
	result := struct {
		Queries []string `json:"queries"`
		Videos  []Video  `json:"videos"`
	}{
		Queries: []string{},
		Videos:  []Video{},
	}

	seen := make(map[string]bool)
	for i, part := range parts {
		if !part.OK() {
			continue
		}

		query := titles[i] + " manga"
		result.Queries = append(result.Queries, query)

		var videos []Video
		if err := json.Unmarshal(part.Payload, &videos); err != nil {
			return nil, err
		}
		for _, video := range videos {
			if seen[video.VideoID] || video.ViewCount < f.minViews || !slices.Contains(f.languages, video.Language) {
				continue
			}
			seen[video.VideoID] = true
			video.Query = query
			result.Videos = append(result.Videos, video)
		}
	}

	return json.Marshal(result)
}

// Titles returns the distinct titles of a MangaDex manga document in the
// given languages, main title first.
func Titles(manga json.RawMessage, languages []string) []string {
	var doc struct {
		Data struct {
			Attributes struct {
				Title     map[string]string   `json:"title"`
				AltTitles []map[string]string `json:"altTitles"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if len(manga) == 0 || json.Unmarshal(manga, &doc) != nil {
		return nil
	}

	var titles []string
	add := func(names map[string]string) {
		for _, lang := range languages {
			title := strings.Join(strings.Fields(names[lang]), " ")
			if title != "" && !slices.Contains(titles, title) {
				titles = append(titles, title)
			}
		}
	}

	add(doc.Data.Attributes.Title)
	for _, alt := range doc.Data.Attributes.AltTitles {
		add(alt)
	}

	return titles
}
