// Package jikan fetches MyAnimeList manga through the Jikan REST API.
package jikan

import (
	"context"
	"strings"

	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/pkg/models"
)

const (
	// Source is the natural key prefix of MyAnimeList records, e.g. "mal_104".
	Source = "mal"

	DefaultBaseURL = "https://api.jikan.moe/v4"

	// pageSize is the number of entries of a full Jikan page
	pageSize = 20
)

// Config selects the Jikan instance and how much of each item to fetch.
type Config struct {
	BaseURL             string
	RecommendationPages int
	ReviewPages         int
}

// Fetcher fetches metadata, recommendations and reviews of one manga.
type Fetcher struct {
	endpoints *fetcher.Endpoints
}

// New returns a Jikan Fetcher using the shared client.
func New(client *fetcher.Client, cfg Config) *Fetcher {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.RecommendationPages <= 0 {
		cfg.RecommendationPages = 5
	}
	if cfg.ReviewPages <= 0 {
		cfg.ReviewPages = 3
	}

	return &Fetcher{
		endpoints: fetcher.NewEndpoints(Source, client,
			fetcher.Endpoint{Part: "metadata", Path: base + "/manga/{key}/full", Primary: true},
			fetcher.Endpoint{Part: "recommendations", Path: base + "/manga/{key}/recommendations", PageSize: pageSize, MaxPages: cfg.RecommendationPages},
			fetcher.Endpoint{Part: "reviews", Path: base + "/manga/{key}/reviews", PageSize: pageSize, MaxPages: cfg.ReviewPages},
		),
	}
}

// Source implements fetcher.Fetcher.
func (f *Fetcher) Source() string {
	return Source
}

// Fetch implements fetcher.Fetcher. MyAnimeList IDs are positive integers.
func (f *Fetcher) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	if !item.Numeric || item.ID <= 0 {
		return models.NewFatalOutcome(models.ErrKindInvalidKey, "not a MyAnimeList id: "+item.Key)
	}

	return f.endpoints.Fetch(ctx, item)
}
