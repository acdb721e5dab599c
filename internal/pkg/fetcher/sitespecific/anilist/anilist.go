// Package anilist fetches manga from the AniList GraphQL API.
package anilist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/pkg/models"
)

const (
	// Source is the natural key prefix of AniList records, e.g. "anilist_30013".
	Source = "anilist"

	DefaultEndpoint = "https://graphql.anilist.co"
)

const mediaQuery = `query ($id: Int) {
  Media(id: $id, type: MANGA) {
    id
    idMal
    title { romaji english native }
    format
    status
    startDate { year month day }
    chapters
    volumes
    genres
    averageScore
    popularity
    recommendations { edges { node { mediaRecommendation { id title { romaji } } } } }
    reviews { nodes { summary score } }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type mediaResponse struct {
	Data struct {
		Media json.RawMessage `json:"Media"`
	} `json:"data"`
}

// Fetcher fetches one Media document per item.
type Fetcher struct {
	client   *fetcher.Client
	endpoint string
}

// New returns an AniList Fetcher using the shared client.
func New(client *fetcher.Client, endpoint string) *Fetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Fetcher{
		client:   client,
		endpoint: endpoint,
	}
}

// Source implements fetcher.Fetcher.
func (f *Fetcher) Source() string {
	return Source
}

// Fetch implements fetcher.Fetcher. AniList IDs are positive integers.
func (f *Fetcher) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	if !item.Numeric || item.ID <= 0 {
		return models.NewFatalOutcome(models.ErrKindInvalidKey, "not an AniList id: "+item.Key)
	}

	part := f.client.Do(ctx, fetcher.Request{
		Part:    "media",
		Primary: true,
		Method:  "POST",
		URL:     f.endpoint,
		Body: graphQLRequest{
			Query:     mediaQuery,
			Variables: map[string]any{"id": item.ID},
		},
		Decode: decodeMedia,
	})

	return fetcher.Fold(part)
}

func decodeMedia(body []byte) (json.RawMessage, error) {
	var resp mediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data.Media) == 0 || string(resp.Data.Media) == "null" {
		return nil, fmt.Errorf("response carries no media")
	}
	return resp.Data.Media, nil
}
