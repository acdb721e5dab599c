// Package mangaupdates fetches series pages from MangaUpdates and extracts
// their title, recommendations and comments.
package mangaupdates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/pkg/models"
)

const (
	// Source is the natural key prefix of MangaUpdates records, e.g. "mu_1234".
	Source = "mu"

	DefaultBaseURL = "https://www.mangaupdates.com"
)

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "fetcher.sitespecific.mangaupdates",
})

// Series is the payload extracted from a series page.
type Series struct {
	Title           string           `json:"title"`
	Type            string           `json:"type,omitempty"`
	Year            string           `json:"year,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
	Comments        []string         `json:"comments"`
}

// Recommendation is a link to another series.
type Recommendation struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Fetcher fetches one series page per item.
type Fetcher struct {
	client *fetcher.Client
	base   string
}

// New returns a MangaUpdates Fetcher using the shared client.
func New(client *fetcher.Client, baseURL string) *Fetcher {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	return &Fetcher{
		client: client,
		base:   base,
	}
}

// Source implements fetcher.Fetcher.
func (f *Fetcher) Source() string {
	return Source
}

// Fetch implements fetcher.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	part := f.client.Do(ctx, fetcher.Request{
		Part:    "series",
		Primary: true,
		URL:     f.base + "/series.html",
		Query:   url.Values{"id": []string{item.Key}},
		Headers: map[string]string{"Accept": "text/html"},
		Decode:  ParseSeries,
	})

	return fetcher.Fold(part)
}

// ParseSeries extracts a Series from a series page. A page without a series
// title is not a series page.
func ParseSeries(body []byte) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	series := Series{
		Title:           strings.TrimSpace(doc.Find(".releasestitle").First().Text()),
		Recommendations: []Recommendation{},
		Comments:        []string{},
	}
	if series.Title == "" {
		return nil, fmt.Errorf("no series title")
	}

	doc.Find(".sCat").Each(func(_ int, s *goquery.Selection) {
		value := strings.TrimSpace(s.Next().Text())
		switch strings.TrimSpace(s.Text()) {
		case "Type":
			series.Type = value
		case "Year":
			series.Year = value
		}
	})

	seen := make(map[string]bool)
	doc.Find("a[href*='/series/']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		id := strings.SplitN(href[strings.Index(href, "/series/")+len("/series/"):], "?", 2)[0]
		id = strings.Trim(id, "/")
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		series.Recommendations = append(series.Recommendations, Recommendation{ID: id, URL: href})
	})

	doc.Find(".sMemberComment, .commentText").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			series.Comments = append(series.Comments, text)
		}
	})

	logger.Debug("parsed series page", "title", series.Title, "recommendations", len(series.Recommendations), "comments", len(series.Comments))

	return json.Marshal(series)
}
