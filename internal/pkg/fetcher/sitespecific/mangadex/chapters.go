package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/mangaraw/harvester/internal/pkg/fetcher"
	"github.com/mangaraw/harvester/internal/pkg/retry"
	"github.com/mangaraw/harvester/pkg/models"
)

const (
	MaxBatchSize = 100
	MinBatchSize = 10
)

type chapterPage struct {
	Result string            `json:"result"`
	Data   []json.RawMessage `json:"data"`
	Total  int               `json:"total"`
}

func decodeChapterPage(body []byte) (json.RawMessage, error) {
	var page chapterPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	if page.Result != "ok" {
		return nil, fmt.Errorf("unexpected result %q", page.Result)
	}
	return body, nil
}

// Chapters fetches the chapter feed of a manga with limit/offset pagination.
// The page size adapts: it is halved whenever the API rejects a page with
// HTTP 400, down to MinBatchSize. It is shared by all workers and survives
// restarts through the checkpoint.
type Chapters struct {
	client      *fetcher.Client
	base        string
	languages   []string
	maxChapters int

	mu        sync.Mutex
	batchSize int
}

// NewChapters returns the fetcher of the chapters phase. An empty languages
// list fetches every translation; maxChapters 0 fetches the whole feed.
func NewChapters(client *fetcher.Client, base string, languages []string, maxChapters int) *Chapters {
	return &Chapters{
		client:      client,
		base:        baseURL(base),
		languages:   languages,
		maxChapters: maxChapters,
		batchSize:   MaxBatchSize,
	}
}

// Source implements fetcher.Fetcher.
func (c *Chapters) Source() string {
	return ChaptersSource
}

// BatchSize returns the current page size.
func (c *Chapters) BatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchSize
}

// SaveState implements fetcher.Stateful.
func (c *Chapters) SaveState() (int, map[string]string) {
	return c.BatchSize(), nil
}

// RestoreState implements fetcher.Stateful.
func (c *Chapters) RestoreState(batchSize int, _ map[string]string) {
	if batchSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchSize = min(max(batchSize, MinBatchSize), MaxBatchSize)
}

// shrink halves the page size when it is still the one that was rejected.
// It returns false once the floor is reached.
func (c *Chapters) shrink(rejected int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.batchSize < rejected {
		return true
	}
	if c.batchSize <= MinBatchSize {
		return false
	}

	c.batchSize = max(c.batchSize/2, MinBatchSize)
	logger.Warn("page rejected, reducing batch size", "rejected", rejected, "batch_size", c.batchSize)

	return true
}

// Fetch implements fetcher.Fetcher.
func (c *Chapters) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	if !validKey(item) {
		return invalidKey(item)
	}

	var (
		chapters = []json.RawMessage{}
		total    int
		attempts int
		offset   int
		status   int
	)

	for {
		limit := c.BatchSize()
		query := url.Values{
			"manga":          []string{item.Key},
			"limit":          []string{strconv.Itoa(limit)},
			"offset":         []string{strconv.Itoa(offset)},
			"order[chapter]": []string{"asc"},
		}
		for _, lang := range c.languages {
			query.Add("translatedLanguage[]", lang)
		}

		part := c.client.Do(ctx, fetcher.Request{
			Part:    "chapters",
			Primary: true,
			URL:     c.base + "/chapter",
			Query:   query,
			Decode:  decodeChapterPage,
		})
		attempts += part.Result.Attempts
		part.Result.Attempts = attempts

		if part.Result.Class == retry.ClassFatal && part.Result.StatusCode == http.StatusBadRequest && c.shrink(limit) {
			continue
		}
		if !part.OK() {
			return fetcher.Fold(part)
		}

		var page chapterPage
		if err := json.Unmarshal(part.Payload, &page); err != nil {
			part.Result.Class = retry.ClassFatal
			part.Result.Kind = models.ErrKindMalformed
			return fetcher.Fold(part)
		}

		status = part.Result.StatusCode
		total = page.Total
		chapters = append(chapters, page.Data...)
		offset += len(page.Data)

		if len(page.Data) == 0 || offset >= total || (c.maxChapters > 0 && len(chapters) >= c.maxChapters) {
			break
		}
	}

	if c.maxChapters > 0 && len(chapters) > c.maxChapters {
		chapters = chapters[:c.maxChapters]
	}

	payload, err := json.Marshal(map[string]any{
		"total":    total,
		"chapters": chapters,
	})
	if err != nil {
		return models.NewFatalOutcome(models.ErrKindMalformed, err.Error())
	}

	return fetcher.Fold(fetcher.Part{
		Name:    "chapters",
		Primary: true,
		Payload: payload,
		Result: retry.Result{
			Class:      retry.ClassOK,
			StatusCode: status,
			Attempts:   attempts,
		},
	})
}
