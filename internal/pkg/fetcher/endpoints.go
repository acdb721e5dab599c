package fetcher

import (
	"context"
	"strings"

	"github.com/mangaraw/harvester/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Endpoint is one sub-resource of an item, addressed by a path template in
// which "{key}" is replaced by the item key.
type Endpoint struct {
	Part     string
	Path     string
	Primary  bool
	PageSize int // paged endpoint when > 0
	MaxPages int
}

func (e Endpoint) url(item models.WorkItem) string {
	return strings.ReplaceAll(e.Path, "{key}", item.Key)
}

// Endpoints is a Fetcher built from a list of endpoint templates. The primary
// endpoint is fetched first; when it exists, the other endpoints are fetched
// in parallel.
type Endpoints struct {
	source    string
	client    *Client
	endpoints []Endpoint
}

// NewEndpoints returns a Fetcher producing records for source.
func NewEndpoints(source string, client *Client, endpoints ...Endpoint) *Endpoints {
	return &Endpoints{
		source:    source,
		client:    client,
		endpoints: endpoints,
	}
}

// Source implements Fetcher.
func (e *Endpoints) Source() string {
	return e.source
}

// Fetch implements Fetcher.
func (e *Endpoints) Fetch(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	parts := make([]Part, 0, len(e.endpoints))
	var secondary []Endpoint

	for _, endpoint := range e.endpoints {
		if !endpoint.Primary {
			secondary = append(secondary, endpoint)
			continue
		}

		part := e.fetch(ctx, item, endpoint)
		parts = append(parts, part)
		if !part.OK() {
			// the item does not exist or is unusable, secondary parts are not worth a request
			return Fold(parts...)
		}
	}

	parts = append(parts, FetchAll(ctx, len(secondary), func(ctx context.Context, i int) Part {
		return e.fetch(ctx, item, secondary[i])
	})...)

	outcome := Fold(parts...)
	logger.Debug("fetched item", "source", e.source, "key", item.Key, "kind", outcome.Kind, "attempts", outcome.Attempts)

	return outcome
}

func (e *Endpoints) fetch(ctx context.Context, item models.WorkItem, endpoint Endpoint) Part {
	var part Part
	if endpoint.PageSize > 0 {
		part = e.client.GetPaged(ctx, PagedRequest{
			Part:     endpoint.Part,
			URL:      endpoint.url(item),
			PageSize: endpoint.PageSize,
			MaxPages: endpoint.MaxPages,
		})
	} else {
		part = e.client.Get(ctx, endpoint.Part, endpoint.url(item), nil)
	}

	part.Primary = endpoint.Primary
	return part
}

// FetchAll runs n part fetches in parallel and returns their parts in order.
func FetchAll(ctx context.Context, n int, fetch func(ctx context.Context, i int) Part) []Part {
	parts := make([]Part, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			parts[i] = fetch(ctx, i)
			return nil
		})
	}
	g.Wait()

	return parts
}
