package fetcher

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// PagedRequest describes a sub-resource served as numbered pages of
// {"data": [...]} documents.
type PagedRequest struct {
	Part      string
	URL       string
	Query     url.Values
	PageParam string // defaults to "page"
	PageSize  int    // a page shorter than this is the last one
	MaxPages  int    // 0 means no limit
}

type dataPage struct {
	Data []json.RawMessage `json:"data"`
}

func decodeDataPage(body []byte) (json.RawMessage, error) {
	var page dataPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	return body, nil
}

// GetPaged fetches pages starting at 1 until a short or empty page, MaxPages,
// or a not-found page, and concatenates their data arrays into the part payload.
// A failing page fails the whole part.
func (c *Client) GetPaged(ctx context.Context, req PagedRequest) Part {
	pageParam := req.PageParam
	if pageParam == "" {
		pageParam = "page"
	}

	var (
		items    = []json.RawMessage{}
		attempts int
		lastOK   Part
	)

	for page := 1; req.MaxPages <= 0 || page <= req.MaxPages; page++ {
		query := url.Values{}
		for k, v := range req.Query {
			query[k] = v
		}
		query.Set(pageParam, strconv.Itoa(page))

		part := c.Do(ctx, Request{
			Part:   req.Part,
			URL:    req.URL,
			Query:  query,
			Decode: decodeDataPage,
		})
		attempts += part.Result.Attempts

		// a missing page after the first one only marks the end of the data
		if part.Empty() && page > 1 {
			break
		}
		if !part.OK() {
			part.Result.Attempts = attempts
			return part
		}
		lastOK = part

		var decoded dataPage
		if err := json.Unmarshal(part.Payload, &decoded); err != nil {
			return part
		}
		items = append(items, decoded.Data...)

		if len(decoded.Data) < req.PageSize || len(decoded.Data) == 0 {
			break
		}
	}

	payload, err := json.Marshal(items)
	if err != nil {
		payload = []byte("[]")
	}

	logger.Debug("fetched paged part", "part", req.Part, "items", len(items), "attempts", attempts)

	lastOK.Payload = payload
	lastOK.Result.Body = nil
	lastOK.Result.Attempts = attempts

	return lastOK
}
