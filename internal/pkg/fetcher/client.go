package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mangaraw/harvester/internal/pkg/retry"
)

// DefaultUserAgents is the pool rotated over when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// ClientConfig configures the HTTP side of a Client.
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgents   []string
	Headers      map[string]string
	MaxIdleConns int
}

// Client is the one HTTP client shared by every worker of a run. Each request
// goes through the rate Limiter and the retry Policy.
type Client struct {
	http       *resty.Client
	policy     retry.Policy
	limiter    retry.Limiter
	userAgents []string
}

// NewClient builds a Client with its own pooled transport.
func NewClient(cfg ClientConfig, policy retry.Policy, limiter retry.Limiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeaders(cfg.Headers)

	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}

	return &Client{
		http:       client,
		policy:     policy,
		limiter:    limiter,
		userAgents: cfg.UserAgents,
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// Request describes one sub-request of a WorkItem.
type Request struct {
	Part    string
	Primary bool
	Method  string // defaults to GET
	URL     string // absolute or relative to the client's base URL
	Query   url.Values
	Body    any // sent as JSON when set
	Headers map[string]string

	// Decode turns a 2xx body into the part payload. It defaults to DecodeJSON.
	// An error makes the part fail as malformed.
	Decode func(body []byte) (json.RawMessage, error)
}

// Do performs the request under the retry policy and returns the resulting Part.
func (c *Client) Do(ctx context.Context, req Request) Part {
	decode := req.Decode
	if decode == nil {
		decode = DecodeJSON
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var payload json.RawMessage
	result := c.policy.Do(ctx, c.limiter, func(ctx context.Context, attempt int) retry.Exchange {
		r := c.http.R().
			SetContext(ctx).
			SetHeader("User-Agent", c.userAgent()).
			SetHeaders(req.Headers)
		if req.Query != nil {
			r.SetQueryParamsFromValues(req.Query)
		}
		if req.Body != nil {
			r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
		}

		resp, err := r.Execute(method, req.URL)
		if err != nil {
			return retry.Exchange{Err: err}
		}

		exchange := retry.Exchange{
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
			RetryAfter: retry.ParseRetryAfter(resp.Header().Get("Retry-After"), time.Now()),
		}

		if resp.IsSuccess() {
			decoded, err := decode(exchange.Body)
			switch {
			case errors.Is(err, retry.ErrRateLimited):
				exchange.Err = err
				return exchange
			case err != nil:
				exchange.Err = fmt.Errorf("%w: %s", retry.ErrMalformed, err)
				return exchange
			}
			payload = decoded
		}

		return exchange
	})

	part := Part{
		Name:    req.Part,
		Primary: req.Primary,
		Result:  result,
	}
	if result.OK() {
		part.Payload = payload
	}

	return part
}

// Get is a shorthand for a GET Request.
func (c *Client) Get(ctx context.Context, part, url string, query url.Values) Part {
	return c.Do(ctx, Request{Part: part, URL: url, Query: query})
}

// PostJSON is a shorthand for a POST Request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, part, url string, body any) Part {
	return c.Do(ctx, Request{Part: part, Method: http.MethodPost, URL: url, Body: body})
}

func (c *Client) userAgent() string {
	return c.userAgents[rand.IntN(len(c.userAgents))]
}

// DecodeJSON accepts any well-formed JSON document as payload.
func DecodeJSON(body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return json.RawMessage(body), nil
}
