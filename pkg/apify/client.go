// Package apify provides a client for the Apify short-form video scraper
// actor.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/trend-curator/internal/resilience"
)

// Mode selects how keywords are interpreted by the actor.
type Mode string

const (
	ModeSearch  Mode = "search"
	ModeHashtag Mode = "hashtag"
)

// Client defines the scraper operations.
type Client interface {
	// Collect runs the actor synchronously and returns the raw dataset items.
	Collect(ctx context.Context, req CollectRequest) ([]Item, error)
}

// CollectRequest is one scrape.
type CollectRequest struct {
	Keywords []string
	Limit    int
	Mode     Mode
}

// Item is one raw dataset record as returned by the actor.
type Item map[string]any

// Option configures the Apify client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithActor sets the actor id, e.g. "clockworks~tiktok-scraper".
func WithActor(actor string) Option {
	return func(c *httpClient) {
		c.actor = actor
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	token   string
	baseURL string
	actor   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Apify client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api.apify.com/v2",
		actor:   "clockworks~tiktok-scraper",
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type actorInput struct {
	SearchQueries        []string `json:"searchQueries,omitempty"`
	Hashtags             []string `json:"hashtags,omitempty"`
	ResultsPerPage       int      `json:"resultsPerPage"`
	SearchSection        string   `json:"searchSection,omitempty"`
	ShouldDownloadVideos bool     `json:"shouldDownloadVideos"`
}

func buildInput(req CollectRequest) actorInput {
	in := actorInput{ResultsPerPage: req.Limit}
	if req.Mode == ModeHashtag {
		tags := make([]string, 0, len(req.Keywords))
		for _, k := range req.Keywords {
			tags = append(tags, strings.TrimPrefix(strings.TrimSpace(k), "#"))
		}
		in.Hashtags = tags
		return in
	}
	in.SearchQueries = req.Keywords
	in.SearchSection = "/video"
	return in
}

func (c *httpClient) Collect(ctx context.Context, req CollectRequest) ([]Item, error) {
	if len(req.Keywords) == 0 {
		return nil, eris.New("apify: at least one keyword is required")
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "apify: rate limit wait")
	}

	payload, err := json.Marshal(buildInput(req))
	if err != nil {
		return nil, eris.Wrap(err, "apify: marshal input")
	}

	reqURL := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s&format=json",
		c.baseURL, url.PathEscape(c.actor), url.QueryEscape(c.token))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "apify: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "apify: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "apify: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := eris.Errorf("apify: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 300))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var items []Item
	if err := dec.Decode(&items); err != nil {
		return nil, eris.Wrap(err, "apify: decode dataset items")
	}
	return items, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
