// Package jina provides a client for the Jina AI reader and search API.
package jina

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/resilience"
)

// Client defines the Jina AI Reader operations.
type Client interface {
	// Read fetches a URL via Jina AI Reader and returns the markdown content.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	// Search performs a web search via Jina AI Search and returns results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the parsed Jina API response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the content from Jina.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage tracks token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the parsed Jina Search API response.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	siteFilter string
	count      int
}

// WithSiteFilter restricts search results to a specific domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) {
		o.siteFilter = domain
	}
}

// WithCount caps the number of results returned.
func WithCount(n int) SearchOption {
	return func(o *searchOpts) {
		o.count = n
	}
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithSearchBaseURL sets a custom search base URL (for testing).
func WithSearchBaseURL(url string) Option {
	return func(c *httpClient) {
		c.searchBaseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithReaderTimeout asks the reader to give up on slow pages after d.
func WithReaderTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.readerTimeout = d
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	searchBaseURL string
	readerTimeout time.Duration
	http          *http.Client
	retry         resilience.RetryPolicy
}

// NewClient creates a new Jina AI Reader client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://r.jina.ai",
		searchBaseURL: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.RetryPolicy{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 8 * time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// reply is one HTTP exchange with the reader or search endpoint.
type reply struct {
	status int
	body   []byte
}

// snippet trims a response body for inclusion in an error message.
func (r reply) snippet() string {
	const limit = 256
	if len(r.body) > limit {
		return string(r.body[:limit]) + "..."
	}
	return string(r.body)
}

// get issues an authenticated GET and retries transient failures. A
// retryable status that survives every attempt is handed back as a reply
// so the caller decides how to report it.
func (c *httpClient) get(ctx context.Context, op, reqURL string, header http.Header) (reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return reply{}, eris.Wrapf(err, "jina: build %s request", op)
	}
	req.Header = header.Clone()
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	policy := c.retry
	policy.OnRetry = resilience.LogRetry("jina", op)

	var final reply
	_, err = resilience.DoVal(ctx, policy, func(ctx context.Context) (struct{}, error) {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			return struct{}{}, resilience.Transient(err, 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, eris.Wrapf(err, "jina: read %s body", op)
		}
		final = reply{status: resp.StatusCode, body: body}
		if resilience.IsTransientStatus(resp.StatusCode) {
			return struct{}{}, resilience.Transient(eris.Errorf("jina: %s status %d", op, resp.StatusCode), resp.StatusCode)
		}
		return struct{}{}, nil
	})
	var te *resilience.TransientError
	switch {
	case err == nil:
		return final, nil
	case errors.As(err, &te) && te.StatusCode != 0:
		return final, nil
	default:
		return reply{}, eris.Wrapf(err, "jina: %s request failed", op)
	}
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	h := http.Header{}
	h.Set("X-Return-Format", "markdown")
	if c.readerTimeout > 0 {
		h.Set("X-Timeout", strconv.Itoa(int(c.readerTimeout.Seconds())))
	}

	rep, err := c.get(ctx, "read", c.baseURL+"/"+targetURL, h)
	if err != nil {
		return nil, err
	}
	if rep.status != http.StatusOK {
		err := eris.Errorf("jina: read %s: status %d: %s", targetURL, rep.status, rep.snippet())
		if resilience.IsTransientStatus(rep.status) {
			return nil, resilience.Transient(err, rep.status)
		}
		return nil, err
	}

	out := &ReadResponse{}
	if err := json.Unmarshal(rep.body, out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal read response")
	}
	return out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := searchOpts{}
	for _, opt := range opts {
		opt(&so)
	}

	q := url.Values{}
	if so.siteFilter != "" {
		q.Set("site", so.siteFilter)
	}
	if so.count > 0 {
		q.Set("count", strconv.Itoa(so.count))
	}
	reqURL := c.searchBaseURL + "/" + url.QueryEscape(query)
	if enc := q.Encode(); enc != "" {
		reqURL += "?" + enc
	}

	rep, err := c.get(ctx, "search", reqURL, http.Header{})
	if err != nil {
		return nil, err
	}
	switch rep.status {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		// No results for the query.
		return &SearchResponse{Code: http.StatusUnprocessableEntity}, nil
	default:
		return nil, eris.Errorf("jina: search %q: status %d: %s", query, rep.status, rep.snippet())
	}

	out := &SearchResponse{}
	if err := json.Unmarshal(rep.body, out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}
	return out, nil
}
