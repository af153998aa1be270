// Package serper provides a client for the Serper Google search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Serper operations used for screening.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is a single search call.
type SearchRequest struct {
	Query string
	Num   int
	// Sites restricts results to these domains.
	Sites []string
	// After drops results published before this date.
	After time.Time
	GL    string
	HL    string
}

// SearchResponse holds organic web and news hits.
type SearchResponse struct {
	Organic []Result `json:"organic"`
	News    []Result `json:"news"`
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
	Date    string `json:"date,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("serper: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the Serper client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Serper client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://google.serper.dev",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildQuery renders the q parameter: the query text, an OR'd site
// restriction and an after: date filter.
func BuildQuery(req SearchRequest) string {
	parts := []string{strings.TrimSpace(req.Query)}
	switch len(req.Sites) {
	case 0:
	case 1:
		parts = append(parts, "site:"+req.Sites[0])
	default:
		sites := make([]string, len(req.Sites))
		for i, s := range req.Sites {
			sites[i] = "site:" + s
		}
		parts = append(parts, "("+strings.Join(sites, " OR ")+")")
	}
	if !req.After.IsZero() {
		parts = append(parts, "after:"+req.After.Format("2006-01-02"))
	}
	return strings.Join(parts, " ")
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	payload := map[string]any{"q": BuildQuery(req)}
	if req.Num > 0 {
		payload["num"] = req.Num
	}
	if req.GL != "" {
		payload["gl"] = req.GL
	}
	if req.HL != "" {
		payload["hl"] = req.HL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "serper: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.baseURL, "/")+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "serper: create request")
	}
	httpReq.Header.Set("X-API-KEY", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serper: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: msg}
	}

	var out SearchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "serper: unmarshal response")
	}
	return &out, nil
}
