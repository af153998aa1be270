package search

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sells-group/screening-cli/pkg/jina"
)

// JinaProvider adapts the Jina search client. Jina has no date filter, so
// RecencyDays is applied to results that carry a date.
type JinaProvider struct {
	client jina.Client
	now    func() time.Time
}

// NewJinaProvider wraps a Jina client.
func NewJinaProvider(client jina.Client) *JinaProvider {
	return &JinaProvider{client: client, now: time.Now}
}

// Name returns the provider name.
func (p *JinaProvider) Name() string { return "jina" }

// Search runs one query.
func (p *JinaProvider) Search(ctx context.Context, req Request) ([]Result, error) {
	var opts []jina.SearchOption
	if req.Num > 0 {
		opts = append(opts, jina.WithNum(req.Num))
	}
	if len(req.SiteFilters) > 0 {
		opts = append(opts, jina.WithSites(req.SiteFilters...))
	}

	resp, err := p.client.Search(ctx, req.Text, opts...)
	if err != nil {
		return nil, providerError(err)
	}

	now := p.now()
	var cutoff time.Time
	if req.RecencyDays > 0 {
		cutoff = now.AddDate(0, 0, -req.RecencyDays)
	}

	out := make([]Result, 0, len(resp.Data))
	for _, r := range resp.Data {
		published := ParseDate(r.Date, now)
		if published != nil && !cutoff.IsZero() && published.Before(cutoff) {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = truncate(r.Content, 500)
		}
		out = append(out, Result{
			URL:           r.URL,
			Title:         r.Title,
			Snippet:       snippet,
			PublishedDate: published,
		})
	}
	return out, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
