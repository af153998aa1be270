package search

import (
	"context"
	"time"

	"github.com/sells-group/screening-cli/pkg/serper"
)

// SerperProvider adapts the Serper client. News and organic hits are
// merged, organic first.
type SerperProvider struct {
	client serper.Client
	now    func() time.Time
}

// NewSerperProvider wraps a Serper client.
func NewSerperProvider(client serper.Client) *SerperProvider {
	return &SerperProvider{client: client, now: time.Now}
}

// Name returns the provider name.
func (p *SerperProvider) Name() string { return "serper" }

// Search runs one query.
func (p *SerperProvider) Search(ctx context.Context, req Request) ([]Result, error) {
	sr := serper.SearchRequest{
		Query: req.Text,
		Num:   req.Num,
		Sites: req.SiteFilters,
		GL:    "us",
		HL:    "en",
	}
	now := p.now()
	if req.RecencyDays > 0 {
		sr.After = now.AddDate(0, 0, -req.RecencyDays)
	}

	resp, err := p.client.Search(ctx, sr)
	if err != nil {
		return nil, providerError(err)
	}

	out := make([]Result, 0, len(resp.Organic)+len(resp.News))
	for _, group := range [][]serper.Result{resp.Organic, resp.News} {
		for _, r := range group {
			out = append(out, Result{
				URL:           r.Link,
				Title:         r.Title,
				Snippet:       r.Snippet,
				PublishedDate: ParseDate(r.Date, now),
			})
		}
	}
	return out, nil
}
