// Package search fans planned queries out to a web search provider and
// collects deduplicated candidates.
package search

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/pkg/jina"
	"github.com/sells-group/screening-cli/pkg/serper"
)

// Request is one provider call.
type Request struct {
	Text        string   `json:"text"`
	SiteFilters []string `json:"site_filters,omitempty"`
	Num         int      `json:"num,omitempty"`
	RecencyDays int      `json:"recency_days,omitempty"`
}

// Result is a raw search hit.
type Result struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
}

// Provider executes a single search.
type Provider interface {
	Name() string
	Search(ctx context.Context, req Request) ([]Result, error)
}

// providerError marks retryable provider failures as transient. Status
// errors are judged by code; transport and decode failures are always
// retryable; cancellation never is.
func providerError(err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var se *serper.APIError
	var je *jina.APIError
	switch {
	case errors.As(err, &se):
		status = se.StatusCode
	case errors.As(err, &je):
		status = je.StatusCode
	}
	if status != 0 {
		if resilience.IsTransientHTTPStatus(status) {
			return resilience.NewTransientError(err, status)
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return resilience.NewTransientError(err, 0)
}
