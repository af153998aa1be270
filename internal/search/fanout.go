package search

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screening-cli/internal/metrics"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/resilience"
)

// QueryError records one failed query. It never aborts sibling queries.
type QueryError struct {
	Query model.SearchQuery
	Err   error
}

func (e QueryError) Error() string {
	return "search: query " + strings.TrimSpace(e.Query.Text) + ": " + e.Err.Error()
}

// Outcome is the union of every successful query plus the per-query
// failures.
type Outcome struct {
	Candidates []model.Candidate
	Errors     []QueryError
	// Queries is the number of queries planned; Calls counts provider
	// attempts including retries.
	Queries int
	Calls   int
}

// Options configures a FanOut.
type Options struct {
	Concurrency  int
	QueryTimeout time.Duration
	Num          int
	RecencyDays  int
	// RequestsPerSecond bounds provider calls; 0 disables limiting.
	RequestsPerSecond float64
	Policy            resilience.Policy
	Metrics           *metrics.Manager
}

// FanOut runs queries concurrently against one provider.
type FanOut struct {
	provider Provider
	opts     Options
	limiter  *AdaptiveLimiter
}

// NewFanOut creates a FanOut. Zero options take the defaults: width 5,
// 10s per query, 10 results.
func NewFanOut(provider Provider, opts Options) *FanOut {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.Num <= 0 {
		opts.Num = 10
	}
	f := &FanOut{provider: provider, opts: opts}
	if opts.RequestsPerSecond > 0 {
		f.limiter = NewAdaptiveLimiter(opts.RequestsPerSecond, int(opts.RequestsPerSecond))
	}
	return f
}

// Provider returns the underlying provider name.
func (f *FanOut) Provider() string { return f.provider.Name() }

// CallOption adjusts a single Search invocation.
type CallOption func(*callOpts)

type callOpts struct {
	num         int
	recencyDays int
}

// WithNum overrides the result count for this call.
func WithNum(n int) CallOption {
	return func(o *callOpts) { o.num = n }
}

// WithRecency overrides the recency window for this call. 0 disables it.
func WithRecency(days int) CallOption {
	return func(o *callOpts) { o.recencyDays = days }
}

// Search executes every query and returns candidates deduplicated by
// source URL. Duplicates resolve to the first occurrence in query order; a
// mandatory duplicate upgrades the kept candidate to mandatory.
func (f *FanOut) Search(ctx context.Context, queries []model.SearchQuery, opts ...CallOption) Outcome {
	co := callOpts{num: f.opts.Num, recencyDays: f.opts.RecencyDays}
	for _, o := range opts {
		o(&co)
	}

	results := make([][]Result, len(queries))
	errs := make([]error, len(queries))
	var calls atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(f.opts.Concurrency)
	for i, q := range queries {
		g.Go(func() error {
			req := Request{Text: q.Text, SiteFilters: q.TargetSites, Num: co.num, RecencyDays: co.recencyDays}
			res, err := f.searchOne(ctx, req, &calls)
			if err != nil {
				errs[i] = err
				f.opts.Metrics.SearchQuery(f.provider.Name(), "error")
				zap.L().Warn("search: query failed",
					zap.String("provider", f.provider.Name()),
					zap.String("category", string(q.Category)),
					zap.String("query", q.Text),
					zap.Error(err),
				)
				return nil
			}
			results[i] = res
			f.opts.Metrics.SearchQuery(f.provider.Name(), "ok")
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Queries: len(queries), Calls: int(calls.Load())}
	index := make(map[string]int)
	for i, q := range queries {
		if errs[i] != nil {
			out.Errors = append(out.Errors, QueryError{Query: q, Err: errs[i]})
			continue
		}
		for _, r := range results[i] {
			url := strings.TrimSpace(r.URL)
			if url == "" {
				continue
			}
			if at, ok := index[url]; ok {
				if q.Mandatory {
					out.Candidates[at].Mandatory = true
				}
				continue
			}
			index[url] = len(out.Candidates)
			out.Candidates = append(out.Candidates, model.Candidate{
				SourceURL:     url,
				Title:         r.Title,
				Snippet:       r.Snippet,
				PublishedDate: r.PublishedDate,
				OriginQuery:   q.Category,
				Mandatory:     q.Mandatory,
				Source:        q.Source,
			})
		}
	}
	return out
}

// searchOne runs one query under the retry policy. Each attempt gets its
// own timeout; ctx bounds the whole sequence.
func (f *FanOut) searchOne(ctx context.Context, req Request, calls *atomic.Int64) ([]Result, error) {
	res, err := resilience.DoVal(ctx, f.opts.Policy, func(ctx context.Context) ([]Result, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		calls.Add(1)

		qctx, cancel := context.WithTimeout(ctx, f.opts.QueryTimeout)
		defer cancel()
		res, err := f.provider.Search(qctx, req)
		if f.limiter != nil {
			f.limiter.Observe(err)
		}
		if err != nil && ctx.Err() == nil && qctx.Err() == context.DeadlineExceeded {
			return nil, resilience.NewTransientError(err, 0)
		}
		return res, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "search: %s", f.provider.Name())
	}
	return res, nil
}
