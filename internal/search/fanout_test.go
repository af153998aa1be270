package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/resilience"
)

// fakeProvider answers by query text. A handler, when set, overrides the
// table.
type fakeProvider struct {
	mu      sync.Mutex
	results map[string][]Result
	errs    map[string]error
	handler func(ctx context.Context, req Request) ([]Result, error)
	calls   atomic.Int64

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Search(ctx context.Context, req Request) ([]Result, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxInFlight.Load()
		if n <= m || p.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if p.handler != nil {
		return p.handler(ctx, req)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[req.Text]; err != nil {
		return nil, err
	}
	return p.results[req.Text], nil
}

func fastPolicy(attempts int) resilience.Policy {
	return resilience.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  1,
	}
}

func TestFanOut_DedupFirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{results: map[string][]Result{
		"q1": {{URL: "https://a", Title: "from q1"}, {URL: "https://b"}},
		"q2": {{URL: "https://a", Title: "from q2"}, {URL: "https://c"}},
	}}
	f := NewFanOut(p, Options{Concurrency: 2, Policy: fastPolicy(1)})

	out := f.Search(context.Background(), []model.SearchQuery{
		{Text: "q1", Category: model.CategoryLegal},
		{Text: "q2", Category: model.CategoryFinancial},
	})
	require.Empty(t, out.Errors)
	require.Len(t, out.Candidates, 3)
	assert.Equal(t, "https://a", out.Candidates[0].SourceURL)
	assert.Equal(t, "from q1", out.Candidates[0].Title)
	assert.Equal(t, model.CategoryLegal, out.Candidates[0].OriginQuery)
	assert.Equal(t, model.CategoryFinancial, out.Candidates[2].OriginQuery)
	assert.Equal(t, 2, out.Queries)
	assert.Equal(t, 2, out.Calls)
}

func TestFanOut_MandatoryDuplicateUpgrades(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{results: map[string][]Result{
		"open":     {{URL: "https://sec.gov/x"}},
		"official": {{URL: "https://sec.gov/x"}},
	}}
	f := NewFanOut(p, Options{Policy: fastPolicy(1)})

	out := f.Search(context.Background(), []model.SearchQuery{
		{Text: "open", Category: model.CategoryProfile},
		{Text: "official", Category: model.CategoryFiling, Mandatory: true, TargetSites: []string{"sec.gov"}},
	})
	require.Len(t, out.Candidates, 1)
	assert.True(t, out.Candidates[0].Mandatory)
	assert.Equal(t, model.CategoryProfile, out.Candidates[0].OriginQuery)
}

func TestFanOut_PartialFailure(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		results: map[string][]Result{"ok": {{URL: "https://ok"}}},
		errs:    map[string]error{"bad": errors.New("serper: unexpected status 401: unauthorized")},
	}
	f := NewFanOut(p, Options{Policy: fastPolicy(3)})

	out := f.Search(context.Background(), []model.SearchQuery{{Text: "ok"}, {Text: "bad"}})
	require.Len(t, out.Candidates, 1)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "bad", out.Errors[0].Query.Text)
	assert.Contains(t, out.Errors[0].Error(), "401")
	// Non-transient errors are not retried.
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestFanOut_PerQueryTimeout(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{handler: func(ctx context.Context, req Request) ([]Result, error) {
		if req.Text == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []Result{{URL: "https://" + req.Text}}, nil
	}}
	f := NewFanOut(p, Options{QueryTimeout: 30 * time.Millisecond, Policy: fastPolicy(2)})

	start := time.Now()
	out := f.Search(context.Background(), []model.SearchQuery{{Text: "fast"}, {Text: "slow"}, {Text: "other"}})
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, out.Candidates, 2)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0].Err.Error(), "deadline exceeded")
	// A timed-out attempt is retried once.
	assert.Equal(t, 4, out.Calls)
}

func TestFanOut_RetriesTransient(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	p := &fakeProvider{handler: func(_ context.Context, _ Request) ([]Result, error) {
		if attempts.Add(1) == 1 {
			return nil, resilience.NewTransientError(errors.New("rate limited"), 429)
		}
		return []Result{{URL: "https://a"}}, nil
	}}
	f := NewFanOut(p, Options{Policy: fastPolicy(3)})

	out := f.Search(context.Background(), []model.SearchQuery{{Text: "q"}})
	require.Empty(t, out.Errors)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, 2, out.Calls)
}

func TestFanOut_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{handler: func(_ context.Context, req Request) ([]Result, error) {
		time.Sleep(5 * time.Millisecond)
		return []Result{{URL: "https://" + req.Text}}, nil
	}}
	f := NewFanOut(p, Options{Concurrency: 3, Policy: fastPolicy(1)})

	qs := make([]model.SearchQuery, 20)
	for i := range qs {
		qs[i] = model.SearchQuery{Text: fmt.Sprintf("q%d", i)}
	}
	out := f.Search(context.Background(), qs)
	assert.Len(t, out.Candidates, 20)
	assert.LessOrEqual(t, p.maxInFlight.Load(), int64(3))
}

func TestFanOut_CallOptions(t *testing.T) {
	t.Parallel()

	var got Request
	var mu sync.Mutex
	p := &fakeProvider{handler: func(_ context.Context, req Request) ([]Result, error) {
		mu.Lock()
		got = req
		mu.Unlock()
		return nil, nil
	}}
	f := NewFanOut(p, Options{Num: 20, RecencyDays: 365, Policy: fastPolicy(1)})

	f.Search(context.Background(), []model.SearchQuery{{Text: "q", TargetSites: []string{"un.org"}}}, WithNum(5), WithRecency(0))
	assert.Equal(t, 5, got.Num)
	assert.Zero(t, got.RecencyDays)
	assert.Equal(t, []string{"un.org"}, got.SiteFilters)
}

func TestFanOut_CanceledContext(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{handler: func(ctx context.Context, _ Request) ([]Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := NewFanOut(p, Options{QueryTimeout: time.Minute, Policy: fastPolicy(3)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := f.Search(ctx, []model.SearchQuery{{Text: "a"}, {Text: "b"}})
	assert.Len(t, out.Errors, 2)
	assert.Equal(t, 2, out.Calls)
}

// Every URL appears exactly once however often queries repeat it.
func TestFanOut_DedupProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for iter := 0; iter < 50; iter++ {
		results := map[string][]Result{}
		var qs []model.SearchQuery
		for q := 0; q < 1+rng.IntN(6); q++ {
			text := fmt.Sprintf("q%d", q)
			qs = append(qs, model.SearchQuery{Text: text, Mandatory: rng.IntN(2) == 0})
			for r := 0; r < rng.IntN(8); r++ {
				results[text] = append(results[text], Result{URL: fmt.Sprintf("https://u/%d", rng.IntN(5))})
			}
		}
		f := NewFanOut(&fakeProvider{results: results}, Options{Policy: fastPolicy(1)})
		out := f.Search(context.Background(), qs)

		seen := map[string]bool{}
		want := map[string]bool{}
		wantMandatory := map[string]bool{}
		for _, q := range qs {
			for _, r := range results[q.Text] {
				want[r.URL] = true
				if q.Mandatory {
					wantMandatory[r.URL] = true
				}
			}
		}
		for _, c := range out.Candidates {
			require.False(t, seen[c.SourceURL], "duplicate %s", c.SourceURL)
			seen[c.SourceURL] = true
			assert.Equal(t, wantMandatory[c.SourceURL], c.Mandatory)
		}
		assert.Equal(t, len(want), len(seen))
	}
}

func TestProviderError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, providerError(nil))
	assert.False(t, resilience.IsTransient(providerError(context.Canceled)))
	assert.True(t, resilience.IsTransient(providerError(errors.New("serper: unmarshal response"))))
}
