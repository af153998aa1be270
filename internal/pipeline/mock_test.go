package pipeline

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/screening-cli/internal/classify"
	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/planner"
	"github.com/sells-group/screening-cli/internal/search"
)

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractCompany(ctx context.Context, e model.Entity, j planner.Jurisdiction, cands []model.Candidate) (*extract.CompanyResult, error) {
	args := m.Called(ctx, e, j, cands)
	res, _ := args.Get(0).(*extract.CompanyResult)
	return res, args.Error(1)
}

func (m *mockExtractor) ExtractExecutives(ctx context.Context, e model.Entity, website string, cands []model.Candidate) (*extract.ExecutivesResult, error) {
	args := m.Called(ctx, e, website, cands)
	res, _ := args.Get(0).(*extract.ExecutivesResult)
	return res, args.Error(1)
}

// --- Classifier Mock ---

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) ClassifyFindings(ctx context.Context, e model.Entity, candidates []model.Candidate) (*classify.FindingsResult, error) {
	args := m.Called(ctx, e, candidates)
	res, _ := args.Get(0).(*classify.FindingsResult)
	return res, args.Error(1)
}

func (m *mockClassifier) ScreenWatchlist(ctx context.Context, e model.Entity, source string, results []model.Candidate) (*classify.MatchesResult, error) {
	args := m.Called(ctx, e, source, results)
	res, _ := args.Get(0).(*classify.MatchesResult)
	return res, args.Error(1)
}

// --- Merger Mock ---

type mockMerger struct {
	mock.Mock
}

func (m *mockMerger) Merge(ctx context.Context, entityID string) (*model.UnifiedRecord, string, error) {
	args := m.Called(ctx, entityID)
	res, _ := args.Get(0).(*model.UnifiedRecord)
	return res, args.String(1), args.Error(2)
}

// fakeProvider answers every query with one hit derived from the query
// text, so every query yields a distinct candidate.
type fakeProvider struct {
	mu       sync.Mutex
	requests []search.Request
	fail     func(search.Request) error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Search(_ context.Context, req search.Request) ([]search.Result, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.fail != nil {
		if err := p.fail(req); err != nil {
			return nil, err
		}
	}
	return []search.Result{{
		URL:     "https://r.example/" + url.PathEscape(strings.ToLower(req.Text)),
		Title:   req.Text,
		Snippet: "Example Corp lawsuit court fraud bankruptcy scandal misconduct investigation penalty",
	}}, nil
}

func blockUntilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}
