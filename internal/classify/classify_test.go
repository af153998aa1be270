package classify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/cost"
	"github.com/sells-group/screening-cli/internal/metrics"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/pkg/anthropic"
	"github.com/sells-group/screening-cli/pkg/anthropic/mocks"
)

var (
	fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	acme     = model.NewEntity("Acme Corp", model.EntityCompany, "")
)

func newTestClassifier(client anthropic.Client, mutate ...func(*Options)) *Classifier {
	opts := Options{
		Model:              "claude-haiku-4-5-20251001",
		BatchSize:          10,
		MaxBatchChars:      100000,
		MaxReparseAttempts: 1,
		MinConfidence:      0.7,
		Concurrency:        1,
		Buckets:            Buckets{High: 0.8, Medium: 0.5},
		Categories:         []model.Category{model.CategoryLegal, model.CategoryFinancial},
		Policy:             resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Now:                func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(client, opts)
}

func candidates(n int) []model.Candidate {
	out := make([]model.Candidate, n)
	for i := range out {
		out[i] = model.Candidate{
			SourceURL:   "https://news.example/" + string(rune('a'+i)),
			Title:       "Acme item " + string(rune('A'+i)),
			Snippet:     "Acme Corp was sued",
			OriginQuery: model.CategoryLegal,
		}
	}
	return out
}

func TestClassifyFindings_AttachesCandidateFields(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.System[0].Text, "Legal, Financial") &&
			strings.Contains(req.Messages[0].Content, "[1]") &&
			strings.Contains(req.Messages[0].Content, "Entity: Acme Corp")
	})).Return(mocks.TextResponse(`[{"index": 1, "category": "legal", "severity_score": 0.75, "confidence_score": 0.9, "description": " Sued by regulator. ", "source_url": "https://fabricated.example"}]`), nil).Once()

	pub := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	cands := candidates(2)
	cands[1].PublishedDate = &pub

	res, err := newTestClassifier(client).ClassifyFindings(t.Context(), acme, cands)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)

	f := res.Findings[0]
	assert.Equal(t, "https://news.example/b", f.SourceURL)
	assert.Equal(t, model.CategoryLegal, f.Category)
	assert.Equal(t, model.SeverityHigh, f.SeverityLevel)
	assert.Equal(t, "acme_corp", f.EntityID)
	assert.Equal(t, "Sued by regulator.", f.Description)
	assert.Equal(t, fixedNow, f.ExtractedAt)
	assert.Equal(t, &pub, f.PublishedDate)
	assert.Equal(t, 1, res.Usage.Calls)
	assert.Equal(t, int64(100), res.Usage.InputTokens)
}

func TestClassifyFindings_DropsInvalid(t *testing.T) {
	t.Parallel()

	m := metrics.NewManager()
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`[
		{"index": 0, "category": "Legal", "severity_score": 0.5, "confidence_score": 0.95},
		{"index": 7, "category": "Legal", "severity_score": 0.5, "confidence_score": 0.95},
		{"category": "Legal", "severity_score": 0.5, "confidence_score": 0.95},
		{"index": 1, "category": "Legal", "severity_score": 1.5, "confidence_score": 0.95},
		{"index": 1, "category": "Legal", "confidence_score": 0.95},
		{"index": 2, "category": "Weather", "severity_score": 0.5, "confidence_score": 0.95},
		{"index": 2, "category": "Financial", "severity_score": 0.5, "confidence_score": 0.4}
	]`), nil).Once()

	classifier := newTestClassifier(client, func(o *Options) { o.Metrics = m })
	res, err := classifier.ClassifyFindings(t.Context(), acme, candidates(3))
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "https://news.example/a", res.Findings[0].SourceURL)
	assert.Equal(t, 6, res.Usage.Dropped)

	counts := droppedCounts(t, m)
	assert.InDelta(t, 2, counts[ReasonBadIndex], 0)
	assert.InDelta(t, 2, counts[ReasonScoreRange], 0)
	assert.InDelta(t, 1, counts[ReasonUnknownCategory], 0)
	assert.InDelta(t, 1, counts[ReasonBelowConfidence], 0)
}

func TestClassifyFindings_EveryFindingValid(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`[
		{"index": 0, "category": "Legal", "severity_score": 0.2, "confidence_score": 0.8},
		{"index": 1, "category": "Financial", "severity_score": 0.95, "confidence_score": 1.0},
		{"index": 2, "category": "Legal", "severity_score": -0.1, "confidence_score": 0.8}
	]`), nil).Once()

	cands := candidates(3)
	cands[1].SourceURL = "  "
	res, err := newTestClassifier(client).ClassifyFindings(t.Context(), acme, cands)
	require.NoError(t, err)
	for _, f := range res.Findings {
		assert.NoError(t, f.Validate())
	}
	assert.Len(t, res.Findings, 1)
}

func TestClassifyFindings_RecoversFencedAndTruncated(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse("Here you go:\n```json\n"+
		`[{"index": 0, "category": "Legal", "severity_score": 0.6, "confidence_score": 0.9}, {"index": 1, "category": "Leg`), nil).Once()

	res, err := newTestClassifier(client).ClassifyFindings(t.Context(), acme, candidates(2))
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "https://news.example/a", res.Findings[0].SourceURL)
}

func TestClassifyFindings_ObjectWrapper(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(
		`{"findings": [{"index": 0, "category": "Legal", "severity_score": 0.6, "confidence_score": 0.9}]}`), nil).Once()

	res, err := newTestClassifier(client).ClassifyFindings(t.Context(), acme, candidates(1))
	require.NoError(t, err)
	assert.Len(t, res.Findings, 1)
}

func TestClassifyFindings_ReparsesMalformed(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1
	})).Return(mocks.TextResponse("I could not find anything worth flagging."), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 3 && req.Messages[1].Role == "assistant" && req.Messages[2].Content == reparsePrompt
	})).Return(mocks.TextResponse(`[]`), nil).Once()

	res, err := newTestClassifier(client).ClassifyFindings(t.Context(), acme, candidates(2))
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 2, res.Usage.Calls)
	assert.Equal(t, int64(200), res.Usage.InputTokens)
}

func TestClassifyFindings_MalformedFailsOnlyThatBatch(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse("nope"), nil).Twice()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(
		`[{"index": 0, "category": "Legal", "severity_score": 0.6, "confidence_score": 0.9}]`), nil).Once()

	classifier := newTestClassifier(client, func(o *Options) { o.BatchSize = 1 })
	res, err := classifier.ClassifyFindings(t.Context(), acme, candidates(2))
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "https://news.example/b", res.Findings[0].SourceURL)
	assert.Equal(t, 2, res.Usage.Batches)
	assert.Equal(t, 1, res.Usage.FailedBatches)
}

func TestClassifyFindings_AllBatchesFail(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse("still prose"), nil)

	classifier := newTestClassifier(client, func(o *Options) { o.MaxReparseAttempts = 2 })
	res, err := classifier.ClassifyFindings(t.Context(), acme, candidates(1))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 3, res.Usage.Calls)
}

func TestClassifyFindings_RetriesOverloaded(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, &anthropic.APIError{StatusCode: 529, Message: "overloaded"}).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`[]`), nil).Once()

	res, err := newTestClassifier(client).ClassifyFindings(t.Context(), acme, candidates(1))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Usage.Calls)
}

func TestClassifyFindings_NoRetryOnBadRequest(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, &anthropic.APIError{StatusCode: 400, Message: "bad"}).Once()

	res, err := newTestClassifier(client).ClassifyFindings(t.Context(), acme, candidates(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, 1, res.Usage.Calls)
}

func TestClassifyFindings_Empty(t *testing.T) {
	t.Parallel()

	res, err := newTestClassifier(mocks.NewMockClient(t)).ClassifyFindings(t.Context(), acme, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
}

func TestClassifyFindings_Cost(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`[]`), nil).Once()

	classifier := newTestClassifier(client, func(o *Options) { o.Cost = cost.NewCalculator(cost.DefaultRates()) })
	res, err := classifier.ClassifyFindings(t.Context(), acme, candidates(1))
	require.NoError(t, err)
	// 100 input and 20 output tokens at haiku rates.
	assert.InDelta(t, 0.00016, res.Usage.CostUSD, 1e-9)
}

func TestBatches(t *testing.T) {
	t.Parallel()

	items := []string{"aaaa", "bb", "cccccccccc", "d", "e", "f"}
	tests := []struct {
		name     string
		size     int
		maxChars int
		want     [][]int
	}{
		{"by count", 2, 1000, [][]int{{0, 1}, {2, 3}, {4, 5}}},
		{"by chars", 10, 8, [][]int{{0, 1}, {2}, {3, 4, 5}}},
		{"oversized alone", 10, 5, [][]int{{0}, {1}, {2}, {3, 4, 5}}},
		{"single", 100, 1000, [][]int{{0, 1, 2, 3, 4, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, batches(items, tt.size, tt.maxChars))
		})
	}
	assert.Nil(t, batches(nil, 3, 10))
}

func droppedCounts(t *testing.T, m *metrics.Manager) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "screening_classifier_dropped_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			var reason string
			for _, l := range metric.GetLabel() {
				if l.GetName() == "reason" {
					reason = l.GetValue()
				}
			}
			out[reason] += metric.GetCounter().GetValue()
		}
	}
	return out
}
