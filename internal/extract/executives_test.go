package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/pkg/anthropic"
	"github.com/sells-group/screening-cli/pkg/anthropic/mocks"
	"github.com/sells-group/screening-cli/pkg/jina"
)

func leadershipCandidates() []model.Candidate {
	return []model.Candidate{
		{SourceURL: "https://example.com/leadership", Title: "Leadership | Example Corp", Snippet: "Meet our team", OriginQuery: model.CategoryLeadership},
		{SourceURL: "https://news.example/cfo", Title: "Example Corp names new CFO", Snippet: "John Roe joins", OriginQuery: model.CategoryLeadership},
	}
}

func fullExecutive(name, title, role string) string {
	return `{"name": "` + name + `", "title": "` + title + `", "role_category": "` + role + `",
		"description": "Leads the company.", "tenure": "Since 2019", "background": "Engineer",
		"education": "MIT", "source_url": "https://example.com/leadership"}`
}

func TestExtractExecutives_CleansDedupsAndOrders(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "Website: https://example.com")
	})).Return(mocks.TextResponse(`{"executives": [
		{"name": "John Roe", "title": "Chief Financial Officer", "role_category": "finance", "source_url": "https://fabricated.example/x"},
		`+fullExecutive("Jane Doe", "Chief Executive Officer", "CEO")+`,
		{"name": " jane doe ", "title": "CEO", "role_category": "CEO"},
		{"name": "", "title": "Chief Technology Officer"},
		{"name": "President", "title": "President"},
		{"name": "Ann Poe", "title": "Founder & Chief Technology Officer", "previous_roles": ["Not specified", "Staff Engineer"], "source_url": "https://news.example/cfo"}
	]}`), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`[]`), nil).Twice()

	res, err := newTestExtractor(client).ExtractExecutives(t.Context(), example, "https://example.com", leadershipCandidates())
	require.NoError(t, err)
	require.Len(t, res.Executives, 3)

	assert.Equal(t, "Jane Doe", res.Executives[0].Name)
	assert.Equal(t, RoleCEO, res.Executives[0].RoleCategory)
	assert.Equal(t, "https://example.com/leadership", res.Executives[0].SourceURL)

	assert.Equal(t, "John Roe", res.Executives[1].Name)
	assert.Equal(t, RoleCFO, res.Executives[1].RoleCategory)
	assert.Empty(t, res.Executives[1].SourceURL)

	assert.Equal(t, "Ann Poe", res.Executives[2].Name)
	assert.Equal(t, RoleCTO, res.Executives[2].RoleCategory)
	assert.Equal(t, []string{"Staff Engineer"}, res.Executives[2].PreviousRoles)

	// Later attempts found nobody, so the first list is kept.
	assert.Equal(t, 3, res.Usage.Attempts)
	assert.Greater(t, res.Completeness, 40.0)
}

func TestExtractExecutives_StopsAtTarget(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`[`+
		fullExecutive("Jane Doe", "Chief Executive Officer", "CEO")+`,`+
		fullExecutive("John Roe", "Chief Financial Officer", "CFO")+`,`+
		fullExecutive("Ann Poe", "Chief Operating Officer", "COO")+`]`), nil).Once()

	res, err := newTestExtractor(client).ExtractExecutives(t.Context(), example, "", leadershipCandidates())
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Completeness, 0)
	assert.Equal(t, 1, res.Usage.Calls)
}

func TestExtractExecutives_NoCandidates(t *testing.T) {
	t.Parallel()

	res, err := newTestExtractor(mocks.NewMockClient(t)).ExtractExecutives(t.Context(), example, "", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Executives)
	assert.NotNil(t, res.Executives)
	assert.Zero(t, res.Completeness)
}

func TestExtractExecutives_NeverDecoded(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`{"people": []}`), nil).Times(3)

	_, err := newTestExtractor(client).ExtractExecutives(t.Context(), example, "", leadershipCandidates())
	require.Error(t, err)
}

func TestExecutiveCompleteness(t *testing.T) {
	t.Parallel()

	assert.Zero(t, ExecutiveCompleteness(nil))

	one := []model.ExecutiveProfile{{Name: "Jane Doe", Title: "CEO", RoleCategory: RoleCEO}}
	// 40/3 for quantity plus 60 * 3/7 for quality.
	assert.InDelta(t, 39.05, ExecutiveCompleteness(one), 1e-9)

	full := model.ExecutiveProfile{Name: "A", Title: "CEO", RoleCategory: RoleCEO, Description: "d", Tenure: "t", Background: "b", Education: "e"}
	assert.InDelta(t, 100, ExecutiveCompleteness([]model.ExecutiveProfile{full, full, full, full}), 1e-9)
}

func TestCategorizeRole(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Chief Executive Officer":      RoleCEO,
		"ceo":                          RoleCEO,
		"Chief Financial Officer":      RoleCFO,
		"Chief Technology Officer":     RoleCTO,
		"COO":                          RoleCOO,
		"President and Director":       RolePresident,
		"Executive Chairman":           RoleChairman,
		"Co-Founder":                   RoleFounder,
		"SVP, General Counsel":         RoleExecutive,
		"Vice President of Operations": RolePresident,
	}
	for title, want := range tests {
		assert.Equal(t, want, CategorizeRole(title), title)
	}
}

func TestDedupExecutives_StableWithinRole(t *testing.T) {
	t.Parallel()

	out := DedupExecutives([]model.ExecutiveProfile{
		{Name: "B", RoleCategory: RoleExecutive},
		{Name: "A", RoleCategory: RoleExecutive},
		{Name: "C", RoleCategory: RoleChairman},
		{Name: "c", RoleCategory: RoleChairman},
		{Name: "C", RoleCategory: "Board"},
	})
	var names []string
	for _, ex := range out {
		names = append(names, ex.Name+"/"+ex.RoleCategory)
	}
	assert.Equal(t, []string{"C/Chairman", "B/Executive", "A/Executive", "C/Board"}, names)
}

type fakeJina struct {
	content string
	err     error
}

func (f *fakeJina) Search(context.Context, string, ...jina.SearchOption) (*jina.SearchResponse, error) {
	return &jina.SearchResponse{}, nil
}

func (f *fakeJina) Read(_ context.Context, url string) (*jina.ReadResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &jina.ReadResponse{Code: 200, Data: jina.ReadData{URL: url, Content: f.content}}, nil
}

func TestJinaReader(t *testing.T) {
	t.Parallel()

	r := NewJinaReader(&fakeJina{content: strings.Repeat("x", 50)}, 10)
	text, err := r.ReadPage(t.Context(), "https://example.com")
	require.NoError(t, err)
	assert.Len(t, text, 10)

	r = NewJinaReader(&fakeJina{err: &jina.APIError{StatusCode: 451}}, 0)
	_, err = r.ReadPage(t.Context(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://example.com")
}
