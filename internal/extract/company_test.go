package extract

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/planner"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/pkg/anthropic"
	"github.com/sells-group/screening-cli/pkg/anthropic/mocks"
)

var (
	fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	example  = model.NewEntity("Example Corp", model.EntityCompany, "")
	usSEC    = planner.Jurisdiction{Key: "us", Regulator: "SEC", Sites: []string{"sec.gov"}, FilingTypes: []string{"10-K", "10-Q", "8-K"}}
)

const longDescription = "Example Corp designs, manufactures and sells industrial sensors and the software that runs them to manufacturers worldwide."

type fakeReader struct {
	mu   sync.Mutex
	urls []string
}

func (r *fakeReader) ReadPage(_ context.Context, url string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return "page text of " + url, nil
}

func newTestExtractor(client anthropic.Client, mutate ...func(*Options)) *Extractor {
	opts := Options{
		Model:              "claude-haiku-4-5-20251001",
		TargetCompleteness: 95,
		MaxAttempts:        3,
		Policy:             resilience.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Now:                func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(client, opts)
}

func filingCandidates() []model.Candidate {
	return []model.Candidate{
		{SourceURL: "https://example.com/about", Title: "About Example Corp", Snippet: "Our story", OriginQuery: model.CategoryProfile},
		{SourceURL: "https://www.sec.gov/Archives/edgar/data/320193/000032019326000010/exc-20251231.htm", Title: "Example Corp Form 10-K 2025", Snippet: "Annual report for fiscal 2025", OriginQuery: model.CategoryFiling, Mandatory: true},
		{SourceURL: "https://www.sec.gov/Archives/edgar/data/320193/000032019326000020/exc-20260331.htm", Title: "Example Corp 10-Q", Snippet: "Quarterly report for Q1 2026", OriginQuery: model.CategoryFiling, Mandatory: true},
	}
}

const fullProfile = `{"registered_legal_name": "Example Corporation", "country_of_incorporation": "United States",
 "incorporation_date": "March 4, 1998", "registered_address": "1 Example Way, Wilmington, DE",
 "identifiers": {"CIK": "0000320193", "DUNS": "123456789", "LEI": "5493001KJTIIGC8Y1R12", "CUSIP": "302491303"},
 "business_description": "` + longDescription + `", "number_of_employees": 5400,
 "annual_revenue": "$1.2 billion (fiscal 2025)", "website_url": "https://example.com",
 "subsidiaries": [{"name": "Example Sensors GmbH"}, {"name": "Example Sensors GmbH"}, {"name": "Not specified"}]}`

func TestExtractCompany_StopsAtTarget(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "Regulator: SEC")
	})).Return(mocks.TextResponse("```json\n"+fullProfile+"\n```"), nil).Once()

	res, err := newTestExtractor(client).ExtractCompany(t.Context(), example, usSEC, filingCandidates())
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Completeness, 0)
	assert.Equal(t, 1, res.Usage.Attempts)
	assert.Equal(t, 1, res.Usage.Calls)

	p := res.Profile
	assert.Equal(t, "Example Corporation", p.RegisteredLegalName)
	assert.Equal(t, "5400", p.NumberOfEmployees)
	assert.Equal(t, []string{"Example Sensors GmbH"}, p.Subsidiaries)
	assert.Equal(t, "SEC", p.Regulator)
	assert.Equal(t, []string{"10-Q", "10-K"}, p.FilingTypes)
	require.Len(t, p.SourceURLs, 3)
	assert.Contains(t, p.SourceURLs[0], "sec.gov")
}

func TestExtractCompany_RetriesAndKeepsBest(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(mocks.TextResponse(`{"registered_legal_name": "Example Corporation", "country_of_incorporation": "United States", "website_url": "https://example.com"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(mocks.TextResponse(`{"registered_legal_name": "Not specified in filings"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(mocks.TextResponse(`not json at all`), nil).Once()

	reader := &fakeReader{}
	res, err := newTestExtractor(client, func(o *Options) { o.Reader = reader }).
		ExtractCompany(t.Context(), example, usSEC, filingCandidates())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Usage.Attempts)
	assert.Equal(t, "Example Corporation", res.Profile.RegisteredLegalName)
	// Name, country, website plus the CIK taken from the filing URL.
	assert.InDelta(t, 33.33, res.Completeness, 1e-9)
	assert.Equal(t, "0000320193", res.Profile.Identifiers.CIK)
	assert.Equal(t, int64(300), res.Usage.InputTokens)

	// Attempt 2 reads the top source, attempt 3 the next one; pages are
	// read once.
	require.Len(t, reader.urls, 2)
	assert.NotEqual(t, reader.urls[0], reader.urls[1])
}

func TestExtractCompany_NoSources(t *testing.T) {
	t.Parallel()

	_, err := newTestExtractor(mocks.NewMockClient(t)).ExtractCompany(t.Context(), example, usSEC, nil)
	require.ErrorIs(t, err, ErrNoSources)
}

func TestExtractCompany_RejectedRequestStops(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 400, Message: "bad request"}).Once()

	res, err := newTestExtractor(client).ExtractCompany(t.Context(), example, usSEC, filingCandidates())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "example_corp")
	assert.Equal(t, 1, res.Usage.Calls)
}

func TestExtractCompany_AllAttemptsMalformed(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse("I could not find it."), nil).Times(3)

	res, err := newTestExtractor(client).ExtractCompany(t.Context(), example, usSEC, filingCandidates())
	require.Error(t, err)
	assert.Nil(t, res.Profile)
	assert.Equal(t, 3, res.Usage.Calls)
}

const privateProfile = `{"registered_legal_name": "Example Labs, Inc.", "country_of_incorporation": "United States",
 "incorporation_date": "2017", "registered_address": "10 Market St, San Francisco, CA",
 "identifiers": {"DUNS": "987654321", "LEI": ""},
 "business_description": "` + longDescription + `", "number_of_employees": "about 250",
 "annual_revenue": "$45 million (2025 estimate)", "annual_sales": "$45 million (2025 estimate)", "website_url": "https://examplelabs.com",
 "funding_rounds": ["$12 million Series A (2021)", "$40 million Series B (2025)"],
 "key_investors": "Acme Ventures; Example Capital", "valuation": "$400 million (2025)"}`

func TestExtractCompany_Private(t *testing.T) {
	t.Parallel()

	labs := model.NewEntity("Example Labs", model.EntityCompany, "")
	labs.CompanyType = model.CompanyPrivate
	usPrivate := usSEC
	usPrivate.PrivateFilingTypes = []string{"Form D", "private placement"}

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 && strings.Contains(req.System[0].Text, "privately held") &&
			strings.Contains(req.Messages[0].Content, "Ownership: privately held") &&
			strings.Contains(req.Messages[0].Content, "Filing types: Form D, private placement")
	})).Return(mocks.TextResponse(privateProfile), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(`{}`), nil).Twice()

	cands := []model.Candidate{
		{SourceURL: "https://en.wikipedia.org/wiki/Example_Labs", Title: "Example Labs - Wikipedia", Snippet: "Example Labs is a private company", OriginQuery: model.CategoryProfile},
		{SourceURL: "https://www.sec.gov/Archives/edgar/data/1700001/000170000125000001/xslFormDX01/primary_doc.xml", Title: "Example Labs Form D 2026", Snippet: "Notice of exempt offering of securities", OriginQuery: model.CategoryFiling, Mandatory: true},
	}

	res, err := newTestExtractor(client).ExtractCompany(t.Context(), labs, usPrivate, cands)
	require.NoError(t, err)

	p := res.Profile
	assert.Equal(t, model.CompanyPrivate, p.CompanyType)
	assert.Equal(t, "$12 million Series A (2021); $40 million Series B (2025)", p.FundingRounds)
	assert.Equal(t, "Acme Ventures; Example Capital", p.KeyInvestors)
	assert.Equal(t, "$400 million (2025)", p.Valuation)
	assert.Equal(t, []string{"Form D"}, p.FilingTypes)
	assert.Contains(t, p.SourceURLs[0], "sec.gov")
	// Everything but the LEI: 13 of 14.
	assert.InDelta(t, 92.86, res.Completeness, 1e-9)
	assert.Equal(t, 3, res.Usage.Attempts)
}

func TestCompanyCompleteness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *model.CompanyProfile
		want float64
	}{
		{"nil", nil, 0},
		{"empty", &model.CompanyProfile{}, 0},
		{"one field", &model.CompanyProfile{RegisteredLegalName: "Example Corporation"}, 8.33},
		{"short description ignored", &model.CompanyProfile{BusinessDescription: "Sensors."}, 0},
		{"placeholders ignored", &model.CompanyProfile{AnnualRevenue: "Not specified in SEC documents", WebsiteURL: "N/A"}, 0},
		{"half", &model.CompanyProfile{
			RegisteredLegalName:    "Example Corporation",
			CountryOfIncorporation: "United States",
			IncorporationDate:      "1998",
			RegisteredAddress:      "1 Example Way",
			BusinessDescription:    longDescription,
			Identifiers:            model.CompanyIdentifiers{CIK: "0000320193"},
		}, 50},
		{"private ignores CIK", &model.CompanyProfile{
			CompanyType: model.CompanyPrivate,
			Identifiers: model.CompanyIdentifiers{CIK: "0000320193", CUSIP: "302491303"},
		}, 0},
		{"private financing", &model.CompanyProfile{
			CompanyType:   model.CompanyPrivate,
			AnnualSales:   "$45 million",
			FundingRounds: "Series B",
			KeyInvestors:  "Acme Ventures",
			Valuation:     "$400 million",
			Identifiers:   model.CompanyIdentifiers{DUNS: "987654321"},
		}, 35.71},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, CompanyCompleteness(tt.p), 1e-9)
		})
	}
}

func TestRankFilings(t *testing.T) {
	t.Parallel()

	ranked := RankFilings(example, usSEC, filingCandidates(), fixedNow)
	require.Len(t, ranked, 3)
	assert.Contains(t, ranked[0].SourceURL, "20260331")
	assert.Contains(t, ranked[1].SourceURL, "20251231")
	assert.Equal(t, "https://example.com/about", ranked[2].SourceURL)
}

func TestFilingType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10-K", FilingType("Form 10-K annual report"))
	assert.Equal(t, "10-Q", FilingType("Quarterly report"))
	assert.Equal(t, "8-K", FilingType("8-K current report"))
	assert.Equal(t, "20-F", FilingType("Form 20-F"))
	assert.Equal(t, "Form D", FilingType("Form D notice of exempt offering"))
	assert.Empty(t, FilingType("Form data export"))
	assert.Empty(t, FilingType("Press release"))
}
