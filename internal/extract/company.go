package extract

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/planner"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

const companySystemPrompt = `You extract company registry and profile data from regulatory filings and company web pages.
Use only facts stated in the sources. Leave a field empty when the sources do not state it.
Reply with only a JSON object of this shape:
{"registered_legal_name": "", "country_of_incorporation": "", "incorporation_date": "", "registered_address": "",
 "identifiers": {"cik": "", "duns": "", "lei": "", "cusip": ""},
 "business_description": "", "number_of_employees": "", "annual_revenue": "", "website_url": "",
 "subsidiaries": ["legal name"]}
Prefer the most recent figures and state the period they cover, for example "$12.4 billion (fiscal 2025)".`

const privateCompanySystemPrompt = `You extract the profile of a privately held company from registry records, encyclopedia and market data pages, business press and funding databases.
Use only facts stated in the sources. Leave a field empty when the sources do not state it.
Reply with only a JSON object of this shape:
{"registered_legal_name": "", "country_of_incorporation": "", "incorporation_date": "", "registered_address": "",
 "identifiers": {"duns": "", "lei": ""},
 "business_description": "", "number_of_employees": "", "annual_revenue": "", "annual_sales": "", "website_url": "",
 "funding_rounds": "", "key_investors": "", "valuation": "",
 "subsidiaries": ["legal name"]}
Prefer the most recent figures and state the period or round they come from, for example "$40 million Series B (2025)".`

// minDescriptionLen is the length below which a business description is
// considered generic.
const minDescriptionLen = 100

// companyFields and privateCompanyFields are the number of fields scored
// by CompanyCompleteness for each company type.
const (
	companyFields        = 12
	privateCompanyFields = 14
)

var (
	cikPattern   = regexp.MustCompile(`/data/(\d+)/`)
	formDPattern = regexp.MustCompile(`\bform d\b`)
)

// CompanyResult is the best profile produced across attempts.
type CompanyResult struct {
	Profile      *model.CompanyProfile
	Completeness float64
	Usage        Usage
}

type rawCompany struct {
	LegalName    string            `json:"registered_legal_name"`
	Country      string            `json:"country_of_incorporation"`
	IncDate      string            `json:"incorporation_date"`
	Address      string            `json:"registered_address"`
	Identifiers  map[string]string `json:"identifiers"`
	Description  string            `json:"business_description"`
	Employees    json.RawMessage   `json:"number_of_employees"`
	Revenue      string            `json:"annual_revenue"`
	Website      string            `json:"website_url"`
	Subsidiaries json.RawMessage   `json:"subsidiaries"`

	AnnualSales   json.RawMessage `json:"annual_sales"`
	FundingRounds json.RawMessage `json:"funding_rounds"`
	KeyInvestors  json.RawMessage `json:"key_investors"`
	Valuation     json.RawMessage `json:"valuation"`
}

// ExtractCompany builds the company profile from filing and profile
// candidates. Attempts repeat while completeness is below target, each one
// reading more source pages, and the most complete profile wins. Private
// companies are asked for their financing fields and scored on them.
func (x *Extractor) ExtractCompany(ctx context.Context, e model.Entity, j planner.Jurisdiction, cands []model.Candidate) (*CompanyResult, error) {
	if len(cands) == 0 {
		return nil, ErrNoSources
	}
	log := zap.L().With(zap.String("entity_id", e.ID), zap.String("stage", string(model.KindSEC)))

	system := companySystemPrompt
	if e.Private() {
		system = privateCompanySystemPrompt
	}
	ranked := RankFilings(e, j, cands, x.opts.Now())
	pages := make(map[string]string)
	res := &CompanyResult{}
	var lastErr error

	for attempt := 0; attempt < x.opts.MaxAttempts; attempt++ {
		res.Usage.Attempts++
		prompt := companyPrompt(e, j) + x.renderSources(ctx, ranked, attempt, pages)
		text, err := x.ask(ctx, system, prompt, &res.Usage)
		if err != nil {
			lastErr = err
			if fatal(ctx, err) {
				break
			}
			continue
		}
		profile, err := decodeCompany(text)
		if err != nil {
			lastErr = err
			log.Warn("extract: unusable company profile", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		finishProfile(profile, e, j, ranked)

		score := CompanyCompleteness(profile)
		log.Debug("extract: company attempt",
			zap.Int("attempt", attempt+1),
			zap.Float64("completeness", score),
		)
		if res.Profile == nil || score > res.Completeness {
			res.Profile, res.Completeness = profile, score
		}
		if score >= x.opts.TargetCompleteness {
			break
		}
	}

	if res.Profile == nil {
		if lastErr == nil {
			lastErr = eris.New("no attempt produced a profile")
		}
		return res, eris.Wrapf(lastErr, "extract: company profile for %s", e.ID)
	}
	return res, nil
}

func companyPrompt(e model.Entity, j planner.Jurisdiction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", e.DisplayName)
	if e.JurisdictionHint != "" {
		fmt.Fprintf(&b, "Location: %s\n", e.JurisdictionHint)
	}
	if e.Private() {
		b.WriteString("Ownership: privately held\n")
	}
	if j.Regulator != "" {
		fmt.Fprintf(&b, "Regulator: %s\n", j.Regulator)
	}
	if ft := filingVocabulary(e, j); len(ft) > 0 {
		fmt.Fprintf(&b, "Filing types: %s\n", strings.Join(ft, ", "))
	}
	b.WriteString("\nSources, most relevant first:\n\n")
	return b.String()
}

func decodeCompany(text string) (*model.CompanyProfile, error) {
	raw, err := anthropic.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var rc rawCompany
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		return nil, eris.Wrap(err, "extract: decode company profile")
	}
	ids := make(map[string]string, len(rc.Identifiers))
	for k, v := range rc.Identifiers {
		ids[strings.ToLower(k)] = clean(v)
	}
	return &model.CompanyProfile{
		RegisteredLegalName:    clean(rc.LegalName),
		CountryOfIncorporation: clean(rc.Country),
		IncorporationDate:      clean(rc.IncDate),
		RegisteredAddress:      clean(rc.Address),
		Identifiers: model.CompanyIdentifiers{
			CIK:   ids["cik"],
			DUNS:  ids["duns"],
			LEI:   ids["lei"],
			CUSIP: ids["cusip"],
		},
		BusinessDescription: clean(rc.Description),
		NumberOfEmployees:   clean(looseString(rc.Employees)),
		AnnualRevenue:       clean(rc.Revenue),
		WebsiteURL:          clean(rc.Website),
		Subsidiaries:        subsidiaries(rc.Subsidiaries),
		AnnualSales:         clean(looseText(rc.AnnualSales)),
		FundingRounds:       clean(looseText(rc.FundingRounds)),
		KeyInvestors:        clean(looseText(rc.KeyInvestors)),
		Valuation:           clean(looseText(rc.Valuation)),
	}, nil
}

// looseText accepts a JSON string, number or list of either; list items are
// joined with "; ".
func looseText(raw json.RawMessage) string {
	if s := looseString(raw); s != "" {
		return s
	}
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if s := clean(looseString(it)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

// filingVocabulary is the filing types the entity is expected to file.
func filingVocabulary(e model.Entity, j planner.Jurisdiction) []string {
	if e.Private() {
		return j.PrivateFilingTypes
	}
	return j.FilingTypes
}

// looseString accepts a JSON string or number.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// subsidiaries accepts a list of names or of {"name": ...} objects.
func subsidiaries(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var names []string
	if json.Unmarshal(raw, &names) != nil {
		var objs []struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(raw, &objs) != nil {
			return nil
		}
		for _, o := range objs {
			names = append(names, o.Name)
		}
	}
	out := names[:0]
	for _, n := range names {
		if n = clean(n); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// finishProfile fills the fields that come from routing and sources rather
// than from the model.
func finishProfile(p *model.CompanyProfile, e model.Entity, j planner.Jurisdiction, ranked []model.Candidate) {
	p.Regulator = j.Regulator
	p.CompanyType = model.CompanyPublic
	if e.Private() {
		p.CompanyType = model.CompanyPrivate
	}
	for _, c := range ranked {
		if len(p.SourceURLs) < 5 {
			p.SourceURLs = append(p.SourceURLs, c.SourceURL)
		}
		if ft := FilingType(c.Title + " " + c.Snippet); ft != "" && !slices.Contains(p.FilingTypes, ft) {
			p.FilingTypes = append(p.FilingTypes, ft)
		}
		if p.Identifiers.CIK == "" {
			if m := cikPattern.FindStringSubmatch(c.SourceURL); m != nil {
				p.Identifiers.CIK = padCIK(m[1])
			}
		}
	}
}

// CompanyCompleteness is the percentage of scored fields that are filled,
// rounded to two decimals. Public profiles score the eight primary fields
// and four identifiers. Private profiles score the eight primary fields,
// annual sales, the three financing fields, DUNS and LEI. A business
// description shorter than 100 characters does not count.
func CompanyCompleteness(p *model.CompanyProfile) float64 {
	if p == nil {
		return 0
	}
	fields := []string{
		p.RegisteredLegalName,
		p.CountryOfIncorporation,
		p.IncorporationDate,
		p.RegisteredAddress,
		p.NumberOfEmployees,
		p.AnnualRevenue,
		p.WebsiteURL,
		p.Identifiers.DUNS,
		p.Identifiers.LEI,
	}
	total := companyFields
	if p.CompanyType == model.CompanyPrivate {
		fields = append(fields, p.AnnualSales, p.FundingRounds, p.KeyInvestors, p.Valuation)
		total = privateCompanyFields
	} else {
		fields = append(fields, p.Identifiers.CIK, p.Identifiers.CUSIP)
	}

	n := 0
	for _, v := range fields {
		if filled(v) {
			n++
		}
	}
	if filled(p.BusinessDescription) && len(p.BusinessDescription) >= minDescriptionLen {
		n++
	}
	return round2(float64(n) / float64(total) * 100)
}

// FilingType names the filing a title or snippet describes, or "".
func FilingType(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "10-k") || strings.Contains(t, "annual report"):
		return "10-K"
	case strings.Contains(t, "10-q") || strings.Contains(t, "quarterly report"):
		return "10-Q"
	case strings.Contains(t, "8-k") || strings.Contains(t, "current report"):
		return "8-K"
	case strings.Contains(t, "20-f"):
		return "20-F"
	case formDPattern.MatchString(t):
		return "Form D"
	default:
		return ""
	}
}

// RankFilings orders candidates by how likely they are to be a recent
// filing of the entity: regulator site, filing vocabulary, entity name and
// recent years all add score. Ties keep input order.
func RankFilings(e model.Entity, j planner.Jurisdiction, cands []model.Candidate, now time.Time) []model.Candidate {
	year := strconv.Itoa(now.Year())
	prev := strconv.Itoa(now.Year() - 1)
	name := strings.ToLower(e.DisplayName)

	scores := make(map[string]int, len(cands))
	for _, c := range cands {
		url := strings.ToLower(c.SourceURL)
		text := strings.ToLower(c.Title + " " + c.Snippet)
		s := 0
		for _, site := range j.Sites {
			if strings.Contains(url, strings.ToLower(site)) {
				s += 10
				break
			}
		}
		for _, ft := range filingVocabulary(e, j) {
			if strings.Contains(text, strings.ToLower(ft)) {
				s += 10
				break
			}
		}
		if name != "" && strings.Contains(text+" "+url, name) {
			s += 25
		}
		switch {
		case strings.Contains(url, year) || strings.Contains(text, year):
			s += 25
		case strings.Contains(url, prev) || strings.Contains(text, prev):
			s += 15
		}
		if c.OriginQuery == model.CategoryFiling {
			s += 5
		}
		scores[c.SourceURL] = s
	}

	out := slices.Clone(cands)
	slices.SortStableFunc(out, func(a, b model.Candidate) int {
		return cmp.Compare(scores[b.SourceURL], scores[a.SourceURL])
	})
	return out
}

// padCIK zero-pads a CIK to its canonical ten digits.
func padCIK(s string) string {
	if len(s) >= 10 {
		return s
	}
	return strings.Repeat("0", 10-len(s)) + s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
