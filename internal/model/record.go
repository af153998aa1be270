package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// PipelineKind is the closed set of pipelines producing per-entity records.
type PipelineKind string

const (
	KindSEC          PipelineKind = "sec"
	KindExecutives   PipelineKind = "executives"
	KindAdverseMedia PipelineKind = "adverse_media"
	KindSanctions    PipelineKind = "sanctions"
)

// PipelineKinds lists every kind in execution order.
var PipelineKinds = []PipelineKind{KindSEC, KindExecutives, KindAdverseMedia, KindSanctions}

// Valid reports whether k is a known kind.
func (k PipelineKind) Valid() bool {
	switch k {
	case KindSEC, KindExecutives, KindAdverseMedia, KindSanctions:
		return true
	default:
		return false
	}
}

// RecordStatus is the outcome of one pipeline for one entity.
type RecordStatus string

const (
	RecordSuccess        RecordStatus = "success"
	RecordPartialSuccess RecordStatus = "partial_success"
	RecordFailed         RecordStatus = "failed"
)

// Payload is implemented only by the per-kind payload types below.
type Payload interface {
	PipelineKind() PipelineKind
}

// PipelineRecord is the output of one stage for one entity in one run.
type PipelineRecord struct {
	Kind         PipelineKind `json:"kind"`
	RunID        string       `json:"run_id"`
	EntityID     string       `json:"entity_id"`
	EntityName   string       `json:"entity_name"`
	Status       RecordStatus `json:"status"`
	Completeness float64      `json:"completeness"`
	Error        string       `json:"error,omitempty"`
	RecordedAt   time.Time    `json:"recorded_at"`
	Payload      Payload      `json:"-"`
}

type recordEnvelope struct {
	Kind         PipelineKind    `json:"kind"`
	RunID        string          `json:"run_id"`
	EntityID     string          `json:"entity_id"`
	EntityName   string          `json:"entity_name"`
	Status       RecordStatus    `json:"status"`
	Completeness float64         `json:"completeness"`
	Error        string          `json:"error,omitempty"`
	RecordedAt   time.Time       `json:"recorded_at"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the record with its payload inline.
func (r PipelineRecord) MarshalJSON() ([]byte, error) {
	env := recordEnvelope{
		Kind:         r.Kind,
		RunID:        r.RunID,
		EntityID:     r.EntityID,
		EntityName:   r.EntityName,
		Status:       r.Status,
		Completeness: r.Completeness,
		Error:        r.Error,
		RecordedAt:   r.RecordedAt,
	}
	if r.Payload != nil {
		if r.Payload.PipelineKind() != r.Kind {
			return nil, eris.Errorf("model: payload kind %s does not match record kind %s", r.Payload.PipelineKind(), r.Kind)
		}
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, eris.Wrap(err, "model: marshal payload")
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the payload according to the record kind.
func (r *PipelineRecord) UnmarshalJSON(data []byte) error {
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return eris.Wrap(err, "model: unmarshal record")
	}
	payload, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}
	*r = PipelineRecord{
		Kind:         env.Kind,
		RunID:        env.RunID,
		EntityID:     env.EntityID,
		EntityName:   env.EntityName,
		Status:       env.Status,
		Completeness: env.Completeness,
		Error:        env.Error,
		RecordedAt:   env.RecordedAt,
		Payload:      payload,
	}
	return nil
}

// DecodePayload decodes raw JSON into the payload type for kind. An empty
// payload decodes to nil.
func DecodePayload(kind PipelineKind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindSEC:
		p = &CompanyProfile{}
	case KindExecutives:
		p = &ExecutiveList{}
	case KindAdverseMedia:
		p = &AdverseMediaResult{}
	case KindSanctions:
		p = &SanctionsResult{}
	default:
		return nil, eris.Errorf("model: unknown pipeline kind %q", kind)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, eris.Wrapf(err, "model: unmarshal %s payload", kind)
	}
	return p, nil
}

// CompanyIdentifiers holds registry identifiers of a company.
type CompanyIdentifiers struct {
	CIK   string `json:"cik,omitempty"`
	DUNS  string `json:"duns,omitempty"`
	LEI   string `json:"lei,omitempty"`
	CUSIP string `json:"cusip,omitempty"`
}

// CompanyProfile is the baseline record produced by the filing extraction
// stage.
type CompanyProfile struct {
	RegisteredLegalName    string             `json:"registered_legal_name,omitempty"`
	CountryOfIncorporation string             `json:"country_of_incorporation,omitempty"`
	IncorporationDate      string             `json:"incorporation_date,omitempty"`
	RegisteredAddress      string             `json:"registered_address,omitempty"`
	Identifiers            CompanyIdentifiers `json:"identifiers"`
	BusinessDescription    string             `json:"business_description,omitempty"`
	NumberOfEmployees      string             `json:"number_of_employees,omitempty"`
	AnnualRevenue          string             `json:"annual_revenue,omitempty"`
	WebsiteURL             string             `json:"website_url,omitempty"`
	Subsidiaries           []string           `json:"subsidiaries,omitempty"`
	CompanyType            CompanyType        `json:"company_type,omitempty"`

	// Private company financing, filled only for private profiles.
	AnnualSales   string `json:"annual_sales,omitempty"`
	FundingRounds string `json:"funding_rounds,omitempty"`
	KeyInvestors  string `json:"key_investors,omitempty"`
	Valuation     string `json:"valuation,omitempty"`

	Regulator   string   `json:"regulator,omitempty"`
	FilingTypes []string `json:"filing_types,omitempty"`
	SourceURLs  []string `json:"source_urls,omitempty"`
}

func (*CompanyProfile) PipelineKind() PipelineKind { return KindSEC }

// ExecutiveProfile describes one executive of the screened company.
type ExecutiveProfile struct {
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	RoleCategory  string   `json:"role_category"`
	Description   string   `json:"description,omitempty"`
	Tenure        string   `json:"tenure,omitempty"`
	Background    string   `json:"background,omitempty"`
	Education     string   `json:"education,omitempty"`
	PreviousRoles []string `json:"previous_roles,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
}

// ExecutiveList is the payload of the executive extraction stage.
type ExecutiveList struct {
	Executives []ExecutiveProfile `json:"executives"`
}

func (*ExecutiveList) PipelineKind() PipelineKind { return KindExecutives }

// FindingSummary holds per-entity statistics over deduplicated findings.
type FindingSummary struct {
	Total          int                       `json:"total"`
	MaxSeverity    float64                   `json:"max_severity"`
	ByCategory     map[Category]CategoryStat `json:"by_category"`
	BySeverity     map[SeverityLevel]int     `json:"by_severity"`
	CandidatesSeen int                       `json:"candidates_seen,omitempty"`
	Classified     int                       `json:"classified,omitempty"`
}

// CategoryStat is the count and mean severity of one category.
type CategoryStat struct {
	Count        int     `json:"count"`
	MeanSeverity float64 `json:"mean_severity"`
}

// AdverseMediaResult is the payload of the adverse-media stage.
type AdverseMediaResult struct {
	Findings []Finding      `json:"findings"`
	Summary  FindingSummary `json:"summary"`
}

func (*AdverseMediaResult) PipelineKind() PipelineKind { return KindAdverseMedia }

// SanctionsResult is the payload of the watchlist screening stage.
type SanctionsResult struct {
	CompanyMatches     []WatchlistMatch `json:"company_matches"`
	ExecutiveMatches   []WatchlistMatch `json:"executive_matches"`
	SourcesChecked     []string         `json:"sources_checked,omitempty"`
	ExecutivesScreened int              `json:"executives_screened"`
}

func (*SanctionsResult) PipelineKind() PipelineKind { return KindSanctions }
