package model

// SanctionsSection groups watchlist matches in the unified record.
type SanctionsSection struct {
	CompanyMatches   []WatchlistMatch `json:"company_matches"`
	ExecutiveMatches []WatchlistMatch `json:"executive_matches"`
}

// DataCompleteness summarises which pipelines contributed to a unified
// record.
type DataCompleteness struct {
	HasSECData          bool `json:"has_sec_data"`
	HasExecutiveData    bool `json:"has_executive_data"`
	HasAdverseMediaData bool `json:"has_adverse_media_data"`
	HasSanctionsData    bool `json:"has_sanctions_data"`
	ExecutiveCount      int  `json:"executive_count"`
	FindingCount        int  `json:"finding_count"`
}

// UnifiedRecord is the merged cross-pipeline view of one entity. Its content
// is a pure function of the pipeline records it was built from.
type UnifiedRecord struct {
	EntityID         string                  `json:"entity_id"`
	EntityName       string                  `json:"entity_name"`
	SECData          *CompanyProfile         `json:"sec_data,omitempty"`
	Executives       []ExecutiveProfile      `json:"executives"`
	AdverseMedia     []Finding               `json:"adverse_media"`
	Sanctions        *SanctionsSection       `json:"sanctions,omitempty"`
	DataCompleteness DataCompleteness        `json:"data_completeness"`
	Sources          map[PipelineKind]string `json:"sources"`
}
