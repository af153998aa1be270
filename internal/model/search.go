package model

import "time"

// Category tags a query and the findings derived from it. The set of
// categories is configuration; these are the defaults shipped with the
// planner tables.
type Category string

const (
	CategoryLegal         Category = "Legal"
	CategoryFinancial     Category = "Financial"
	CategoryRegulatory    Category = "Regulatory"
	CategoryEnvironmental Category = "Environmental"
	CategoryCyber         Category = "Cybersecurity"
	CategoryLabor         Category = "Labor"
	CategoryEthics        Category = "Ethics"
	CategoryGovernance    Category = "Governance"
	CategoryReputation    Category = "Reputation"

	// Non adverse-media query families.
	CategoryFiling     Category = "Filing"
	CategoryProfile    Category = "Profile"
	CategoryLeadership Category = "Leadership"
	CategoryWatchlist  Category = "Watchlist"
)

// SearchQuery is a rendered query produced by the planner for one entity.
// Mandatory queries target official sources whose hits always survive
// pre-filtering.
type SearchQuery struct {
	Text        string   `json:"text"`
	Category    Category `json:"category"`
	TargetSites []string `json:"target_sites,omitempty"`
	Mandatory   bool     `json:"mandatory,omitempty"`
	// Source names the watchlist source for watchlist queries.
	Source string `json:"source,omitempty"`
}

// Candidate is an unverified search result. Its identity is SourceURL.
type Candidate struct {
	SourceURL     string     `json:"source_url"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	OriginQuery   Category   `json:"origin_query"`
	Mandatory     bool       `json:"mandatory,omitempty"`
	Source        string     `json:"source,omitempty"`
}
