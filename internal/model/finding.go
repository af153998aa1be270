package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SeverityLevel is the presentation band of a severity score.
type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "low"
	SeverityMedium   SeverityLevel = "medium"
	SeverityHigh     SeverityLevel = "high"
	SeverityCritical SeverityLevel = "critical"
)

// SeverityBand maps a score in [0,1] to its band.
func SeverityBand(score float64) SeverityLevel {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Finding is a classified adverse-media item. Findings are never mutated;
// a later Finding with the same (SourceURL, Category) supersedes an earlier
// one.
type Finding struct {
	EntityID        string        `json:"entity_id"`
	Category        Category      `json:"category"`
	SeverityScore   float64       `json:"severity_score"`
	ConfidenceScore float64       `json:"confidence_score"`
	SeverityLevel   SeverityLevel `json:"severity_level"`
	Description     string        `json:"description"`
	SourceURL       string        `json:"source_url"`
	Title           string        `json:"title,omitempty"`
	PublishedDate   *time.Time    `json:"published_date,omitempty"`
	ExtractedAt     time.Time     `json:"extracted_at"`
}

// Key returns the supersession key of the finding.
func (f Finding) Key() string {
	return f.SourceURL + "\x00" + string(f.Category)
}

// Validate reports whether the finding satisfies the persistence invariants.
func (f Finding) Validate() error {
	if strings.TrimSpace(f.SourceURL) == "" {
		return eris.New("finding: missing source url")
	}
	if !inUnitRange(f.SeverityScore) {
		return eris.Errorf("finding: severity %v out of range", f.SeverityScore)
	}
	if !inUnitRange(f.ConfidenceScore) {
		return eris.Errorf("finding: confidence %v out of range", f.ConfidenceScore)
	}
	return nil
}

// ConfidenceLevel buckets a watchlist match confidence.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "High"
	ConfidenceMedium ConfidenceLevel = "Medium"
	ConfidenceLow    ConfidenceLevel = "Low"
)

// Rank orders levels so that High > Medium > Low. Unknown levels rank 0.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// WatchlistMatch is a sanctions, watchlist or PEP match attributed to a
// source.
type WatchlistMatch struct {
	EntityID        string          `json:"entity_id"`
	EntityName      string          `json:"entity_name"`
	MatchType       string          `json:"match_type"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	ConfidenceScore float64         `json:"confidence_score"`
	Justification   string          `json:"justification"`
	SourceURL       string          `json:"source_url"`
	MatchDetails    map[string]any  `json:"match_details,omitempty"`
	ScreenedAt      time.Time       `json:"screened_at"`
}

// Validate reports whether the match satisfies the persistence invariants.
func (m WatchlistMatch) Validate() error {
	if strings.TrimSpace(m.SourceURL) == "" {
		return eris.New("watchlist match: missing source url")
	}
	if !inUnitRange(m.ConfidenceScore) {
		return eris.Errorf("watchlist match: confidence %v out of range", m.ConfidenceScore)
	}
	if m.ConfidenceLevel.Rank() == 0 {
		return eris.Errorf("watchlist match: unknown confidence level %q", m.ConfidenceLevel)
	}
	return nil
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
