// Package aggregate deduplicates classified findings and orders them for
// presentation. Every ordering here is total so output is reproducible.
package aggregate

import (
	"cmp"
	"slices"

	"github.com/sells-group/screening-cli/internal/model"
)

// Aggregate keeps one finding per (SourceURL, Category) and returns them in
// presentation order with a summary. Among findings sharing a key the winner
// has the higher confidence, then the higher severity, then the later
// ExtractedAt.
func Aggregate(findings []model.Finding) ([]model.Finding, model.FindingSummary) {
	best := make(map[string]model.Finding, len(findings))
	for _, f := range findings {
		key := f.Key()
		cur, ok := best[key]
		if !ok || supersedes(f, cur) {
			best[key] = f
		}
	}

	out := make([]model.Finding, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	SortFindings(out)
	return out, Summarize(out)
}

// supersedes reports whether a wins over b for the same key.
func supersedes(a, b model.Finding) bool {
	if a.ConfidenceScore != b.ConfidenceScore {
		return a.ConfidenceScore > b.ConfidenceScore
	}
	if a.SeverityScore != b.SeverityScore {
		return a.SeverityScore > b.SeverityScore
	}
	if !a.ExtractedAt.Equal(b.ExtractedAt) {
		return a.ExtractedAt.After(b.ExtractedAt)
	}
	// Identical scores and time: fall back to content so the winner does
	// not depend on input order.
	return a.Description < b.Description
}

// SortFindings orders findings by severity desc, confidence desc,
// ExtractedAt desc, then SourceURL and Category ascending.
func SortFindings(fs []model.Finding) {
	slices.SortFunc(fs, compareFindings)
}

func compareFindings(a, b model.Finding) int {
	if c := cmp.Compare(b.SeverityScore, a.SeverityScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.ConfidenceScore, a.ConfidenceScore); c != 0 {
		return c
	}
	if c := b.ExtractedAt.Compare(a.ExtractedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SourceURL, b.SourceURL); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Category, b.Category); c != 0 {
		return c
	}
	return cmp.Compare(a.Description, b.Description)
}

// Summarize computes counts and mean severity per category and counts per
// severity band.
func Summarize(fs []model.Finding) model.FindingSummary {
	s := model.FindingSummary{
		Total:      len(fs),
		ByCategory: make(map[model.Category]model.CategoryStat),
		BySeverity: make(map[model.SeverityLevel]int),
	}
	sums := make(map[model.Category]float64)
	for _, f := range fs {
		st := s.ByCategory[f.Category]
		st.Count++
		s.ByCategory[f.Category] = st
		sums[f.Category] += f.SeverityScore

		s.BySeverity[model.SeverityBand(f.SeverityScore)]++
		s.MaxSeverity = max(s.MaxSeverity, f.SeverityScore)
	}
	for cat, st := range s.ByCategory {
		st.MeanSeverity = sums[cat] / float64(st.Count)
		s.ByCategory[cat] = st
	}
	return s
}

// DedupMatches keeps one match per (EntityID, MatchType, SourceURL), the one
// with the higher confidence score, and returns them sorted.
func DedupMatches(ms []model.WatchlistMatch) []model.WatchlistMatch {
	type key struct{ entity, source, url string }
	best := make(map[key]model.WatchlistMatch, len(ms))
	for _, m := range ms {
		k := key{m.EntityID, m.MatchType, m.SourceURL}
		cur, ok := best[k]
		if !ok || compareMatches(m, cur) < 0 {
			best[k] = m
		}
	}
	out := make([]model.WatchlistMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	SortMatches(out)
	return out
}

// SortMatches orders watchlist matches High > Medium > Low, then by score
// desc, then MatchType, SourceURL and EntityID ascending.
func SortMatches(ms []model.WatchlistMatch) {
	slices.SortFunc(ms, compareMatches)
}

func compareMatches(a, b model.WatchlistMatch) int {
	if c := cmp.Compare(b.ConfidenceLevel.Rank(), a.ConfidenceLevel.Rank()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.ConfidenceScore, a.ConfidenceScore); c != 0 {
		return c
	}
	if c := cmp.Compare(a.MatchType, b.MatchType); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SourceURL, b.SourceURL); c != 0 {
		return c
	}
	if c := cmp.Compare(a.EntityID, b.EntityID); c != 0 {
		return c
	}
	return cmp.Compare(a.Justification, b.Justification)
}
