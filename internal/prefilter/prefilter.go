// Package prefilter scores candidates locally against category keyword sets
// so only likely-relevant hits reach the classifier.
package prefilter

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/metrics"
	"github.com/sells-group/screening-cli/internal/model"
)

// Options tunes the filter.
type Options struct {
	// MinKeywordHits is the number of distinct keywords a candidate must
	// contain. 0 keeps everything.
	MinKeywordHits int
	// RequireEntityName additionally drops candidates whose title and snippet
	// never mention the entity.
	RequireEntityName bool
	Metrics           *metrics.Manager
}

// Stats reports one filtering pass.
type Stats struct {
	In        int `json:"in"`
	Out       int `json:"out"`
	Mandatory int `json:"mandatory"`
}

// Dropped returns the number of candidates removed.
func (s Stats) Dropped() int { return s.In - s.Out }

// PreFilter holds the normalized keyword sets.
type PreFilter struct {
	keywords map[model.Category][]string
	opts     Options
}

// New builds a PreFilter. Keywords are lower-cased and deduplicated per
// category.
func New(keywords map[model.Category][]string, opts Options) *PreFilter {
	norm := make(map[model.Category][]string, len(keywords))
	for cat, kws := range keywords {
		seen := make(map[string]struct{}, len(kws))
		for _, kw := range kws {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			norm[cat] = append(norm[cat], kw)
		}
	}
	if opts.MinKeywordHits < 0 {
		opts.MinKeywordHits = 0
	}
	return &PreFilter{keywords: norm, opts: opts}
}

// Filter keeps the candidates that score against the keyword set of
// category. Mandatory candidates always pass. A category without keywords
// keeps every candidate.
func (p *PreFilter) Filter(e model.Entity, candidates []model.Candidate, category model.Category) ([]model.Candidate, Stats) {
	return p.run(e, candidates, func(model.Candidate) model.Category { return category })
}

// FilterAll scores each candidate against the category of the query that
// produced it.
func (p *PreFilter) FilterAll(e model.Entity, candidates []model.Candidate) ([]model.Candidate, Stats) {
	return p.run(e, candidates, func(c model.Candidate) model.Category { return c.OriginQuery })
}

// Hits counts the distinct keywords of category found in the candidate's
// title and snippet.
func (p *PreFilter) Hits(c model.Candidate, category model.Category) int {
	words := splitWords(c.Title + " " + c.Snippet)
	n := 0
	for _, kw := range p.keywords[category] {
		if containsPhrase(words, splitWords(kw)) {
			n++
		}
	}
	return n
}

// inflections are the word endings a keyword may carry and still count.
var inflections = []string{"", "s", "es", "d", "ed", "ing"}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsPhrase reports whether phrase occurs as consecutive whole words.
// The last word of the phrase may carry one of the inflections.
func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	last := len(phrase) - 1
outer:
	for i := 0; i+last < len(words); i++ {
		for j := 0; j < last; j++ {
			if words[i+j] != phrase[j] {
				continue outer
			}
		}
		if inflected(words[i+last], phrase[last]) {
			return true
		}
	}
	return false
}

func inflected(word, kw string) bool {
	rest, ok := strings.CutPrefix(word, kw)
	if !ok {
		return false
	}
	for _, suf := range inflections {
		if rest == suf {
			return true
		}
	}
	return false
}

func (p *PreFilter) run(e model.Entity, candidates []model.Candidate, categoryOf func(model.Candidate) model.Category) ([]model.Candidate, Stats) {
	stats := Stats{In: len(candidates)}
	entityKey := model.NormalizeID(e.DisplayName)

	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Mandatory {
			stats.Mandatory++
			out = append(out, c)
			continue
		}
		if p.keep(c, categoryOf(c), entityKey) {
			out = append(out, c)
		}
	}
	stats.Out = len(out)

	p.opts.Metrics.PreFilter(stats.Out, stats.Dropped())
	zap.L().Debug("prefilter: pass complete",
		zap.String("entity_id", e.ID),
		zap.Int("in", stats.In),
		zap.Int("out", stats.Out),
		zap.Int("mandatory", stats.Mandatory),
	)
	return out, stats
}

func (p *PreFilter) keep(c model.Candidate, category model.Category, entityKey string) bool {
	if p.opts.RequireEntityName && entityKey != "" &&
		!strings.Contains(model.NormalizeID(c.Title+" "+c.Snippet), entityKey) {
		return false
	}
	if _, ok := p.keywords[category]; !ok {
		return true
	}
	return p.Hits(c, category) >= p.opts.MinKeywordHits
}
