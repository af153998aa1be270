// Package planner turns an entity into the ordered search queries of each
// screening stage. All routing is driven by data tables.
package planner

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/screening-cli/internal/model"
)

// Planner renders query templates for an entity.
type Planner struct {
	tables        *Tables
	jurisdictions *Jurisdictions
	now           func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock sets the clock used for year placeholders.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New builds a Planner over the given tables.
func New(tables *Tables, opts ...Option) (*Planner, error) {
	j, err := NewJurisdictions(tables.Jurisdictions)
	if err != nil {
		return nil, err
	}
	p := &Planner{tables: tables, jurisdictions: j, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Jurisdictions returns the routing table.
func (p *Planner) Jurisdictions() *Jurisdictions { return p.jurisdictions }

// Tables returns the tables the planner was built with.
func (p *Planner) Tables() *Tables { return p.tables }

// AdverseMediaQueries renders one query per template per category, in table
// order.
func (p *Planner) AdverseMediaQueries(e model.Entity) []model.SearchQuery {
	r := p.replacer(e, Jurisdiction{})
	var out []model.SearchQuery
	for _, c := range p.tables.Categories.AdverseMedia {
		for _, tmpl := range c.Templates {
			out = append(out, model.SearchQuery{
				Text:     render(r, tmpl),
				Category: c.Name,
			})
		}
	}
	return out
}

// WatchlistQueries renders one site-restricted mandatory query per
// sanctions source, in priority order.
func (p *Planner) WatchlistQueries(e model.Entity) []model.SearchQuery {
	out := make([]model.SearchQuery, 0, len(p.tables.Sanctions.Sources))
	for _, s := range p.tables.Sanctions.Sources {
		text := quote(e.DisplayName)
		if s.Terms != "" {
			text += " " + s.Terms
		}
		out = append(out, model.SearchQuery{
			Text:        text,
			Category:    model.CategoryWatchlist,
			TargetSites: append([]string(nil), s.Sites...),
			Mandatory:   true,
			Source:      s.Name,
		})
	}
	return out
}

// FilingQueries renders regulator-restricted filing queries for the
// entity's jurisdiction followed by open-web profile queries. Private
// companies get the jurisdiction's private filing types and the private
// profile family instead; with no private family configured the public one
// is used.
func (p *Planner) FilingQueries(e model.Entity) []model.SearchQuery {
	j := p.jurisdictions.Lookup(e.JurisdictionHint)
	year := p.now().Year()

	filingTypes, family := j.FilingTypes, p.tables.Categories.Profile
	if e.Private() {
		filingTypes = j.PrivateFilingTypes
		if len(p.tables.Categories.PrivateProfile.Templates) > 0 {
			family = p.tables.Categories.PrivateProfile
		}
	}

	var out []model.SearchQuery
	for _, ft := range filingTypes {
		text := quote(e.DisplayName) + " " + quoteIfSpaced(ft) + " " + strconv.Itoa(year)
		if len(j.Sites) == 0 && e.JurisdictionHint != "" {
			text = quote(e.DisplayName) + " " + e.JurisdictionHint + " " + quoteIfSpaced(ft) + " " + strconv.Itoa(year)
		}
		out = append(out, model.SearchQuery{
			Text:        text,
			Category:    model.CategoryFiling,
			TargetSites: append([]string(nil), j.Sites...),
			Mandatory:   len(j.Sites) > 0,
		})
	}

	r := p.replacer(e, j)
	for _, tmpl := range family.Templates {
		out = append(out, model.SearchQuery{
			Text:     render(r, tmpl),
			Category: model.CategoryProfile,
		})
	}
	return out
}

// ExecutiveQueries renders leadership and management queries.
func (p *Planner) ExecutiveQueries(e model.Entity) []model.SearchQuery {
	r := p.replacer(e, Jurisdiction{})
	out := make([]model.SearchQuery, 0, len(p.tables.Categories.Leadership.Templates))
	for _, tmpl := range p.tables.Categories.Leadership.Templates {
		out = append(out, model.SearchQuery{
			Text:     render(r, tmpl),
			Category: model.CategoryLeadership,
		})
	}
	return out
}

func (p *Planner) replacer(e model.Entity, j Jurisdiction) *strings.Replacer {
	year := p.now().Year()
	return strings.NewReplacer(
		"{name}", e.DisplayName,
		"{year}", strconv.Itoa(year),
		"{prev_year}", strconv.Itoa(year-1),
		"{regulator}", j.Regulator,
	)
}

func render(r *strings.Replacer, tmpl string) string {
	return strings.Join(strings.Fields(r.Replace(tmpl)), " ")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}

func quoteIfSpaced(s string) string {
	if strings.ContainsRune(s, ' ') {
		return quote(s)
	}
	return s
}
