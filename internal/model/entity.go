package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EntityKind distinguishes screened organizations from people.
type EntityKind string

const (
	EntityCompany EntityKind = "company"
	EntityPerson  EntityKind = "person"
)

// CompanyType selects the profile the critical stage builds: regulator
// filings for listed companies, registries and business press otherwise.
type CompanyType string

const (
	CompanyPublic  CompanyType = "public"
	CompanyPrivate CompanyType = "private"
)

// ParseCompanyType accepts "public", "private" or "" (public), in any case.
func ParseCompanyType(s string) (CompanyType, bool) {
	switch CompanyType(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompanyPublic:
		return CompanyPublic, true
	case CompanyPrivate:
		return CompanyPrivate, true
	default:
		return "", false
	}
}

// Entity is a company or person being screened. ID is derived from
// DisplayName and is the join key across every pipeline.
type Entity struct {
	ID               string      `json:"id"`
	DisplayName      string      `json:"display_name"`
	Kind             EntityKind  `json:"kind"`
	JurisdictionHint string      `json:"jurisdiction_hint,omitempty"`
	CompanyType      CompanyType `json:"company_type,omitempty"`
}

// Private reports whether the entity is a privately held company.
func (e Entity) Private() bool {
	return e.Kind == EntityCompany && e.CompanyType == CompanyPrivate
}

// NewEntity builds an entity with its normalized ID.
func NewEntity(name string, kind EntityKind, jurisdictionHint string) Entity {
	name = strings.TrimSpace(name)
	return Entity{
		ID:               NormalizeID(name),
		DisplayName:      name,
		Kind:             kind,
		JurisdictionHint: strings.TrimSpace(jurisdictionHint),
	}
}

// NormalizeID folds a display name into a stable identifier: accents are
// removed, letters lower-cased, punctuation dropped and separators collapsed
// into single underscores. "Example Corp." becomes "example_corp".
// NormalizeID(NormalizeID(x)) == NormalizeID(x).
func NormalizeID(name string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		name,
	)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '_' || r == '-' || r == '/':
			pendingSep = true
		}
		// Remaining punctuation (",", ".", "&", "'") is dropped without
		// introducing a separator.
	}
	return b.String()
}
