package planner

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// Jurisdictions resolves a free-text jurisdiction hint against the routing
// table. Lookups never fail: an empty hint resolves to the default entry and
// an unknown one to the fallback.
type Jurisdictions struct {
	entries  []Jurisdiction
	phrases  [][]string
	codes    map[string]int
	def      Jurisdiction
	fallback Jurisdiction
}

// NewJurisdictions indexes a routing table.
func NewJurisdictions(t JurisdictionTable) (*Jurisdictions, error) {
	j := &Jurisdictions{
		entries:  t.Jurisdictions,
		phrases:  make([][]string, len(t.Jurisdictions)),
		codes:    make(map[string]int),
		fallback: t.Fallback,
	}
	if j.fallback.Regulator == "" {
		j.fallback.Regulator = "Local Regulatory Authority"
	}
	if j.fallback.Key == "" {
		j.fallback.Key = "international"
	}

	found := t.Default == ""
	for i, e := range t.Jurisdictions {
		if e.Key == "" {
			return nil, eris.Errorf("planner: jurisdiction %d has no key", i)
		}
		ph := []string{phrase(e.Key)}
		for _, a := range e.Aliases {
			if p := phrase(a); p != "" {
				ph = append(ph, p)
			}
		}
		j.phrases[i] = ph
		for _, c := range e.Codes {
			p := phrase(c)
			if p == "" {
				continue
			}
			if prev, dup := j.codes[p]; dup {
				return nil, eris.Errorf("planner: code %q listed under %s and %s", c, t.Jurisdictions[prev].Key, e.Key)
			}
			j.codes[p] = i
		}
		if e.Key == t.Default {
			j.def = e
			found = true
		}
	}
	if !found {
		return nil, eris.Errorf("planner: default jurisdiction %q not in table", t.Default)
	}
	if t.Default == "" {
		j.def = j.fallback
	}
	return j, nil
}

// Lookup returns the jurisdiction a hint refers to. A hint equal to a code
// resolves to that code's entry. Otherwise keys and aliases match as whole
// words or phrases; the longest match wins, then the one closest to the end
// of the hint, then the earlier table entry.
func (j *Jurisdictions) Lookup(hint string) Jurisdiction {
	h := phrase(hint)
	if h == "" {
		return j.def
	}
	if i, ok := j.codes[h]; ok {
		return j.entries[i]
	}

	padded := " " + h + " "
	best, bestLen, bestPos := -1, 0, -1
	for i, ph := range j.phrases {
		for _, p := range ph {
			pos := strings.LastIndex(padded, " "+p+" ")
			if pos < 0 {
				continue
			}
			if len(p) > bestLen || (len(p) == bestLen && pos > bestPos) {
				best, bestLen, bestPos = i, len(p), pos
			}
		}
	}
	if best < 0 {
		return j.fallback
	}
	return j.entries[best]
}

// Default returns the jurisdiction used when no hint is given.
func (j *Jurisdictions) Default() Jurisdiction {
	return j.def
}

// phrase lower-cases s and reduces every run of non alphanumerics to one
// space.
func phrase(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
