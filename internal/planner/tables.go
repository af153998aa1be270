package planner

import (
	"embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/screening-cli/internal/model"
)

//go:embed tables/*.yaml
var defaultTables embed.FS

// CategorySpec is one adverse-media category: its query templates and the
// keyword set used to pre-filter its candidates.
type CategorySpec struct {
	Name      model.Category `yaml:"name"`
	Keywords  []string       `yaml:"keywords"`
	Templates []string       `yaml:"templates"`
}

// QueryFamily is a set of templates for a non adverse-media stage.
type QueryFamily struct {
	Templates []string `yaml:"templates"`
}

// CategoryTable is the decoded categories file.
type CategoryTable struct {
	AdverseMedia []CategorySpec `yaml:"adverse_media"`
	Profile      QueryFamily    `yaml:"profile"`
	// PrivateProfile replaces Profile for privately held companies.
	PrivateProfile QueryFamily `yaml:"private_profile"`
	Leadership     QueryFamily `yaml:"leadership"`
}

// Jurisdiction routes filing queries to a regulator.
type Jurisdiction struct {
	Key         string   `yaml:"key" json:"key"`
	Regulator   string   `yaml:"regulator" json:"regulator"`
	Sites       []string `yaml:"sites" json:"sites,omitempty"`
	FilingTypes []string `yaml:"filing_types" json:"filing_types"`
	// PrivateFilingTypes are the regulator filings private companies make,
	// such as exempt offering notices.
	PrivateFilingTypes []string `yaml:"private_filing_types" json:"private_filing_types,omitempty"`
	Aliases            []string `yaml:"aliases" json:"-"`
	// Codes match only when they are the whole hint.
	Codes []string `yaml:"codes" json:"-"`
}

// JurisdictionTable is the decoded jurisdictions file.
type JurisdictionTable struct {
	Default       string         `yaml:"default"`
	Fallback      Jurisdiction   `yaml:"fallback"`
	Jurisdictions []Jurisdiction `yaml:"jurisdictions"`
}

// SanctionsSource is one watchlist screened for every entity.
type SanctionsSource struct {
	Key      string   `yaml:"key"`
	Name     string   `yaml:"name"`
	Sites    []string `yaml:"sites"`
	Terms    string   `yaml:"terms"`
	Priority int      `yaml:"priority"`
}

// SanctionsTable is the decoded sanctions sources file.
type SanctionsTable struct {
	Sources []SanctionsSource `yaml:"sources"`
}

// Tables bundles every data table the planner routes with.
type Tables struct {
	Categories    CategoryTable
	Jurisdictions JurisdictionTable
	Sanctions     SanctionsTable
}

// Keywords returns the pre-filter keyword sets keyed by category.
func (t *Tables) Keywords() map[model.Category][]string {
	out := make(map[model.Category][]string, len(t.Categories.AdverseMedia))
	for _, c := range t.Categories.AdverseMedia {
		out[c.Name] = c.Keywords
	}
	return out
}

// DefaultTables returns the tables shipped with the binary.
func DefaultTables() (*Tables, error) {
	return LoadTables("", "", "")
}

// LoadTables reads the embedded defaults, replacing each table whose
// override path is non-empty.
func LoadTables(categoriesFile, jurisdictionsFile, sanctionsFile string) (*Tables, error) {
	t := &Tables{}
	if err := decodeTable("categories.yaml", categoriesFile, &t.Categories); err != nil {
		return nil, err
	}
	if err := decodeTable("jurisdictions.yaml", jurisdictionsFile, &t.Jurisdictions); err != nil {
		return nil, err
	}
	if err := decodeTable("sanctions.yaml", sanctionsFile, &t.Sanctions); err != nil {
		return nil, err
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(t.Sanctions.Sources, func(i, j int) bool {
		return t.Sanctions.Sources[i].Priority < t.Sanctions.Sources[j].Priority
	})
	return t, nil
}

func decodeTable(embedded, override string, dst any) error {
	var (
		data []byte
		err  error
	)
	if override != "" {
		data, err = os.ReadFile(override)
		if err != nil {
			return eris.Wrapf(err, "planner: read table %s", override)
		}
	} else {
		data, err = defaultTables.ReadFile("tables/" + embedded)
		if err != nil {
			return eris.Wrapf(err, "planner: read embedded table %s", embedded)
		}
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		name := override
		if name == "" {
			name = embedded
		}
		return eris.Wrapf(err, "planner: parse table %s", name)
	}
	return nil
}

func (t *Tables) validate() error {
	if len(t.Categories.AdverseMedia) == 0 {
		return eris.New("planner: categories table has no adverse_media entries")
	}
	seen := make(map[model.Category]bool)
	for _, c := range t.Categories.AdverseMedia {
		if c.Name == "" {
			return eris.New("planner: category with empty name")
		}
		if seen[c.Name] {
			return eris.Errorf("planner: duplicate category %q", c.Name)
		}
		seen[c.Name] = true
		if len(c.Templates) == 0 {
			return eris.Errorf("planner: category %q has no templates", c.Name)
		}
	}
	if len(t.Sanctions.Sources) == 0 {
		return eris.New("planner: sanctions table has no sources")
	}
	for _, s := range t.Sanctions.Sources {
		if s.Name == "" {
			return eris.Errorf("planner: sanctions source %q has no name", s.Key)
		}
	}
	return nil
}
