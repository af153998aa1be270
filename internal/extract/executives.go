package extract

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

const executivesSystemPrompt = `You identify the current senior executives of a company from search results and web pages.
Include C-level officers, presidents, chairs and founders. Include board members only when they hold an executive role.
Use full names without honorifics. Ignore executives of other companies and people who have left the company.
Reply with only a JSON array; each element has this shape:
{"name": "", "title": "", "role_category": "CEO|CFO|CTO|COO|President|Chairman|Founder|Executive",
 "description": "", "tenure": "", "background": "", "education": "", "previous_roles": [""], "source_url": ""}`

// Role categories, in presentation priority.
const (
	RoleCEO       = "CEO"
	RolePresident = "President"
	RoleChairman  = "Chairman"
	RoleCFO       = "CFO"
	RoleCOO       = "COO"
	RoleCTO       = "CTO"
	RoleFounder   = "Founder"
	RoleExecutive = "Executive"
)

var rolePriority = map[string]int{
	RoleCEO:       1,
	RolePresident: 2,
	RoleChairman:  3,
	RoleCFO:       4,
	RoleCOO:       5,
	RoleCTO:       6,
	RoleFounder:   7,
	RoleExecutive: 8,
}

// expectedExecutives is the team size at which the quantity component of
// completeness saturates.
const expectedExecutives = 3

// ExecutivesResult is the best executive list produced across attempts.
type ExecutivesResult struct {
	Executives   []model.ExecutiveProfile
	Completeness float64
	Usage        Usage
}

// ExtractExecutives identifies the entity's executives from leadership
// candidates. website, when known, anchors the prompt to the right company.
// Finding no executives is not an error.
func (x *Extractor) ExtractExecutives(ctx context.Context, e model.Entity, website string, cands []model.Candidate) (*ExecutivesResult, error) {
	res := &ExecutivesResult{Executives: []model.ExecutiveProfile{}}
	if len(cands) == 0 {
		return res, nil
	}
	log := zap.L().With(zap.String("entity_id", e.ID), zap.String("stage", string(model.KindExecutives)))

	known := make(map[string]bool, len(cands))
	for _, c := range cands {
		known[c.SourceURL] = true
	}
	pages := make(map[string]string)
	decoded := false
	var lastErr error

	for attempt := 0; attempt < x.opts.MaxAttempts; attempt++ {
		res.Usage.Attempts++
		prompt := executivesPrompt(e, website) + x.renderSources(ctx, cands, attempt, pages)
		text, err := x.ask(ctx, executivesSystemPrompt, prompt, &res.Usage)
		if err != nil {
			lastErr = err
			if fatal(ctx, err) {
				break
			}
			continue
		}
		execs, err := decodeExecutives(text, known)
		if err != nil {
			lastErr = err
			log.Warn("extract: unusable executive list", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		decoded = true

		score := ExecutiveCompleteness(execs)
		log.Debug("extract: executives attempt",
			zap.Int("attempt", attempt+1),
			zap.Int("executives", len(execs)),
			zap.Float64("completeness", score),
		)
		if score > res.Completeness || (len(res.Executives) == 0 && len(execs) > 0) {
			res.Executives, res.Completeness = execs, score
		}
		if score >= x.opts.TargetCompleteness {
			break
		}
	}

	if !decoded {
		return res, eris.Wrapf(lastErr, "extract: executives for %s", e.ID)
	}
	return res, nil
}

func executivesPrompt(e model.Entity, website string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", e.DisplayName)
	if website != "" {
		fmt.Fprintf(&b, "Website: %s\n", website)
	}
	b.WriteString("\nSources:\n\n")
	return b.String()
}

type rawExecutive struct {
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	RoleCategory  string   `json:"role_category"`
	Description   string   `json:"description"`
	Tenure        string   `json:"tenure"`
	Background    string   `json:"background"`
	Education     string   `json:"education"`
	PreviousRoles []string `json:"previous_roles"`
	SourceURL     string   `json:"source_url"`
}

// decodeExecutives parses model output into cleaned, deduplicated and
// ordered profiles. source_url is kept only when it names a known source.
func decodeExecutives(text string, known map[string]bool) ([]model.ExecutiveProfile, error) {
	raws, err := anthropic.DecodeList[rawExecutive](text, "executives")
	if err != nil {
		return nil, err
	}
	out := make([]model.ExecutiveProfile, 0, len(raws))
	for _, r := range raws {
		name := clean(r.Name)
		title := clean(r.Title)
		if name == "" || strings.EqualFold(name, title) {
			continue
		}
		role := r.RoleCategory
		if _, ok := rolePriority[role]; !ok {
			role = CategorizeRole(title)
		}
		src := strings.TrimSpace(r.SourceURL)
		if !known[src] {
			src = ""
		}
		var prev []string
		for _, p := range r.PreviousRoles {
			if p = clean(p); p != "" {
				prev = append(prev, p)
			}
		}
		out = append(out, model.ExecutiveProfile{
			Name:          name,
			Title:         title,
			RoleCategory:  role,
			Description:   clean(r.Description),
			Tenure:        clean(r.Tenure),
			Background:    clean(r.Background),
			Education:     clean(r.Education),
			PreviousRoles: prev,
			SourceURL:     src,
		})
	}
	return DedupExecutives(out), nil
}

// CategorizeRole maps a job title to a role category.
func CategorizeRole(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	switch {
	case strings.Contains(t, "chief executive") || t == "ceo":
		return RoleCEO
	case strings.Contains(t, "chief financial") || t == "cfo":
		return RoleCFO
	case strings.Contains(t, "chief technology") || t == "cto":
		return RoleCTO
	case strings.Contains(t, "chief operating") || t == "coo":
		return RoleCOO
	case strings.Contains(t, "president"):
		return RolePresident
	case strings.Contains(t, "chairman") || strings.Contains(t, "chair of the board") || t == "chair":
		return RoleChairman
	case strings.Contains(t, "founder"):
		return RoleFounder
	default:
		return RoleExecutive
	}
}

// DedupExecutives keeps the first profile per (name, role) and orders the
// result by role priority. Equal roles keep input order.
func DedupExecutives(execs []model.ExecutiveProfile) []model.ExecutiveProfile {
	type key struct{ name, role string }
	seen := make(map[key]bool, len(execs))
	out := make([]model.ExecutiveProfile, 0, len(execs))
	for _, ex := range execs {
		k := key{strings.ToLower(strings.TrimSpace(ex.Name)), strings.ToLower(ex.RoleCategory)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ex)
	}
	slices.SortStableFunc(out, func(a, b model.ExecutiveProfile) int {
		return cmp.Compare(priority(a.RoleCategory), priority(b.RoleCategory))
	})
	return out
}

func priority(role string) int {
	if p, ok := rolePriority[role]; ok {
		return p
	}
	return len(rolePriority) + 1
}

// ExecutiveCompleteness scores an executive list out of 100: 40 for
// finding at least three executives (pro rata below that) and 60 scaled by
// the mean share of the seven profile fields that are filled.
func ExecutiveCompleteness(execs []model.ExecutiveProfile) float64 {
	if len(execs) == 0 {
		return 0
	}
	quantity := min(float64(len(execs))/expectedExecutives, 1) * 40

	var quality float64
	for _, ex := range execs {
		n := 0
		for _, v := range []string{ex.Name, ex.Title, ex.RoleCategory, ex.Description, ex.Tenure, ex.Background, ex.Education} {
			if filled(v) {
				n++
			}
		}
		quality += float64(n) / 7
	}
	quality = quality / float64(len(execs)) * 60
	return round2(quantity + quality)
}
