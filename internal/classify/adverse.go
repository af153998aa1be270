package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

const adverseSystemPrompt = `You are an adverse media analyst assessing corporate risk. You receive numbered search results about one entity. Flag only items that are genuinely adverse for that entity: legal action, enforcement, fraud, misconduct, breaches, violations, scandals. Routine, positive or neutral coverage is not adverse, and neither is news about a different entity with a similar name.

Categories: %s

Severity (0.0-1.0): below 0.4 minor or resolved; 0.4-0.7 moderate or under investigation; 0.7-0.9 serious violations or major litigation; 0.9 and above criminal charges or existential threats.
Confidence (0.0-1.0): how certain you are the item is adverse and about this entity.

Reply with only a JSON array, one object per adverse item:
[{"index": <item number>, "category": "<category>", "severity_score": <0-1>, "confidence_score": <0-1>, "description": "<why this is adverse, 1-3 sentences>"}]
Reply [] when nothing is adverse.`

// FindingsResult is the outcome of ClassifyFindings.
type FindingsResult struct {
	Findings []model.Finding
	Usage    Usage
}

type rawFinding struct {
	Index       *int     `json:"index"`
	Category    string   `json:"category"`
	Severity    *float64 `json:"severity_score"`
	Confidence  *float64 `json:"confidence_score"`
	Description string   `json:"description"`
}

// ClassifyFindings classifies adverse-media candidates. A batch that fails
// after retries is skipped; an error is returned only when every batch
// failed.
func (c *Classifier) ClassifyFindings(ctx context.Context, e model.Entity, candidates []model.Candidate) (*FindingsResult, error) {
	res := &FindingsResult{}
	if len(candidates) == 0 {
		return res, nil
	}

	rendered := make([]string, len(candidates))
	for i, cand := range candidates {
		rendered[i] = renderCandidate(cand)
	}
	groups := batches(rendered, c.opts.BatchSize, c.opts.MaxBatchChars)

	system := fmt.Sprintf(adverseSystemPrompt, c.categoryList())
	perBatch := make([][]model.Finding, len(groups))
	usages := make([]Usage, len(groups))
	errs := make([]error, len(groups))

	g := new(errgroup.Group)
	g.SetLimit(c.opts.Concurrency)
	for bi, idx := range groups {
		g.Go(func() error {
			prompt := batchPrompt(e, idx, rendered)
			var out []model.Finding
			var dropped int
			u, err := c.evaluate(ctx, ModeAdverse, system, prompt, func(text string) error {
				raws, err := anthropic.DecodeList[rawFinding](text, "findings")
				if err != nil {
					return err
				}
				out, dropped = c.validateFindings(e, idx, candidates, raws)
				return nil
			})
			u.Dropped = dropped
			usages[bi] = u
			if err != nil {
				errs[bi] = err
				zap.L().Warn("classify: adverse batch failed",
					zap.String("entity_id", e.ID),
					zap.Int("batch", bi),
					zap.Int("size", len(idx)),
					zap.Error(err),
				)
				return nil
			}
			perBatch[bi] = out
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for bi := range groups {
		res.Usage.add(usages[bi])
		if errs[bi] != nil {
			failed++
			continue
		}
		res.Findings = append(res.Findings, perBatch[bi]...)
	}
	if failed == len(groups) {
		return res, eris.Wrapf(errs[0], "classify: all %d adverse batches failed", failed)
	}
	return res, nil
}

func (c *Classifier) validateFindings(e model.Entity, idx []int, candidates []model.Candidate, raws []rawFinding) ([]model.Finding, int) {
	now := c.opts.Now().UTC()
	var out []model.Finding
	dropped := 0
	drop := func(reason string) {
		dropped++
		c.opts.Metrics.ClassifierDropped(ModeAdverse, reason)
	}
	for _, r := range raws {
		if r.Index == nil || *r.Index < 0 || *r.Index >= len(idx) {
			drop(ReasonBadIndex)
			continue
		}
		cand := candidates[idx[*r.Index]]
		if strings.TrimSpace(cand.SourceURL) == "" {
			drop(ReasonMissingURL)
			continue
		}
		if !inUnit(r.Severity) || !inUnit(r.Confidence) {
			drop(ReasonScoreRange)
			continue
		}
		cat, ok := c.category(r.Category)
		if !ok {
			drop(ReasonUnknownCategory)
			continue
		}
		if *r.Confidence < c.opts.MinConfidence {
			drop(ReasonBelowConfidence)
			continue
		}
		out = append(out, model.Finding{
			EntityID:        e.ID,
			Category:        cat,
			SeverityScore:   *r.Severity,
			ConfidenceScore: *r.Confidence,
			SeverityLevel:   model.SeverityBand(*r.Severity),
			Description:     strings.TrimSpace(r.Description),
			SourceURL:       cand.SourceURL,
			Title:           cand.Title,
			PublishedDate:   cand.PublishedDate,
			ExtractedAt:     now,
		})
	}
	return out, dropped
}

// category resolves a model-supplied category against the accepted set.
func (c *Classifier) category(s string) (model.Category, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if len(c.categories) == 0 {
		return model.Category(s), true
	}
	cat, ok := c.categories[strings.ToLower(s)]
	return cat, ok
}

func (c *Classifier) categoryList() string {
	if len(c.opts.Categories) == 0 {
		return "any risk category that fits"
	}
	names := make([]string, len(c.opts.Categories))
	for i, cat := range c.opts.Categories {
		names[i] = string(cat)
	}
	return strings.Join(names, ", ")
}

func renderCandidate(c model.Candidate) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(c.Title)
	b.WriteString("\nURL: ")
	b.WriteString(c.SourceURL)
	if c.PublishedDate != nil {
		b.WriteString("\nPublished: ")
		b.WriteString(c.PublishedDate.Format("2006-01-02"))
	}
	b.WriteString("\nSnippet: ")
	b.WriteString(anthropic.Truncate(c.Snippet, 2000))
	return b.String()
}

func batchPrompt(e model.Entity, idx []int, rendered []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s (%s)\n\n", e.DisplayName, e.Kind)
	for n, i := range idx {
		fmt.Fprintf(&b, "[%d]\n%s\n\n", n, rendered[i])
	}
	return b.String()
}
