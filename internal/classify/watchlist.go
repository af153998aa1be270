package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

const watchlistSystemPrompt = `You are a sanctions compliance analyst. You receive numbered search results from one official watchlist source and must decide which of them show that the named entity is listed.

Only report genuine matches where the listed name clearly refers to the entity. Be conservative: when in doubt, give a low confidence or leave the result out. For politically exposed persons, verify the person holds or held a significant public position.

Confidence (0.0-1.0): near 1.0 for an exact name match backed by identifiers (date of birth, address, registration number); around 0.6 for a strong name match with context but missing identifiers; below 0.5 for name similarity with significant uncertainty.

Reply with only JSON:
{"matches": [{"index": <result number>, "confidence_score": <0-1>, "justification": "<50-100 words citing the evidence>", "match_reason": "<short reason>", "match_details": {"aliases": [], "identifiers": {}}}]}
Reply {"matches": []} when nothing matches.`

// MatchesResult is the outcome of ScreenWatchlist.
type MatchesResult struct {
	Matches []model.WatchlistMatch
	Usage   Usage
}

type rawMatch struct {
	Index         *int           `json:"index"`
	Confidence    *float64       `json:"confidence_score"`
	Justification string         `json:"justification"`
	MatchReason   string         `json:"match_reason"`
	MatchDetails  map[string]any `json:"match_details"`
}

// ScreenWatchlist asks whether the results of one watchlist source list the
// entity. Each match is attributed to source and bucketed by confidence.
// Batches run sequentially; an error is returned when every batch failed or
// ctx ended the screening early.
func (c *Classifier) ScreenWatchlist(ctx context.Context, e model.Entity, source string, results []model.Candidate) (*MatchesResult, error) {
	res := &MatchesResult{}
	if len(results) == 0 {
		return res, nil
	}

	rendered := make([]string, len(results))
	for i, r := range results {
		rendered[i] = renderCandidate(r)
	}
	groups := batches(rendered, c.opts.BatchSize, c.opts.MaxBatchChars)

	var firstErr error
	failed := 0
	for _, idx := range groups {
		prompt := fmt.Sprintf("Source: %s\n", source) + batchPrompt(e, idx, rendered)
		var out []model.WatchlistMatch
		var dropped int
		u, err := c.evaluate(ctx, ModeWatchlist, watchlistSystemPrompt, prompt, func(text string) error {
			raws, err := anthropic.DecodeList[rawMatch](text, "matches")
			if err != nil {
				return err
			}
			out, dropped = c.validateMatches(e, source, idx, results, raws)
			return nil
		})
		u.Dropped = dropped
		res.Usage.add(u)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		res.Matches = append(res.Matches, out...)
	}
	if failed > 0 && (failed == len(groups) || ctx.Err() != nil) {
		return res, eris.Wrapf(firstErr, "classify: watchlist %s", source)
	}
	return res, nil
}

func (c *Classifier) validateMatches(e model.Entity, source string, idx []int, results []model.Candidate, raws []rawMatch) ([]model.WatchlistMatch, int) {
	now := c.opts.Now().UTC()
	var out []model.WatchlistMatch
	dropped := 0
	drop := func(reason string) {
		dropped++
		c.opts.Metrics.ClassifierDropped(ModeWatchlist, reason)
	}
	for _, r := range raws {
		if r.Index == nil || *r.Index < 0 || *r.Index >= len(idx) {
			drop(ReasonBadIndex)
			continue
		}
		cand := results[idx[*r.Index]]
		if strings.TrimSpace(cand.SourceURL) == "" {
			drop(ReasonMissingURL)
			continue
		}
		if !inUnit(r.Confidence) {
			drop(ReasonScoreRange)
			continue
		}
		details := make(map[string]any, len(r.MatchDetails)+2)
		for k, v := range r.MatchDetails {
			details[k] = v
		}
		if reason := strings.TrimSpace(r.MatchReason); reason != "" {
			details["match_reason"] = reason
		}
		details["title"] = cand.Title
		out = append(out, model.WatchlistMatch{
			EntityID:        e.ID,
			EntityName:      e.DisplayName,
			MatchType:       source,
			ConfidenceLevel: c.opts.Buckets.Level(*r.Confidence),
			ConfidenceScore: *r.Confidence,
			Justification:   strings.TrimSpace(r.Justification),
			SourceURL:       cand.SourceURL,
			MatchDetails:    details,
			ScreenedAt:      now,
		})
	}
	return out, dropped
}
