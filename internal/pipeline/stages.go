package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screening-cli/internal/aggregate"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/search"
)

// secStage extracts the company profile from regulator filings and the
// open web, or from registries and business press for private companies.
// It is the only critical stage.
func (r *run) secStage(ctx context.Context) (*stageOutput, error) {
	d := r.o.deps
	j := d.Planner.Jurisdictions().Lookup(r.entity.JurisdictionHint)

	outcome := d.Search.Search(ctx, d.Planner.FilingQueries(r.entity), search.WithRecency(0))
	out := r.searchOutput(outcome)
	out.metadata["jurisdiction"] = j.Key
	out.metadata["regulator"] = j.Regulator
	out.metadata["company_type"] = string(r.entity.CompanyType)
	if err := allQueriesFailed(outcome); err != nil {
		return out, eris.Wrap(err, "sec stage")
	}

	res, err := d.Extractor.ExtractCompany(ctx, r.entity, j, outcome.Candidates)
	if res != nil {
		out.costUSD += res.Usage.CostUSD
		out.metadata["attempts"] = res.Usage.Attempts
		out.metadata["input_tokens"] = res.Usage.InputTokens
		out.metadata["output_tokens"] = res.Usage.OutputTokens
	}
	if err != nil {
		return out, eris.Wrap(err, "sec stage")
	}
	if res.Profile == nil {
		return out, eris.New("sec stage: no profile extracted")
	}
	out.payload = res.Profile
	out.completeness = res.Completeness
	return out, nil
}

// executivesStage extracts the leadership team.
func (r *run) executivesStage(ctx context.Context, website string) (*stageOutput, error) {
	d := r.o.deps

	outcome := d.Search.Search(ctx, d.Planner.ExecutiveQueries(r.entity))
	out := r.searchOutput(outcome)
	if err := allQueriesFailed(outcome); err != nil {
		return out, eris.Wrap(err, "executives stage")
	}

	res, err := d.Extractor.ExtractExecutives(ctx, r.entity, website, outcome.Candidates)
	if res != nil {
		out.costUSD += res.Usage.CostUSD
		out.metadata["attempts"] = res.Usage.Attempts
		out.metadata["executives"] = len(res.Executives)
	}
	if err != nil {
		return out, eris.Wrap(err, "executives stage")
	}
	out.payload = &model.ExecutiveList{Executives: nonNilExecutives(res.Executives)}
	out.completeness = res.Completeness
	return out, nil
}

// adverseMediaStage plans, searches, pre-filters, classifies and aggregates
// adverse media.
func (r *run) adverseMediaStage(ctx context.Context) (*stageOutput, error) {
	d := r.o.deps

	outcome := d.Search.Search(ctx, d.Planner.AdverseMediaQueries(r.entity))
	out := r.searchOutput(outcome)
	if err := allQueriesFailed(outcome); err != nil {
		return out, eris.Wrap(err, "adverse media stage")
	}

	survivors, stats := d.PreFilter.FilterAll(r.entity, outcome.Candidates)
	out.metadata["prefilter_kept"] = stats.Out
	out.metadata["prefilter_mandatory"] = stats.Mandatory

	res, err := d.Classifier.ClassifyFindings(ctx, r.entity, survivors)
	if res != nil {
		out.costUSD += res.Usage.CostUSD
		out.metadata["batches"] = res.Usage.Batches
		out.metadata["failed_batches"] = res.Usage.FailedBatches
		out.metadata["dropped"] = res.Usage.Dropped
	}
	if err != nil {
		return out, eris.Wrap(err, "adverse media stage")
	}

	findings, summary := aggregate.Aggregate(res.Findings)
	if findings == nil {
		findings = []model.Finding{}
	}
	summary.CandidatesSeen = len(outcome.Candidates)
	summary.Classified = len(survivors)
	out.metadata["findings"] = len(findings)

	out.payload = &model.AdverseMediaResult{Findings: findings, Summary: summary}
	out.completeness = 100 * queryCoverage(outcome) * batchCoverage(res.Usage.Batches, res.Usage.FailedBatches)
	return out, nil
}

// screening counts watchlist checks of one entity.
type screening struct {
	matches []model.WatchlistMatch
	ok      int
	failed  int
	costUSD float64
	err     error
}

// sanctionsStage screens the company at once and its executives once the
// executive stage has settled.
func (r *run) sanctionsStage(ctx context.Context, executives <-chan []model.ExecutiveProfile) (*stageOutput, error) {
	out := &stageOutput{metadata: map[string]any{}}

	company := r.screen(ctx, r.entity)
	out.costUSD += company.costUSD
	if company.err != nil {
		return out, eris.Wrap(company.err, "sanctions stage: screen company")
	}

	var execs []model.ExecutiveProfile
	select {
	case execs = <-executives:
	case <-ctx.Done():
		return out, eris.Wrap(ctx.Err(), "sanctions stage: waiting for executives")
	}
	if len(execs) > r.o.opts.MaxExecutives {
		execs = execs[:r.o.opts.MaxExecutives]
	}

	people := make([]screening, len(execs))
	g := new(errgroup.Group)
	g.SetLimit(r.o.opts.SanctionsConcurrency)
	for i, ex := range execs {
		g.Go(func() error {
			person := model.NewEntity(ex.Name, model.EntityPerson, r.entity.JurisdictionHint)
			s := r.screen(ctx, person)
			for k := range s.matches {
				m := &s.matches[k]
				if m.MatchDetails == nil {
					m.MatchDetails = map[string]any{}
				}
				m.MatchDetails["executive_title"] = ex.Title
				m.MatchDetails["company_id"] = r.entity.ID
			}
			people[i] = s
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, eris.Wrap(err, "sanctions stage: screen executives")
	}

	ok, failed := company.ok, company.failed
	var execMatches []model.WatchlistMatch
	screened := 0
	for i, s := range people {
		out.costUSD += s.costUSD
		ok += s.ok
		failed += s.failed
		if s.err != nil {
			r.log.Warn("pipeline: executive screening failed", zap.String("executive", execs[i].Name), zap.Error(s.err))
			continue
		}
		screened++
		execMatches = append(execMatches, s.matches...)
	}

	res := &model.SanctionsResult{
		CompanyMatches:     aggregate.DedupMatches(company.matches),
		ExecutiveMatches:   aggregate.DedupMatches(execMatches),
		SourcesChecked:     r.sourceNames(),
		ExecutivesScreened: screened,
	}
	out.metadata["company_matches"] = len(res.CompanyMatches)
	out.metadata["executive_matches"] = len(res.ExecutiveMatches)
	out.metadata["executives_screened"] = screened
	out.metadata["failed_checks"] = failed

	out.payload = res
	out.completeness = 100 * float64(ok) / float64(max(ok+failed, 1))
	return out, nil
}

// screen checks one entity against every watchlist source. A source whose
// query or classification fails is counted and skipped; the screening fails
// only when no source could be checked.
func (r *run) screen(ctx context.Context, e model.Entity) screening {
	d := r.o.deps
	queries := d.Planner.WatchlistQueries(e)
	n := r.o.opts.ResultsPerSource

	outcome := d.Search.Search(ctx, queries, search.WithNum(n), search.WithRecency(0))
	s := screening{costUSD: d.Cost.Queries(d.Search.Provider(), outcome.Calls)}

	queryFailed := make(map[string]bool, len(outcome.Errors))
	for _, qe := range outcome.Errors {
		queryFailed[qe.Query.Source] = true
	}
	bySource := topPerSource(outcome.Candidates, n)

	for _, q := range queries {
		if queryFailed[q.Source] {
			s.failed++
			continue
		}
		results := bySource[q.Source]
		if len(results) == 0 {
			s.ok++
			continue
		}
		res, err := d.Classifier.ScreenWatchlist(ctx, e, q.Source, results)
		if res != nil {
			s.costUSD += res.Usage.CostUSD
		}
		if err != nil {
			s.failed++
			r.log.Warn("pipeline: watchlist source failed",
				zap.String("screened", e.DisplayName),
				zap.String("source", q.Source),
				zap.Error(err),
			)
			continue
		}
		s.ok++
		s.matches = append(s.matches, res.Matches...)
	}

	if s.ok == 0 && s.failed > 0 {
		s.err = eris.Errorf("pipeline: all %d watchlist sources failed for %s", s.failed, e.ID)
	}
	return s
}

func (r *run) sourceNames() []string {
	sources := r.o.deps.Planner.Tables().Sanctions.Sources
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name)
	}
	return names
}

// topPerSource groups candidates by watchlist source, keeping the first n of
// each in search order.
func topPerSource(cands []model.Candidate, n int) map[string][]model.Candidate {
	out := make(map[string][]model.Candidate)
	for _, c := range cands {
		if len(out[c.Source]) < n {
			out[c.Source] = append(out[c.Source], c)
		}
	}
	return out
}

func (r *run) searchOutput(o search.Outcome) *stageOutput {
	d := r.o.deps
	return &stageOutput{
		costUSD: d.Cost.Queries(d.Search.Provider(), o.Calls),
		metadata: map[string]any{
			"queries":      o.Queries,
			"query_errors": len(o.Errors),
			"candidates":   len(o.Candidates),
			"search_calls": o.Calls,
		},
	}
}

func allQueriesFailed(o search.Outcome) error {
	if o.Queries == 0 || len(o.Errors) < o.Queries {
		return nil
	}
	return eris.Wrapf(o.Errors[0], "all %d queries failed", o.Queries)
}

func queryCoverage(o search.Outcome) float64 {
	if o.Queries == 0 {
		return 1
	}
	return float64(o.Queries-len(o.Errors)) / float64(o.Queries)
}

func batchCoverage(batches, failed int) float64 {
	if batches == 0 {
		return 1
	}
	return float64(batches-failed) / float64(batches)
}

func nonNilExecutives(xs []model.ExecutiveProfile) []model.ExecutiveProfile {
	if xs == nil {
		return []model.ExecutiveProfile{}
	}
	return xs
}
