// Package pipeline orchestrates one screening run: the critical company
// profile stage, the parallel executive, adverse-media and sanctions stages,
// and the final merge into a unified record.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screening-cli/internal/classify"
	"github.com/sells-group/screening-cli/internal/config"
	"github.com/sells-group/screening-cli/internal/cost"
	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/metrics"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/planner"
	"github.com/sells-group/screening-cli/internal/prefilter"
	"github.com/sells-group/screening-cli/internal/search"
	"github.com/sells-group/screening-cli/internal/store"
)

// ErrInvalidEntity is returned when the trigger names no entity or an
// unknown company type.
var ErrInvalidEntity = eris.New("pipeline: invalid entity")

// Searcher runs planned queries against one search provider.
type Searcher interface {
	Search(ctx context.Context, queries []model.SearchQuery, opts ...search.CallOption) search.Outcome
	Provider() string
}

// Classifier evaluates adverse-media candidates and watchlist results.
type Classifier interface {
	ClassifyFindings(ctx context.Context, e model.Entity, candidates []model.Candidate) (*classify.FindingsResult, error)
	ScreenWatchlist(ctx context.Context, e model.Entity, source string, results []model.Candidate) (*classify.MatchesResult, error)
}

// Extractor builds structured profiles from search candidates.
type Extractor interface {
	ExtractCompany(ctx context.Context, e model.Entity, j planner.Jurisdiction, cands []model.Candidate) (*extract.CompanyResult, error)
	ExtractExecutives(ctx context.Context, e model.Entity, website string, cands []model.Candidate) (*extract.ExecutivesResult, error)
}

// Merger combines the persisted records of an entity.
type Merger interface {
	Merge(ctx context.Context, entityID string) (*model.UnifiedRecord, string, error)
}

// Runner executes a screening run for a trigger request.
type Runner interface {
	Run(ctx context.Context, req model.TriggerRequest) (*model.RunResult, error)
}

// Deps are the collaborators of an Orchestrator. Metrics and Cost may be
// nil.
type Deps struct {
	Planner    *planner.Planner
	Search     Searcher
	PreFilter  *prefilter.PreFilter
	Classifier Classifier
	Extractor  Extractor
	Store      store.Store
	Merger     Merger
	Metrics    *metrics.Manager
	Cost       *cost.Calculator
}

// Options tunes an Orchestrator.
type Options struct {
	CriticalTimeout     time.Duration
	ExecutivesTimeout   time.Duration
	AdverseMediaTimeout time.Duration
	SanctionsTimeout    time.Duration
	MergeTimeout        time.Duration
	// TargetCompleteness separates Success from PartialSuccess.
	TargetCompleteness   float64
	ResultsPerSource     int
	SanctionsConcurrency int
	MaxExecutives        int
	Now                  func() time.Time
	NewRunID             func() string
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CriticalTimeout:      seconds(cfg.Pipeline.CriticalTimeoutSecs),
		ExecutivesTimeout:    seconds(cfg.Pipeline.ExecutivesTimeoutSecs),
		AdverseMediaTimeout:  seconds(cfg.Pipeline.AdverseMediaTimeoutSecs),
		SanctionsTimeout:     seconds(cfg.Pipeline.SanctionsTimeoutSecs),
		MergeTimeout:         seconds(cfg.Pipeline.MergeTimeoutSecs),
		TargetCompleteness:   cfg.Extract.TargetCompleteness,
		ResultsPerSource:     cfg.Sanctions.ResultsPerSource,
		SanctionsConcurrency: cfg.Sanctions.Concurrency,
		MaxExecutives:        cfg.Sanctions.MaxExecutives,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Orchestrator runs screening pipelines.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	defaultDuration(&opts.CriticalTimeout, 3*time.Minute)
	defaultDuration(&opts.ExecutivesTimeout, 3*time.Minute)
	defaultDuration(&opts.AdverseMediaTimeout, 5*time.Minute)
	defaultDuration(&opts.SanctionsTimeout, 5*time.Minute)
	defaultDuration(&opts.MergeTimeout, 30*time.Second)
	if opts.TargetCompleteness <= 0 {
		opts.TargetCompleteness = 95
	}
	if opts.ResultsPerSource <= 0 {
		opts.ResultsPerSource = 5
	}
	if opts.SanctionsConcurrency <= 0 {
		opts.SanctionsConcurrency = 3
	}
	if opts.MaxExecutives <= 0 {
		opts.MaxExecutives = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	return &Orchestrator{deps: deps, opts: opts}
}

func defaultDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// run is the mutable state of one execution.
type run struct {
	o       *Orchestrator
	id      string
	entity  model.Entity
	log     *zap.Logger
	machine *machine
	tracked bool

	mu     sync.Mutex
	result *model.RunResult
}

// Run screens the entity named by req. It returns an error only for an
// invalid request; stage failures are reported in the result.
func (o *Orchestrator) Run(ctx context.Context, req model.TriggerRequest) (*model.RunResult, error) {
	e := model.NewEntity(req.EntityName, model.EntityCompany, req.JurisdictionHint)
	if e.ID == "" {
		return nil, eris.Wrapf(ErrInvalidEntity, "name %q", req.EntityName)
	}
	ct, ok := model.ParseCompanyType(req.CompanyType)
	if !ok {
		return nil, eris.Wrapf(ErrInvalidEntity, "company type %q", req.CompanyType)
	}
	e.CompanyType = ct

	r := &run{
		o:       o,
		id:      o.opts.NewRunID(),
		entity:  e,
		machine: newMachine(),
		result: &model.RunResult{
			EntityID: e.ID,
			Stages:   make(map[model.PipelineKind]model.StageResult, len(model.PipelineKinds)),
		},
	}
	r.result.RunID = r.id
	r.log = zap.L().With(zap.String("entity_id", e.ID), zap.String("run_id", r.id))
	r.log.Info("pipeline: starting screening", zap.String("entity", e.DisplayName), zap.String("jurisdiction", e.JurisdictionHint))

	r.createRun(ctx)
	r.setState(ctx, model.RunRunningCritical)

	secOut, secRes := r.track(ctx, model.KindSEC, o.opts.CriticalTimeout, r.secStage)
	profile, _ := secOut.payload.(*model.CompanyProfile)
	if secRes.Status == model.RecordFailed || profile == nil {
		r.result.FailedStage = model.KindSEC
		r.result.Error = secRes.Error
		r.setState(ctx, model.RunFailed)
		return r.finish(ctx), nil
	}

	r.setState(ctx, model.RunRunningParallel)
	executives := make(chan []model.ExecutiveProfile, 1)

	var g errgroup.Group
	g.Go(func() error {
		var found []model.ExecutiveProfile
		defer func() { executives <- found }()

		out, sr := r.track(ctx, model.KindExecutives, o.opts.ExecutivesTimeout, func(ctx context.Context) (*stageOutput, error) {
			return r.executivesStage(ctx, profile.WebsiteURL)
		})
		if list, ok := out.payload.(*model.ExecutiveList); ok && sr.Status != model.RecordFailed {
			found = list.Executives
		}
		return nil
	})
	g.Go(func() error {
		r.track(ctx, model.KindAdverseMedia, o.opts.AdverseMediaTimeout, r.adverseMediaStage)
		return nil
	})
	g.Go(func() error {
		r.track(ctx, model.KindSanctions, o.opts.SanctionsTimeout, func(ctx context.Context) (*stageOutput, error) {
			return r.sanctionsStage(ctx, executives)
		})
		return nil
	})
	_ = g.Wait()

	r.setState(ctx, model.RunCompiling)
	r.compile()

	r.setState(ctx, model.RunMerging)
	mctx, cancel := context.WithTimeout(ctx, o.opts.MergeTimeout)
	_, loc, err := o.deps.Merger.Merge(mctx, e.ID)
	cancel()
	if err != nil {
		r.result.Degraded = true
		r.result.Error = eris.Wrap(err, "pipeline: merge").Error()
		r.log.Warn("pipeline: merge failed, completing degraded", zap.Error(err))
	} else {
		r.result.UnifiedRecordLocation = loc
	}

	r.setState(ctx, model.RunCompleted)
	return r.finish(ctx), nil
}

// compile derives the run summary from the stage results.
func (r *run) compile() {
	var sum float64
	counts := make(map[model.RecordStatus]int, 3)
	for _, kind := range model.PipelineKinds {
		sr, ok := r.result.Stages[kind]
		if !ok {
			continue
		}
		counts[sr.Status]++
		sum += sr.Completeness
		if sr.Status == model.RecordFailed && kind != model.KindSEC {
			r.result.Degraded = true
		}
	}
	if n := len(r.result.Stages); n > 0 {
		r.result.CompletenessScore = round2(sum / float64(n))
	}
	r.log.Info("pipeline: stages compiled",
		zap.Int("success", counts[model.RecordSuccess]),
		zap.Int("partial", counts[model.RecordPartialSuccess]),
		zap.Int("failed", counts[model.RecordFailed]),
		zap.Float64("completeness", r.result.CompletenessScore),
	)
}

func (r *run) createRun(ctx context.Context) {
	if _, err := r.o.deps.Store.CreateRun(ctx, r.id, r.entity); err != nil {
		r.log.Warn("pipeline: failed to create run", zap.Error(err))
		return
	}
	r.tracked = true
}

func (r *run) setState(ctx context.Context, to model.RunState) {
	if err := r.machine.advance(to); err != nil {
		r.log.Error("pipeline: state machine rejected transition", zap.Error(err))
		return
	}
	if !r.tracked || to.Terminal() {
		return
	}
	if err := r.o.deps.Store.UpdateRunState(ctx, r.id, to); err != nil {
		r.log.Warn("pipeline: failed to update run state", zap.String("state", string(to)), zap.Error(err))
	}
}

func (r *run) finish(ctx context.Context) *model.RunResult {
	res := r.result
	res.State = r.machine.state
	res.Transitions = append([]model.RunState(nil), r.machine.history...)

	if r.tracked {
		if err := r.o.deps.Store.UpdateRunResult(ctx, r.id, res); err != nil {
			r.log.Warn("pipeline: failed to save run result", zap.Error(err))
		}
	}
	r.o.deps.Metrics.Run(string(res.State), res.Degraded)

	r.log.Info("pipeline: screening finished",
		zap.String("state", string(res.State)),
		zap.Bool("degraded", res.Degraded),
		zap.Float64("completeness", res.CompletenessScore),
		zap.String("location", res.UnifiedRecordLocation),
	)
	return res
}
