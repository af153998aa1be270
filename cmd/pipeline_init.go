package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/blob"
	"github.com/sells-group/screening-cli/internal/classify"
	"github.com/sells-group/screening-cli/internal/config"
	"github.com/sells-group/screening-cli/internal/cost"
	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/merge"
	"github.com/sells-group/screening-cli/internal/metrics"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/pipeline"
	"github.com/sells-group/screening-cli/internal/planner"
	"github.com/sells-group/screening-cli/internal/prefilter"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/internal/scrape"
	"github.com/sells-group/screening-cli/internal/search"
	"github.com/sells-group/screening-cli/internal/store"
	anthropicpkg "github.com/sells-group/screening-cli/pkg/anthropic"
	"github.com/sells-group/screening-cli/pkg/jina"
	"github.com/sells-group/screening-cli/pkg/serper"
)

// screeningEnv holds the store, blob store and orchestrator needed by the
// run, merge and serve commands.
type screeningEnv struct {
	Store        store.Store
	Blobs        blob.Store
	Merger       *merge.Merger
	Orchestrator *pipeline.Orchestrator
	Metrics      *metrics.Manager
	cache        *search.RedisCache
}

// Close releases resources held by the environment.
func (env *screeningEnv) Close() {
	if env.cache != nil {
		_ = env.cache.Close()
	}
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

// initStorage opens the record and blob stores. Commands that only read
// history or merge records use it without API credentials.
func initStorage(ctx context.Context, c *config.Config) (*screeningEnv, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	blobs, err := initBlob(ctx, c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &screeningEnv{
		Store:   st,
		Blobs:   blobs,
		Merger:  merge.New(st, blobs, nil),
		Metrics: metrics.NewManager(metrics.WithNamespace(c.Metrics.Namespace)),
	}, nil
}

// initScreening builds the full pipeline for mode ("run" or "serve").
// Callers should defer env.Close().
func initScreening(ctx context.Context, c *config.Config, mode string) (*screeningEnv, error) {
	if err := c.ValidateFor(mode); err != nil {
		return nil, err
	}
	env, err := initStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	tables, err := planner.LoadTables(c.Screening.CategoriesFile, c.Screening.JurisdictionsFile, c.Sanctions.SourcesFile)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load planner tables")
	}
	plan, err := planner.New(tables)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "build planner")
	}

	policy := resilience.NewPolicy(c.Retry.MaxAttempts, c.Retry.BaseDelayMs, c.Retry.MaxDelayMs, c.Retry.Multiplier, c.Retry.Jitter)
	costCalc := cost.FromConfig(c.Pricing)

	provider, jinaClient := initSearchProvider(c)
	if c.Redis.Addr != "" {
		env.cache = search.NewRedisCache(c.Redis.Addr, c.Redis.Password, c.Redis.DB)
		provider = search.NewCachingProvider(provider, env.cache, time.Duration(c.Search.CacheTTLHours)*time.Hour)
		zap.L().Info("search cache enabled", zap.String("addr", c.Redis.Addr))
	}
	fanout := search.NewFanOut(provider, search.Options{
		Concurrency:       c.Search.Concurrency,
		QueryTimeout:      time.Duration(c.Search.QueryTimeoutSecs) * time.Second,
		Num:               c.Search.ResultsPerQuery,
		RecencyDays:       c.Search.RecencyDays,
		RequestsPerSecond: c.Search.RequestsPerSecond,
		Policy:            policy.WithLogging(provider.Name(), "search"),
		Metrics:           env.Metrics,
	})

	var aiOpts []anthropicpkg.Option
	if c.Anthropic.BaseURL != "" {
		aiOpts = append(aiOpts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
	}
	ai := anthropicpkg.NewClient(c.Anthropic.Key, aiOpts...)

	classifier := classify.New(ai, classify.Options{
		Model:              c.Anthropic.Model,
		MaxTokens:          c.Anthropic.MaxTokens,
		BatchSize:          c.Classifier.BatchSize,
		MaxBatchChars:      c.Classifier.MaxBatchChars,
		MaxReparseAttempts: c.Classifier.MaxReparseAttempts,
		MinConfidence:      c.Classifier.MinConfidence,
		Concurrency:        c.Classifier.Concurrency,
		Buckets:            classify.Buckets{High: c.Classifier.Buckets.High, Medium: c.Classifier.Buckets.Medium},
		Categories:         adverseCategories(tables),
		Policy:             policy.WithLogging("anthropic", "classify"),
		Metrics:            env.Metrics,
		Cost:               costCalc,
	})

	extractOpts := extract.Options{
		Model:              c.Anthropic.Model,
		MaxTokens:          c.Anthropic.MaxTokens,
		TargetCompleteness: c.Extract.TargetCompleteness,
		MaxAttempts:        c.Extract.MaxAttempts,
		MaxContextChars:    c.Extract.MaxContextChars,
		Policy:             policy.WithLogging("anthropic", "extract"),
		Cost:               costCalc,
	}
	readers := []scrape.Reader{scrape.NewLocalReader(0)}
	if jinaClient != nil {
		readers = append(readers, extract.NewJinaReader(jinaClient, 0))
	}
	extractOpts.Reader = scrape.NewChain(readers...)

	env.Orchestrator = pipeline.New(pipeline.Deps{
		Planner: plan,
		Search:  fanout,
		PreFilter: prefilter.New(tables.Keywords(), prefilter.Options{
			MinKeywordHits:    c.Screening.PreFilter.MinKeywordHits,
			RequireEntityName: c.Screening.PreFilter.RequireEntityName,
			Metrics:           env.Metrics,
		}),
		Classifier: classifier,
		Extractor:  extract.New(ai, extractOpts),
		Store:      env.Store,
		Merger:     env.Merger,
		Metrics:    env.Metrics,
		Cost:       costCalc,
	}, pipeline.OptionsFromConfig(c))

	zap.L().Info("screening pipeline ready",
		zap.String("search", provider.Name()),
		zap.String("store", c.Store.Driver),
		zap.String("blob", c.Blob.Driver),
		zap.Int("sanctions_sources", len(tables.Sanctions.Sources)),
	)
	return env, nil
}

// initSearchProvider returns the configured provider and, when a Jina key
// is set, a Jina client used as the fallback page reader.
func initSearchProvider(c *config.Config) (search.Provider, jina.Client) {
	var jinaClient jina.Client
	if c.Jina.Key != "" {
		var opts []jina.Option
		if c.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
		}
		jinaClient = jina.NewClient(c.Jina.Key, opts...)
	}

	if c.Search.Provider == "jina" && jinaClient != nil {
		return search.NewJinaProvider(jinaClient), jinaClient
	}
	var opts []serper.Option
	if c.Serper.BaseURL != "" {
		opts = append(opts, serper.WithBaseURL(c.Serper.BaseURL))
	}
	return search.NewSerperProvider(serper.NewClient(c.Serper.Key, opts...)), jinaClient
}

func adverseCategories(t *planner.Tables) []model.Category {
	out := make([]model.Category, 0, len(t.Categories.AdverseMedia))
	for _, spec := range t.Categories.AdverseMedia {
		out = append(out, spec.Name)
	}
	return out
}
