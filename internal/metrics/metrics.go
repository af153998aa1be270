// Package metrics exposes Prometheus counters and histograms for the
// screening pipeline. A nil *Manager is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns the screening metrics and their registry.
type Manager struct {
	namespace       string
	durationBuckets []float64
	registry        *prometheus.Registry

	classifierDropped *prometheus.CounterVec
	classifierCalls   *prometheus.CounterVec
	searchQueries     *prometheus.CounterVec
	prefilter         *prometheus.CounterVec
	stageOutcomes     *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	runs              *prometheus.CounterVec
	costUSD           *prometheus.CounterVec
}

// NewManager creates a Manager. Without WithRegistry a private registry is
// used so repeated construction never collides.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "screening",
		durationBuckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.classifierDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "classifier_dropped_total",
		Help:      "Classifier outputs rejected by validation, by mode and reason.",
	}, []string{"mode", "reason"})

	m.classifierCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "classifier_calls_total",
		Help:      "Classifier batch requests, by mode and outcome.",
	}, []string{"mode", "outcome"})

	m.searchQueries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "search_queries_total",
		Help:      "Search provider queries, by provider and outcome.",
	}, []string{"provider", "outcome"})

	m.prefilter = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "prefilter_candidates_total",
		Help:      "Candidates seen by the pre-filter, by outcome.",
	}, []string{"outcome"})

	m.stageOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "stage_outcomes_total",
		Help:      "Pipeline stage results, by stage and status.",
	}, []string{"stage", "status"})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage wall time.",
		Buckets:   m.durationBuckets,
	}, []string{"stage"})

	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "Screening runs, by terminal state and degraded flag.",
	}, []string{"state", "degraded"})

	m.costUSD = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cost_usd_total",
		Help:      "Estimated external API spend, by stage.",
	}, []string{"stage"})
}

// Registry returns the registry backing the manager.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ClassifierDropped counts a rejected classifier output.
func (m *Manager) ClassifierDropped(mode, reason string) {
	if m == nil {
		return
	}
	m.classifierDropped.WithLabelValues(mode, reason).Inc()
}

// ClassifierCall counts a classifier batch request.
func (m *Manager) ClassifierCall(mode, outcome string) {
	if m == nil {
		return
	}
	m.classifierCalls.WithLabelValues(mode, outcome).Inc()
}

// SearchQuery counts a provider query.
func (m *Manager) SearchQuery(provider, outcome string) {
	if m == nil {
		return
	}
	m.searchQueries.WithLabelValues(provider, outcome).Inc()
}

// PreFilter records how many candidates were kept and dropped.
func (m *Manager) PreFilter(kept, dropped int) {
	if m == nil {
		return
	}
	m.prefilter.WithLabelValues("kept").Add(float64(kept))
	m.prefilter.WithLabelValues("dropped").Add(float64(dropped))
}

// Stage records one stage result.
func (m *Manager) Stage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Run records a finished run.
func (m *Manager) Run(state string, degraded bool) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state, strconv.FormatBool(degraded)).Inc()
}

// Cost adds estimated spend for a stage.
func (m *Manager) Cost(stage string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.costUSD.WithLabelValues(stage).Add(usd)
}
