package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilManagerIsNoop(t *testing.T) {
	t.Parallel()

	var m *Manager
	assert.NotPanics(t, func() {
		m.ClassifierDropped("adverse", "missing_url")
		m.ClassifierCall("adverse", "ok")
		m.SearchQuery("serper", "ok")
		m.PreFilter(1, 2)
		m.Stage("sec", "success", time.Second)
		m.Run("completed", false)
		m.Cost("sec", 0.1)
	})
	assert.Nil(t, m.Registry())
}

func TestClassifierDropped(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.ClassifierDropped("adverse", "missing_url")
	m.ClassifierDropped("adverse", "missing_url")
	m.ClassifierDropped("watchlist", "score_range")

	assert.InDelta(t, 2, testutil.ToFloat64(m.classifierDropped.WithLabelValues("adverse", "missing_url")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.classifierDropped.WithLabelValues("watchlist", "score_range")), 0)
}

func TestMetricNamesUseNamespace(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewManager(WithRegistry(reg), WithNamespace("screening"))
	m.ClassifierDropped("adverse", "below_confidence")
	m.Stage("sanctions", "failed", 2*time.Second)
	m.Run("completed", true)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["screening_classifier_dropped_total"])
	assert.True(t, names["screening_stage_outcomes_total"])
	assert.True(t, names["screening_stage_duration_seconds"])
	assert.True(t, names["screening_runs_total"])
}

func TestPreFilterAndCost(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.PreFilter(3, 7)
	m.Cost("adverse_media", 0.25)
	m.Cost("adverse_media", 0)

	assert.InDelta(t, 3, testutil.ToFloat64(m.prefilter.WithLabelValues("kept")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.prefilter.WithLabelValues("dropped")), 0)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.costUSD.WithLabelValues("adverse_media")), 1e-9)
}

func TestSeparateManagersDoNotCollide(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		NewManager()
		NewManager()
	})
}
