package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/store"
)

// Snapshot is a point-in-time view of screening health over a lookback
// window.
type Snapshot struct {
	Total        int                        `json:"total"`
	Completed    int                        `json:"completed"`
	Degraded     int                        `json:"degraded"`
	Failed       int                        `json:"failed"`
	InFlight     int                        `json:"in_flight"`
	FailRate     float64                    `json:"fail_rate"`
	DegradedRate float64                    `json:"degraded_rate"`
	FailedStages map[model.PipelineKind]int `json:"failed_stages,omitempty"`
	CostUSD      float64                    `json:"cost_usd"`
	AvgScore     float64                    `json:"avg_score"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers snapshots from run history.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a collector over runs. A nil now uses time.Now.
func NewCollector(runs RunLister, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{runs: runs, now: now}
}

// scanLimit bounds how many recent runs one snapshot reads.
const scanLimit = 10000

// Collect builds a snapshot of runs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		FailedStages:  map[model.PipelineKind]int{},
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalScore float64
	for _, r := range runs {
		// Runs are listed newest first.
		if r.CreatedAt.Before(cutoff) {
			break
		}
		snap.Total++
		switch r.State {
		case model.RunCompleted:
			snap.Completed++
		case model.RunFailed:
			snap.Failed++
		default:
			snap.InFlight++
		}
		if r.Result == nil {
			continue
		}
		for _, sr := range r.Result.Stages {
			snap.CostUSD += sr.CostUSD
		}
		switch r.State {
		case model.RunCompleted:
			totalScore += r.Result.CompletenessScore
			if r.Result.Degraded {
				snap.Degraded++
			}
		case model.RunFailed:
			if r.Result.FailedStage != "" {
				snap.FailedStages[r.Result.FailedStage]++
			}
		}
	}

	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if snap.Completed > 0 {
		snap.DegradedRate = float64(snap.Degraded) / float64(snap.Completed)
		snap.AvgScore = totalScore / float64(snap.Completed)
	}
	return snap, nil
}
