package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/store"
)

// stageOutput is what a stage hands back to track. Cost and metadata are
// reported even when the stage fails.
type stageOutput struct {
	payload      model.Payload
	completeness float64
	costUSD      float64
	metadata     map[string]any
}

type stageFunc func(ctx context.Context) (*stageOutput, error)

// track runs fn under its own timeout, persists the resulting record and
// records the stage outcome. The returned output is never nil.
func (r *run) track(ctx context.Context, kind model.PipelineKind, timeout time.Duration, fn stageFunc) (*stageOutput, model.StageResult) {
	log := r.log.With(zap.String("stage", string(kind)))
	d := r.o.deps

	var stage *model.RunStage
	if r.tracked {
		var err error
		if stage, err = d.Store.CreateStage(ctx, r.id, kind); err != nil {
			log.Warn("pipeline: failed to create stage", zap.Error(err))
		}
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	out, err := fn(sctx)
	if err == nil && sctx.Err() != nil {
		err = eris.Wrapf(sctx.Err(), "%s stage", kind)
	}
	cancel()
	duration := time.Since(start)

	if out == nil {
		out = &stageOutput{}
	}
	sr := model.StageResult{
		Kind:       kind,
		DurationMs: duration.Milliseconds(),
		CostUSD:    out.costUSD,
		Metadata:   out.metadata,
	}
	rec := model.PipelineRecord{
		Kind:       kind,
		RunID:      r.id,
		EntityID:   r.entity.ID,
		EntityName: r.entity.DisplayName,
		RecordedAt: r.o.opts.Now(),
	}

	if err != nil {
		sr.Status = model.RecordFailed
		sr.Error = err.Error()
		rec.Status = model.RecordFailed
		rec.Error = sr.Error
	} else {
		sr.Completeness = round2(out.completeness)
		sr.Status = r.status(sr.Completeness)
		rec.Status = sr.Status
		rec.Completeness = sr.Completeness
		rec.Payload = out.payload
	}

	// The stage context may have expired; the record is written under the
	// run context.
	if _, perr := store.PutRecord(ctx, d.Store, rec); perr != nil {
		log.Error("pipeline: failed to persist record", zap.Error(perr))
		if sr.Status != model.RecordFailed {
			sr.Status = model.RecordFailed
			sr.Completeness = 0
			sr.Error = eris.Wrap(perr, "persist record").Error()
		}
	}

	if sr.Status == model.RecordFailed {
		log.Error("pipeline: stage failed",
			zap.Int64("duration_ms", sr.DurationMs),
			zap.String("error", sr.Error),
		)
	} else {
		log.Info("pipeline: stage complete",
			zap.String("status", string(sr.Status)),
			zap.Float64("completeness", sr.Completeness),
			zap.Int64("duration_ms", sr.DurationMs),
			zap.Float64("cost_usd", sr.CostUSD),
		)
	}

	d.Metrics.Stage(string(kind), string(sr.Status), duration)
	d.Metrics.Cost(string(kind), sr.CostUSD)
	if stage != nil {
		if err := d.Store.CompleteStage(ctx, stage.ID, &sr); err != nil {
			log.Warn("pipeline: failed to complete stage", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.result.Stages[kind] = sr
	r.mu.Unlock()
	return out, sr
}

func (r *run) status(completeness float64) model.RecordStatus {
	if completeness >= r.o.opts.TargetCompleteness {
		return model.RecordSuccess
	}
	return model.RecordPartialSuccess
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
