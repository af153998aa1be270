package model

import "time"

// RunState is the orchestrator state of a screening run.
type RunState string

const (
	RunPending         RunState = "pending"
	RunRunningCritical RunState = "running_critical"
	RunRunningParallel RunState = "running_parallel"
	RunCompiling       RunState = "compiling"
	RunMerging         RunState = "merging"
	RunCompleted       RunState = "completed"
	RunFailed          RunState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is the persisted history of one screening execution.
type Run struct {
	ID        string     `json:"id"`
	Entity    Entity     `json:"entity"`
	State     RunState   `json:"state"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunStage is one stage row of a run.
type RunStage struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Kind      PipelineKind `json:"kind"`
	Result    *StageResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// StageResult is the outcome of one stage as reported to callers.
type StageResult struct {
	Kind         PipelineKind   `json:"kind"`
	Status       RecordStatus   `json:"status"`
	Completeness float64        `json:"completeness"`
	Error        string         `json:"error,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	CostUSD      float64        `json:"cost_usd,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunResult is the trigger response of a screening run.
type RunResult struct {
	EntityID              string                       `json:"entity_id"`
	RunID                 string                       `json:"run_id"`
	State                 RunState                     `json:"state"`
	Degraded              bool                         `json:"degraded"`
	FailedStage           PipelineKind                 `json:"failed_stage,omitempty"`
	Error                 string                       `json:"error,omitempty"`
	Stages                map[PipelineKind]StageResult `json:"stages"`
	CompletenessScore     float64                      `json:"completeness_score"`
	UnifiedRecordLocation string                       `json:"unified_record_location,omitempty"`
	Transitions           []RunState                   `json:"transitions"`
}

// TriggerRequest is the input accepted by every trigger surface.
type TriggerRequest struct {
	EntityName       string `json:"entity_name"`
	JurisdictionHint string `json:"jurisdiction_hint,omitempty"`
	// CompanyType is "public" (default) or "private".
	CompanyType string `json:"company_type,omitempty"`
}
