// Package store persists pipeline records and run history. Record tables
// are additive: an item is addressed by (table, partition key, sort key) and
// is never overwritten.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
)

var (
	// ErrDuplicate is returned when an item with the same key exists.
	ErrDuplicate = eris.New("store: item already exists")
	// ErrNotFound is returned when a run or record does not exist.
	ErrNotFound = eris.New("store: not found")
)

// Item is one row of an additive table.
type Item struct {
	PartitionKey string          `json:"partition_key"`
	SortKey      string          `json:"sort_key"`
	Data         json.RawMessage `json:"data"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	State    model.RunState `json:"state,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// Store defines the persistence interface of the screening pipeline.
type Store interface {
	// Items
	Put(ctx context.Context, table string, item Item) error
	Query(ctx context.Context, table, partitionKey string) ([]Item, error)

	// Runs
	CreateRun(ctx context.Context, runID string, entity model.Entity) (*model.Run, error)
	UpdateRunState(ctx context.Context, runID string, state model.RunState) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Stages
	CreateStage(ctx context.Context, runID string, kind model.PipelineKind) (*model.RunStage, error)
	CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error
	ListStages(ctx context.Context, runID string) ([]model.RunStage, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
