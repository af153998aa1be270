package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/db"
	"github.com/sells-group/screening-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"put_item":     `INSERT INTO items (tbl, partition_key, sort_key, data, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (tbl, partition_key, sort_key) DO NOTHING`,
	"query_items":  `SELECT partition_key, sort_key, data FROM items WHERE tbl = $1 AND partition_key = $2 ORDER BY sort_key ASC`,
	"get_run":      `SELECT id, entity, state, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_stage": `INSERT INTO run_stages (id, run_id, kind, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS items (
	tbl           TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	sort_key      TEXT NOT NULL,
	data          JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tbl, partition_key, sort_key)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	entity     JSONB NOT NULL,
	state      TEXT NOT NULL DEFAULT 'pending',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_stages (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_entity_id ON runs(entity_id);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, table string, item Item) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["put_item"],
		table, item.PartitionKey, item.SortKey, []byte(item.Data), s.now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: put %s", table)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrDuplicate, "%s %s/%s", table, item.PartitionKey, item.SortKey)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, table, partitionKey string) ([]Item, error) {
	rows, err := s.pool.Query(ctx, preparedStatements["query_items"], table, partitionKey)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", table)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var data []byte
		if err := rows.Scan(&it.PartitionKey, &it.SortKey, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		it.Data = data
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: query iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, runID string, entity model.Entity) (*model.Run, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	now := s.now().UTC()

	entityJSON, err := json.Marshal(entity)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal entity")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, entity_id, entity, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, entity.ID, entityJSON, string(model.RunPending), now, now,
	)
	if db.IsUniqueViolation(err) {
		return nil, eris.Wrapf(ErrDuplicate, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        runID,
		Entity:    entity,
		State:     model.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunState(ctx context.Context, runID string, state model.RunState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run state %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, state = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(result.State), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_run"], runID)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity, state, result, created_at, updated_at FROM runs
		 WHERE ($1 = '' OR state = $1) AND ($2 = '' OR entity_id = $2)
		 ORDER BY created_at DESC, id ASC LIMIT $3 OFFSET $4`,
		string(filter.State), filter.EntityID, listLimit(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreateStage(ctx context.Context, runID string, kind model.PipelineKind) (*model.RunStage, error) {
	id := uuid.New().String()
	now := s.now().UTC()

	_, err := s.pool.Exec(ctx, preparedStatements["insert_stage"], id, runID, string(kind), "running", now)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert stage for run %s", runID)
	}
	return &model.RunStage{ID: id, RunID: runID, Kind: kind, StartedAt: now}, nil
}

func (s *PostgresStore) CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_stages SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete stage %s", stageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "stage %s", stageID)
	}
	return nil
}

func (s *PostgresStore) ListStages(ctx context.Context, runID string) ([]model.RunStage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, kind, result, started_at FROM run_stages WHERE run_id = $1 ORDER BY started_at ASC, kind ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stages %s", runID)
	}
	defer rows.Close()

	var stages []model.RunStage
	for rows.Next() {
		var st model.RunStage
		var kind string
		var resultJSON []byte
		if err := rows.Scan(&st.ID, &st.RunID, &kind, &resultJSON, &st.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		st.Kind = model.PipelineKind(kind)
		if resultJSON != nil {
			st.Result = &model.StageResult{}
			if err := json.Unmarshal(resultJSON, st.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stage result")
			}
		}
		stages = append(stages, st)
	}
	return stages, eris.Wrap(rows.Err(), "postgres: list stages iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var state string
	var entityJSON, resultJSON []byte
	if err := row.Scan(&r.ID, &entityJSON, &state, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.State = model.RunState(state)
	if err := json.Unmarshal(entityJSON, &r.Entity); err != nil {
		return nil, eris.Wrap(err, "unmarshal entity")
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &r, nil
}
