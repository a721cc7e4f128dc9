package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/alpenmeteo/townpick/internal/db"
	"github.com/alpenmeteo/townpick/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// read paths the label API hits on every request.
var preparedStatements = map[string]string{
	"get_run":    `SELECT id, started_at, finished_at, config_digest, stats FROM runs WHERE id = $1`,
	"latest_run": `SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	"run_labels": `SELECT town_id, name, lat, lon, region_id, rank, forced FROM run_labels WHERE run_id = $1 ORDER BY rank`,
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	config_digest TEXT NOT NULL,
	stats         JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS run_labels (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	town_id   TEXT NOT NULL,
	name      TEXT NOT NULL,
	lat       DOUBLE PRECISION NOT NULL,
	lon       DOUBLE PRECISION NOT NULL,
	region_id TEXT NOT NULL,
	rank      INTEGER NOT NULL,
	forced    BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_labels_run_id ON run_labels(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.Run) error {
	if run == nil || run.ID == "" {
		return eris.New("postgres: run id required")
	}

	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "runs",
		Columns:      []string{"id", "started_at", "finished_at", "config_digest", "stats"},
		ConflictKeys: []string{"id"},
	}, [][]any{{run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.ConfigDigest, statsJSON}})
	if err != nil {
		return eris.Wrapf(err, "postgres: save run %s", run.ID)
	}

	// A re-save replaces the label set wholesale.
	if _, err := s.pool.Exec(ctx, `DELETE FROM run_labels WHERE run_id = $1`, run.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear labels for run %s", run.ID)
	}

	rows := make([][]any, 0, len(run.Labels))
	for _, l := range run.Labels {
		rows = append(rows, []any{run.ID, l.ID, l.Name, l.Lat, l.Lon, l.RegionID, l.Rank, l.ForcedCoverage})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "run_labels",
		[]string{"run_id", "town_id", "name", "lat", "lon", "region_id", "rank", "forced"}, rows); err != nil {
		return eris.Wrapf(err, "postgres: save labels for run %s", run.ID)
	}

	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var statsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, started_at, finished_at, config_digest, stats FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.ConfigDigest, &statsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "id %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal stats")
	}

	r.Labels, err = s.Labels(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*model.Run, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "latest")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest run")
	}
	return s.GetRun(ctx, id)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, started_at, finished_at, config_digest, stats FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var statsJSON []byte

		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.ConfigDigest, &statsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stats")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Labels(ctx context.Context, runID string) ([]model.SelectedTown, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT town_id, name, lat, lon, region_id, rank, forced FROM run_labels WHERE run_id = $1 ORDER BY rank`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: labels for run %s", runID)
	}
	defer rows.Close()

	var labels []model.SelectedTown
	for rows.Next() {
		var l model.SelectedTown
		if err := rows.Scan(&l.ID, &l.Name, &l.Lat, &l.Lon, &l.RegionID, &l.Rank, &l.ForcedCoverage); err != nil {
			return nil, eris.Wrap(err, "postgres: scan label")
		}
		labels = append(labels, l)
	}
	return labels, eris.Wrap(rows.Err(), "postgres: labels iterate")
}
