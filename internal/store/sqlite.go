package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/alpenmeteo/townpick/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME NOT NULL,
	config_digest TEXT NOT NULL,
	stats         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_labels (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	town_id   TEXT NOT NULL,
	name      TEXT NOT NULL,
	lat       REAL NOT NULL,
	lon       REAL NOT NULL,
	region_id TEXT NOT NULL,
	rank      INTEGER NOT NULL,
	forced    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_labels_run_id ON run_labels(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run) error {
	if run == nil || run.ID == "" {
		return eris.New("sqlite: run id required")
	}

	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, config_digest, stats) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at, finished_at = excluded.finished_at,
		 config_digest = excluded.config_digest, stats = excluded.stats`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.ConfigDigest, string(statsJSON),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	// A re-save replaces the label set wholesale.
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_labels WHERE run_id = ?`, run.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear labels for run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_labels (run_id, town_id, name, lat, lon, region_id, rank, forced) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare label insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, l := range run.Labels {
		if _, err := stmt.ExecContext(ctx, run.ID, l.ID, l.Name, l.Lat, l.Lon, l.RegionID, l.Rank, l.ForcedCoverage); err != nil {
			return eris.Wrapf(err, "sqlite: insert label %s", l.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, config_digest, stats FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row, runID)
	if err != nil {
		return nil, err
	}

	run.Labels, err = s.Labels(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*model.Run, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "latest")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest run")
	}
	return s.GetRun(ctx, id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, started_at, finished_at, config_digest, stats FROM runs WHERE 1=1`
	var args []any

	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Labels(ctx context.Context, runID string) ([]model.SelectedTown, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT town_id, name, lat, lon, region_id, rank, forced FROM run_labels WHERE run_id = ? ORDER BY rank`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: labels for run %s", runID)
	}
	defer rows.Close()

	var labels []model.SelectedTown
	for rows.Next() {
		var l model.SelectedTown
		if err := rows.Scan(&l.ID, &l.Name, &l.Lat, &l.Lon, &l.RegionID, &l.Rank, &l.ForcedCoverage); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan label")
		}
		labels = append(labels, l)
	}
	return labels, eris.Wrap(rows.Err(), "sqlite: labels iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable, runID string) (*model.Run, error) {
	var r model.Run
	var statsJSON string

	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.ConfigDigest, &statsJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "id %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stats")
	}
	return &r, nil
}
