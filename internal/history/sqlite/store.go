package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/history/connector"
	"github.com/loykin/smokerun/internal/retry"
	_ "modernc.org/sqlite"
)

// Store keeps run history in a local SQLite file, the zero-setup default.
type Store struct {
	db   *sql.DB
	Path string
}

func NewStore() *Store { return &Store{} }

// Load reads the driver configuration map ({"path": ...}).
func (s *Store) Load(config map[string]interface{}) error {
	if p, ok := config["path"].(string); ok && p != "" {
		s.Path = p
	}
	return nil
}

func (s *Store) Validate() error { return nil }

// Connect opens the database file, creating its directory when needed.
func (s *Store) Connect() error {
	path := s.Path
	if path == "" {
		path = constants.DefaultHistoryPath
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("sqlite: create dir %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_fk=1", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	// SQLite allows only one writer
	db.SetMaxOpenConns(constants.DefaultSQLiteMaxConnections)
	db.SetMaxIdleConns(constants.DefaultSQLiteMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultSQLiteLifetime)
	db.SetConnMaxIdleTime(constants.DefaultSQLiteIdleTime)

	s.db = db
	common.GetLogger().WithStore("sqlite").Debug("history database opened", "path", path)
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure creates the history tables when missing.
func (s *Store) Ensure(th connector.TableNames) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`, th.PipelineRuns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			ignored INTEGER NOT NULL DEFAULT 0,
			output TEXT,
			error TEXT,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`, th.StageResults),
	}
	for _, q := range stmts {
		if _, err := s.exec(q); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// exec runs a write statement, retrying transient failures ("database is
// locked") with the default backoff.
func (s *Store) exec(q string, args ...interface{}) (sql.Result, error) {
	return retry.WithRetryExec(context.Background(), nil, func() (sql.Result, error) {
		return s.db.Exec(q, args...)
	})
}

// InsertRun records the start of a pipeline and returns the run id.
func (s *Store) InsertRun(th connector.TableNames, r connector.RunStart) (int64, error) {
	q := fmt.Sprintf(`INSERT INTO %s(pipeline, status, started_at) VALUES(?, ?, ?)`, th.PipelineRuns)
	res, err := s.exec(q, r.Pipeline, "running", r.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun records the final status of a pipeline run.
func (s *Store) FinishRun(th connector.TableNames, id int64, f connector.RunFinish) error {
	q := fmt.Sprintf(`UPDATE %s SET status = ?, failed = ?, finished_at = ?, duration_ms = ? WHERE id = ?`, th.PipelineRuns)
	failed := 0
	if f.Failed {
		failed = 1
	}
	_, err := s.exec(q, f.Status, failed, f.FinishedAt.UTC().Format(time.RFC3339Nano), f.DurationMS, id)
	if err != nil {
		return fmt.Errorf("sqlite: finish run %d: %w", id, err)
	}
	return nil
}

// InsertStage records one stage outcome.
func (s *Store) InsertStage(th connector.TableNames, st connector.StageInsert) error {
	q := fmt.Sprintf(`INSERT INTO %s(run_id, stage, status, ignored, output, error, started_at, duration_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`, th.StageResults)
	ignored := 0
	if st.Ignored {
		ignored = 1
	}
	_, err := s.exec(q, st.RunID, st.Stage, st.Status, ignored, st.Output, st.Error,
		st.StartedAt.UTC().Format(time.RFC3339Nano), st.DurationMS)
	if err != nil {
		return fmt.Errorf("sqlite: insert stage: %w", err)
	}
	return nil
}

// ListRuns returns run history ordered by id ASC, optionally filtered by pipeline.
func (s *Store) ListRuns(th connector.TableNames, pipeline string) ([]connector.Run, error) {
	q := fmt.Sprintf(`SELECT id, pipeline, status, failed, started_at, COALESCE(finished_at, ''), duration_ms FROM %s`, th.PipelineRuns)
	args := []interface{}{}
	if pipeline != "" {
		q += ` WHERE pipeline = ?`
		args = append(args, pipeline)
	}
	q += ` ORDER BY id ASC`

	rows, err := retry.WithRetryQuery(context.Background(), nil, func() (*sql.Rows, error) {
		return s.db.Query(q, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []connector.Run
	for rows.Next() {
		var r connector.Run
		var failed int
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.Status, &failed, &r.StartedAt, &r.FinishedAt, &r.DurationMS); err != nil {
			return nil, err
		}
		r.Failed = failed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStages returns the stage results of one run ordered by id ASC.
func (s *Store) ListStages(th connector.TableNames, runID int64) ([]connector.StageResult, error) {
	q := fmt.Sprintf(`SELECT id, run_id, stage, status, ignored, output, error, started_at, duration_ms
		FROM %s WHERE run_id = ? ORDER BY id ASC`, th.StageResults)
	rows, err := retry.WithRetryQuery(context.Background(), nil, func() (*sql.Rows, error) {
		return s.db.Query(q, runID)
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list stages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []connector.StageResult
	for rows.Next() {
		var r connector.StageResult
		var ignored int
		if err := rows.Scan(&r.ID, &r.RunID, &r.Stage, &r.Status, &ignored, &r.Output, &r.Error, &r.StartedAt, &r.DurationMS); err != nil {
			return nil, err
		}
		r.Ignored = ignored != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
