package postgresql

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/history/connector"
)

// Store keeps run history in PostgreSQL, for teams sharing one history
// database across CI workers.
type Store struct {
	db  *sql.DB
	DSN string
}

func NewStore() *Store { return &Store{} }

// Load reads the driver configuration map ({"dsn": ...}).
func (p *Store) Load(config map[string]interface{}) error {
	if dsn, ok := config["dsn"].(string); ok && dsn != "" {
		p.DSN = dsn
	}
	return nil
}

func (p *Store) Validate() error {
	if p.DSN == "" {
		return fmt.Errorf("postgresql: dsn is required")
	}
	return nil
}

// Connect opens the connection pool using the pgx stdlib driver.
func (p *Store) Connect() error {
	db, err := sql.Open("pgx", p.DSN)
	if err != nil {
		return fmt.Errorf("postgresql: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("postgresql: ping: %w", err)
	}

	db.SetMaxOpenConns(constants.DefaultPostgresMaxConnections)
	db.SetMaxIdleConns(constants.DefaultPostgresMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultMaxConnLifetime)
	db.SetConnMaxIdleTime(constants.DefaultMaxIdleTime)

	p.db = db
	common.GetLogger().WithStore("postgresql").Debug("history database connected")
	return nil
}

func (p *Store) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Ensure creates the history tables when missing.
func (p *Store) Ensure(th connector.TableNames) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			failed BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`, th.PipelineRuns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			ignored BOOLEAN NOT NULL DEFAULT FALSE,
			output TEXT,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`, th.StageResults),
	}
	for _, q := range stmts {
		if _, err := p.db.Exec(q); err != nil {
			return fmt.Errorf("postgresql: ensure schema: %w", err)
		}
	}
	return nil
}

// InsertRun records the start of a pipeline and returns the run id.
func (p *Store) InsertRun(th connector.TableNames, r connector.RunStart) (int64, error) {
	q := fmt.Sprintf(`INSERT INTO %s(pipeline, status, started_at) VALUES($1, $2, $3) RETURNING id`, th.PipelineRuns)
	var id int64
	if err := p.db.QueryRow(q, r.Pipeline, "running", r.StartedAt.UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgresql: insert run: %w", err)
	}
	return id, nil
}

// FinishRun records the final status of a pipeline run.
func (p *Store) FinishRun(th connector.TableNames, id int64, f connector.RunFinish) error {
	q := fmt.Sprintf(`UPDATE %s SET status = $1, failed = $2, finished_at = $3, duration_ms = $4 WHERE id = $5`, th.PipelineRuns)
	if _, err := p.db.Exec(q, f.Status, f.Failed, f.FinishedAt.UTC(), f.DurationMS, id); err != nil {
		return fmt.Errorf("postgresql: finish run %d: %w", id, err)
	}
	return nil
}

// InsertStage records one stage outcome.
func (p *Store) InsertStage(th connector.TableNames, st connector.StageInsert) error {
	q := fmt.Sprintf(`INSERT INTO %s(run_id, stage, status, ignored, output, error, started_at, duration_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)`, th.StageResults)
	_, err := p.db.Exec(q, st.RunID, st.Stage, st.Status, st.Ignored, st.Output, st.Error, st.StartedAt.UTC(), st.DurationMS)
	if err != nil {
		return fmt.Errorf("postgresql: insert stage: %w", err)
	}
	return nil
}

// ListRuns returns run history ordered by id ASC, optionally filtered by pipeline.
func (p *Store) ListRuns(th connector.TableNames, pipeline string) ([]connector.Run, error) {
	q := fmt.Sprintf(`SELECT id, pipeline, status, failed, started_at, finished_at, duration_ms FROM %s`, th.PipelineRuns)
	args := []interface{}{}
	if pipeline != "" {
		q += ` WHERE pipeline = $1`
		args = append(args, pipeline)
	}
	q += ` ORDER BY id ASC`

	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgresql: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []connector.Run
	for rows.Next() {
		var r connector.Run
		var started time.Time
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.Status, &r.Failed, &started, &finished, &r.DurationMS); err != nil {
			return nil, err
		}
		r.StartedAt = started.UTC().Format(time.RFC3339Nano)
		if finished.Valid {
			r.FinishedAt = finished.Time.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStages returns the stage results of one run ordered by id ASC.
func (p *Store) ListStages(th connector.TableNames, runID int64) ([]connector.StageResult, error) {
	q := fmt.Sprintf(`SELECT id, run_id, stage, status, ignored, output, error, started_at, duration_ms
		FROM %s WHERE run_id = $1 ORDER BY id ASC`, th.StageResults)
	rows, err := p.db.Query(q, runID)
	if err != nil {
		return nil, fmt.Errorf("postgresql: list stages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []connector.StageResult
	for rows.Next() {
		var r connector.StageResult
		var started time.Time
		if err := rows.Scan(&r.ID, &r.RunID, &r.Stage, &r.Status, &r.Ignored, &r.Output, &r.Error, &started, &r.DurationMS); err != nil {
			return nil, err
		}
		r.StartedAt = started.UTC().Format(time.RFC3339Nano)
		out = append(out, r)
	}
	return out, rows.Err()
}
