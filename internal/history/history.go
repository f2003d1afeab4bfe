package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/history/connector"
	"github.com/loykin/smokerun/internal/history/postgresql"
	"github.com/loykin/smokerun/internal/history/sqlite"
	"github.com/loykin/smokerun/internal/retry"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"
)

// Config selects and configures the run-history backend. History is on by
// default with a local sqlite file; set Disabled to turn recording off.
type Config struct {
	Disabled     bool   `yaml:"disabled" mapstructure:"disabled"`
	Driver       string `yaml:"driver" mapstructure:"driver"`
	RecordOutput bool   `yaml:"record_output" mapstructure:"record_output"`
	TableRuns    string `yaml:"table_runs" mapstructure:"table_runs"`
	TableStages  string `yaml:"table_stages" mapstructure:"table_stages"`

	SQLite   sqlite.Config     `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres postgresql.Config `yaml:"postgres" mapstructure:"postgres"`
}

// DecodeConfig builds a Config from a loosely typed map, as produced by
// viper or an embedded caller.
func DecodeConfig(m map[string]interface{}) (Config, error) {
	var c Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(m); err != nil {
		return c, fmt.Errorf("history: decode config: %w", err)
	}
	return c, nil
}

func (c Config) tableNames() connector.TableNames {
	tn := connector.TableNames{
		PipelineRuns: strings.TrimSpace(c.TableRuns),
		StageResults: strings.TrimSpace(c.TableStages),
	}
	if tn.PipelineRuns == "" {
		tn.PipelineRuns = constants.DefaultPipelineRunsTable
	}
	if tn.StageResults == "" {
		tn.StageResults = constants.DefaultStageResultsTable
	}
	return tn
}

// Store is the facade the pipeline runner records through.
type Store struct {
	conn         connector.Connector
	tn           connector.TableNames
	recordOutput bool
}

// Open connects the configured backend and ensures the schema. Transient
// connection failures are retried with backoff.
func Open(ctx context.Context, c Config) (*Store, error) {
	var conn connector.Connector
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case DriverPostgresql, "postgres":
		conn = postgresql.NewStore()
		if err := conn.Load((&c.Postgres).ToMap()); err != nil {
			return nil, err
		}
	case DriverSqlite, "":
		conn = sqlite.NewStore()
		if err := conn.Load((&c.SQLite).ToMap()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("history: unknown driver %q", c.Driver)
	}

	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if err := retry.WithRetry(ctx, nil, conn.Connect); err != nil {
		return nil, err
	}

	tn := c.tableNames()
	if err := conn.Ensure(tn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Store{conn: conn, tn: tn, recordOutput: c.RecordOutput}, nil
}

func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// StartRun records the beginning of a pipeline and returns its run id.
func (s *Store) StartRun(pipeline string, startedAt time.Time) (int64, error) {
	return s.conn.InsertRun(s.tn, connector.RunStart{Pipeline: pipeline, StartedAt: startedAt})
}

// FinishRun records the final status of a run.
func (s *Store) FinishRun(id int64, status string, failed bool, finishedAt time.Time, duration time.Duration) error {
	return s.conn.FinishRun(s.tn, id, connector.RunFinish{
		Status:     status,
		Failed:     failed,
		FinishedAt: finishedAt,
		DurationMS: duration.Milliseconds(),
	})
}

// RecordStage records one stage outcome. Command output is only persisted
// when record_output is enabled; errors are always kept.
func (s *Store) RecordStage(runID int64, stage, status string, ignored bool, output, stageErr string, startedAt time.Time, duration time.Duration) error {
	ins := connector.StageInsert{
		RunID:      runID,
		Stage:      stage,
		Status:     status,
		Ignored:    ignored,
		StartedAt:  startedAt,
		DurationMS: duration.Milliseconds(),
	}
	if s.recordOutput && output != "" {
		ins.Output = &output
	}
	if stageErr != "" {
		ins.Error = &stageErr
	}
	return s.conn.InsertStage(s.tn, ins)
}

// ListRuns returns recorded runs, optionally filtered by pipeline name.
func (s *Store) ListRuns(pipeline string) ([]connector.Run, error) {
	return s.conn.ListRuns(s.tn, pipeline)
}

// ListStages returns the stage results of one run.
func (s *Store) ListStages(runID int64) ([]connector.StageResult, error) {
	return s.conn.ListStages(s.tn, runID)
}
