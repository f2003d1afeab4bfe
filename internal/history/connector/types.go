package connector

import "time"

// Run is one pipeline execution record from the pipeline_runs table.
type Run struct {
	ID         int64
	Pipeline   string
	Status     string
	Failed     bool
	StartedAt  string // RFC3339Nano
	FinishedAt string
	DurationMS int64
}

// StageResult is one stage outcome from the stage_results table.
// Output may be nil when output capture is disabled.
type StageResult struct {
	ID         int64
	RunID      int64
	Stage      string
	Status     string
	Ignored    bool
	Output     *string
	Error      *string
	StartedAt  string // RFC3339Nano
	DurationMS int64
}

// TableNames holds the configured history table names.
type TableNames struct {
	PipelineRuns string
	StageResults string
}

// RunStart is the data recorded when a pipeline begins.
type RunStart struct {
	Pipeline  string
	StartedAt time.Time
}

// RunFinish is the data recorded when a pipeline ends.
type RunFinish struct {
	Status     string
	Failed     bool
	FinishedAt time.Time
	DurationMS int64
}

// StageInsert is the data recorded for one finished stage.
type StageInsert struct {
	RunID      int64
	Stage      string
	Status     string
	Ignored    bool
	Output     *string
	Error      *string
	StartedAt  time.Time
	DurationMS int64
}

// Connector is the driver-specific history backend. Implementations exist
// for sqlite (default, zero-setup) and postgresql (shared team history).
type Connector interface {
	Connect() error
	Load(config map[string]interface{}) error
	Validate() error
	Ensure(th TableNames) error
	InsertRun(th TableNames, r RunStart) (int64, error)
	FinishRun(th TableNames, id int64, f RunFinish) error
	InsertStage(th TableNames, s StageInsert) error
	ListRuns(th TableNames, pipeline string) ([]Run, error)
	ListStages(th TableNames, runID int64) ([]StageResult, error)
	Close() error
}
