package smokerun

import (
	"context"

	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/history"
	"github.com/loykin/smokerun/internal/pipeline"
	"github.com/loykin/smokerun/internal/stage"
	"github.com/loykin/smokerun/pkg/env"
)

// Re-export commonly used types for public API

// Env is the layered variable structure rendered into stage templates.
type Env = env.Env

// Document is a loaded pipelines file.
type Document = stage.Document

// Pipeline is one named smoke test.
type Pipeline = stage.Pipeline

// Stage is one step of a pipeline.
type Stage = stage.Stage

// Options tunes a run (port override, stage selection, history).
type Options = pipeline.Options

// Runner executes pipelines.
type Runner = pipeline.Runner

// Result is the outcome of one pipeline run.
type Result = pipeline.Result

// StageResult is the outcome of one executed stage.
type StageResult = pipeline.StageResult

// PlanStep is one entry of a dry-run plan.
type PlanStep = pipeline.PlanStep

// HistoryConfig selects and configures the run-history backend.
type HistoryConfig = history.Config

// HistoryStore records pipeline runs and stage results.
type HistoryStore = history.Store

// DefaultPort is the host port published by smoke-test containers unless
// overridden via --port, SMOKERUN_PORT or a PORT variable.
const DefaultPort = constants.DefaultPort

// LoadPipelines reads and validates a pipelines file.
func LoadPipelines(path string) (*Document, error) { return stage.Load(path) }

// ParsePipelines decodes and validates a pipelines document from YAML bytes.
func ParsePipelines(data []byte) (*Document, error) { return stage.Parse(data) }

// NewRunner builds a Runner over a loaded document.
func NewRunner(doc *Document, opts Options) *Runner { return pipeline.New(doc, opts) }

// Run executes one pipeline by name or alias.
func Run(ctx context.Context, doc *Document, nameOrAlias string, opts Options) (*Result, error) {
	return pipeline.New(doc, opts).Run(ctx, nameOrAlias)
}

// RunAll executes every pipeline in file order, stopping at the first failure.
func RunAll(ctx context.Context, doc *Document, opts Options) ([]*Result, error) {
	return pipeline.New(doc, opts).RunAll(ctx)
}

// OpenHistory connects the configured history backend and ensures its schema.
func OpenHistory(ctx context.Context, cfg HistoryConfig) (*HistoryStore, error) {
	return history.Open(ctx, cfg)
}
