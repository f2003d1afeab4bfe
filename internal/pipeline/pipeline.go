package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/loykin/smokerun/internal/artifact"
	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/docker"
	"github.com/loykin/smokerun/internal/history"
	"github.com/loykin/smokerun/internal/playbook"
	"github.com/loykin/smokerun/internal/stage"
	"github.com/loykin/smokerun/pkg/env"
)

// Options tunes a Runner beyond what the pipelines file specifies.
type Options struct {
	// Port overrides the PORT variable (highest precedence, from --port or
	// SMOKERUN_PORT).
	Port string

	// Only restricts the run to a single named stage; From/To restrict it to
	// an inclusive range. Only wins when both are given.
	Only string
	From string
	To   string

	// History receives run records when non-nil. Recording is best effort:
	// a broken history store never fails a smoke test.
	History *history.Store

	Docker   *docker.Client
	Playbook *playbook.Client
}

// StageResult is the outcome of one executed stage.
type StageResult struct {
	Name      string
	Kind      string
	Status    string // passed, failed, ignored
	Ignored   bool
	Output    string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Result is the outcome of one pipeline run.
type Result struct {
	Pipeline string
	RunID    int64
	Failed   bool
	Stages   []StageResult
}

// PlanStep is one entry of a dry-run plan.
type PlanStep struct {
	Name string
	Kind string
}

// Runner executes pipelines from a loaded document, stage by stage in file
// order, stopping at the first non-ignored failure.
type Runner struct {
	doc      *stage.Document
	docker   *docker.Client
	playbook *playbook.Client
	store    artifact.Store
	opts     Options
}

// New builds a Runner. Nil clients fall back to the real CLIs.
func New(doc *stage.Document, opts Options) *Runner {
	d := opts.Docker
	if d == nil {
		d = docker.New()
	}
	pb := opts.Playbook
	if pb == nil {
		pb = playbook.New()
	}
	dir := strings.TrimSpace(doc.Global.ArtifactDir)
	if dir == "" {
		dir = constants.DefaultArtifactDir
	}
	return &Runner{
		doc:      doc,
		docker:   d,
		playbook: pb,
		store:    artifact.Store{Dir: dir},
		opts:     opts,
	}
}

// buildEnv layers the variable scopes for one pipeline run: global env,
// pipeline env, then the PORT default and override. Named auth entries are
// installed as lazy values so tokens are only acquired when referenced.
func (r *Runner) buildEnv(ctx context.Context, p *stage.Pipeline) *env.Env {
	e := env.New()
	e.Global = env.FromStringMap(r.doc.Global.Env)
	if e.Global == nil {
		e.Global = env.Map{}
	}
	for k, v := range p.Env {
		e.Global[k] = env.Str(v)
	}

	if _, ok := e.Global["PORT"]; !ok {
		port := strings.TrimSpace(r.doc.Global.Port)
		if port == "" {
			port = constants.DefaultPort
		}
		e.Global["PORT"] = env.Str(port)
	}
	if p := strings.TrimSpace(r.opts.Port); p != "" {
		e.Global["PORT"] = env.Str(p)
	}

	for i := range p.Auth {
		a := &p.Auth[i]
		e.Auth[a.Name] = a.MakeLazy(ctx, e)
	}
	return e
}

// selectStages applies --stage / --from / --to to the pipeline's stage list.
func (r *Runner) selectStages(p *stage.Pipeline) ([]stage.Stage, error) {
	if only := strings.TrimSpace(r.opts.Only); only != "" {
		i, err := p.StageIndex(only)
		if err != nil {
			return nil, err
		}
		return p.Stages[i : i+1], nil
	}

	start, end := 0, len(p.Stages)
	if from := strings.TrimSpace(r.opts.From); from != "" {
		i, err := p.StageIndex(from)
		if err != nil {
			return nil, err
		}
		start = i
	}
	if to := strings.TrimSpace(r.opts.To); to != "" {
		i, err := p.StageIndex(to)
		if err != nil {
			return nil, err
		}
		end = i + 1
	}
	if start >= end {
		return nil, fmt.Errorf("pipeline %q: empty stage range (from=%q to=%q)", p.Name, r.opts.From, r.opts.To)
	}
	return p.Stages[start:end], nil
}

// Plan returns the stages a run would execute, without executing anything.
func (r *Runner) Plan(nameOrAlias string) ([]PlanStep, error) {
	p, err := r.doc.Resolve(nameOrAlias)
	if err != nil {
		return nil, err
	}
	stages, err := r.selectStages(p)
	if err != nil {
		return nil, err
	}
	steps := make([]PlanStep, 0, len(stages))
	for i := range stages {
		kind, aerr := stages[i].Action()
		if aerr != nil {
			return nil, aerr
		}
		steps = append(steps, PlanStep{Name: stages[i].Name, Kind: kind})
	}
	return steps, nil
}

// preflight verifies the files a pipeline depends on before its first stage.
func (r *Runner) preflight(p *stage.Pipeline, e *env.Env) error {
	for _, f := range p.Preflight {
		path := e.RenderGoTemplate(f)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("pipeline %q: preflight: %w", p.Name, err)
		}
	}
	return nil
}

// Run executes one pipeline by name or alias.
func (r *Runner) Run(ctx context.Context, nameOrAlias string) (*Result, error) {
	p, err := r.doc.Resolve(nameOrAlias)
	if err != nil {
		return nil, err
	}
	return r.runPipeline(ctx, p)
}

// RunAll executes every pipeline in file order, stopping at the first
// failing pipeline.
func (r *Runner) RunAll(ctx context.Context) ([]*Result, error) {
	var results []*Result
	for i := range r.doc.Pipelines {
		res, err := r.runPipeline(ctx, &r.doc.Pipelines[i])
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) runPipeline(ctx context.Context, p *stage.Pipeline) (*Result, error) {
	logger := common.GetLogger().WithPipeline(p.Name)
	e := r.buildEnv(ctx, p)

	stages, err := r.selectStages(p)
	if err != nil {
		return nil, err
	}
	if err := r.preflight(p, e); err != nil {
		return nil, err
	}

	result := &Result{Pipeline: p.Name}
	started := time.Now()
	result.RunID = r.historyStart(p.Name, started)
	logger.Info("pipeline started", "stages", len(stages))

	var runErr error
	for i := range stages {
		s := &stages[i]
		sr := r.executeStage(ctx, e, s)
		result.Stages = append(result.Stages, sr)
		r.historyStage(result.RunID, sr)

		if sr.Err != nil && !s.IgnoreFailure {
			logger.Error("pipeline aborted", "stage", s.Name, "error", sr.Err)
			result.Failed = true
			runErr = fmt.Errorf("pipeline %q: stage %q: %w", p.Name, s.Name, sr.Err)
			break
		}
		if sr.Err != nil {
			logger.Warn("stage failed but is ignorable, continuing", "stage", s.Name, "error", sr.Err)
		}
	}

	status := "passed"
	if result.Failed {
		status = "failed"
	} else {
		logger.Info("pipeline passed", "duration", time.Since(started).Round(time.Millisecond))
	}
	r.historyFinish(result.RunID, status, result.Failed, started)

	return result, runErr
}

// History recording is best effort; failures are logged and swallowed.

func (r *Runner) historyStart(pipeline string, at time.Time) int64 {
	if r.opts.History == nil {
		return 0
	}
	id, err := r.opts.History.StartRun(pipeline, at)
	if err != nil {
		common.GetLogger().Warn("history: failed to record run start", "error", err)
		return 0
	}
	return id
}

func (r *Runner) historyStage(runID int64, sr StageResult) {
	if r.opts.History == nil || runID == 0 {
		return
	}
	var msg string
	if sr.Err != nil {
		msg = sr.Err.Error()
	}
	if err := r.opts.History.RecordStage(runID, sr.Name, sr.Status, sr.Ignored, sr.Output, msg, sr.StartedAt, sr.Duration); err != nil {
		common.GetLogger().Warn("history: failed to record stage", "stage", sr.Name, "error", err)
	}
}

func (r *Runner) historyFinish(runID int64, status string, failed bool, started time.Time) {
	if r.opts.History == nil || runID == 0 {
		return
	}
	now := time.Now()
	if err := r.opts.History.FinishRun(runID, status, failed, now, now.Sub(started)); err != nil {
		common.GetLogger().Warn("history: failed to record run finish", "error", err)
	}
}
