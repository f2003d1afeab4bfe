package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/execx"
	"github.com/loykin/smokerun/internal/stage"
	"github.com/loykin/smokerun/pkg/env"
)

// executeStage runs one stage and classifies the outcome. Stage-local env
// is installed before and cleared after, so variables do not leak between
// stages.
func (r *Runner) executeStage(ctx context.Context, e *env.Env, s *stage.Stage) StageResult {
	sr := StageResult{Name: s.Name, StartedAt: time.Now(), Ignored: s.IgnoreFailure}
	kind, err := s.Action()
	if err != nil {
		sr.Status = "failed"
		sr.Err = err
		return sr
	}
	sr.Kind = kind

	logger := common.GetLogger().WithStage(s.Name)
	logger.Info("stage started", "kind", kind)

	e.Local = env.FromStringMap(s.Env)
	defer func() { e.Local = nil }()

	output, err := r.dispatch(ctx, e, s, kind)
	sr.Duration = time.Since(sr.StartedAt)
	sr.Output = output

	if err != nil {
		sr.Err = err
		if s.IgnoreFailure {
			sr.Status = "ignored"
		} else {
			sr.Status = "failed"
		}
		return sr
	}

	sr.Status = "passed"
	logger.Info("stage passed", "duration", sr.Duration.Round(time.Millisecond))
	return sr
}

func (r *Runner) dispatch(ctx context.Context, e *env.Env, s *stage.Stage, kind string) (string, error) {
	switch kind {
	case "build":
		res, err := r.docker.Build(ctx, e, *s.Build)
		return res.OutputString(), err
	case "run":
		res, err := r.docker.Run(ctx, e, *s.Run)
		return res.OutputString(), err
	case "stop":
		res, err := r.docker.Stop(ctx, e, *s.Stop)
		return res.OutputString(), err
	case "remove":
		res, err := r.docker.Remove(ctx, e, *s.Remove)
		return res.OutputString(), err
	case "exec":
		res, err := r.docker.Exec(ctx, e, *s.Exec)
		return res.OutputString(), err
	case "commit":
		res, err := r.docker.Commit(ctx, e, *s.Commit)
		return res.OutputString(), err
	case "compose":
		res, err := r.docker.Compose(ctx, e, *s.Compose)
		return res.OutputString(), err
	case "playbook":
		res, err := r.playbook.Run(ctx, e, *s.Playbook)
		return res.OutputString(), err
	case "symlink":
		return "", makeSymlink(e, s.Symlink)
	case "wait":
		return "", s.Wait.Do(ctx, e, r.doc.Global.Client)
	case "probe":
		path, out, err := s.Probe.Execute(ctx, e, r.doc.Global.Client, r.store)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("captured %d bytes to %s", len(out), path), nil
	case "assert":
		return "", s.Assert.Check(r.store)
	case "command":
		runner := r.docker.Runner
		if runner == nil {
			runner = execx.OSRunner{}
		}
		res, err := runner.Run(ctx, execx.Cmd{Argv: e.RenderAll(s.Command)})
		return res.OutputString(), err
	}
	return "", fmt.Errorf("stage %q: unknown action %q", s.Name, kind)
}

// makeSymlink replaces the link if it already exists, matching ln -sf.
// With remove set it unlinks instead, and a missing link is not an error.
func makeSymlink(e *env.Env, s *stage.SymlinkSpec) error {
	target := e.RenderGoTemplate(s.Target)
	link := e.RenderGoTemplate(s.Link)
	if s.Remove {
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("symlink: remove %s: %w", link, err)
		}
		return nil
	}
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("symlink: replace %s: %w", link, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink: %s -> %s: %w", link, target, err)
	}
	return nil
}
