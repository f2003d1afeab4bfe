package execx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/smokerun/internal/common"
)

// Cmd describes one external command invocation.
// Argv is the full argument vector including the program name; no shell is involved.
type Cmd struct {
	Argv []string
	Dir  string
	Env  map[string]string
}

// Result captures the outcome of a finished command.
type Result struct {
	Output   []byte // combined stdout+stderr
	ExitCode int
}

// OutputString returns the combined output as a trimmed string.
func (r *Result) OutputString() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(string(r.Output))
}

// Runner executes external commands. The production implementation shells out;
// tests substitute a recording fake.
type Runner interface {
	Run(ctx context.Context, c Cmd) (*Result, error)
}

// OSRunner runs commands via os/exec, inheriting the parent environment
// and appending any per-command variables.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, c Cmd) (*Result, error) {
	if len(c.Argv) == 0 {
		return nil, errors.New("execx: empty argv")
	}

	logger := common.GetLogger().WithComponent("execx")
	logger.Debug("running command", "argv", strings.Join(common.GetGlobalMasker().MaskArgv(c.Argv), " "), "dir", c.Dir)

	// #nosec G204 -- argv comes from the pipeline configuration, which is trusted input
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		env := os.Environ()
		for k, v := range c.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	out, err := cmd.CombinedOutput()
	res := &Result{Output: out}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			logger.Debug("command exited non-zero", "exit_code", res.ExitCode)
			return res, fmt.Errorf("%s: exit status %d", c.Argv[0], res.ExitCode)
		}
		// Start failures (binary missing, permission) have no exit code.
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", c.Argv[0], err)
	}
	return res, nil
}
