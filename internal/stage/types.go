package stage

import (
	"fmt"
	"strings"

	"github.com/loykin/smokerun/internal/artifact"
	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/docker"
	"github.com/loykin/smokerun/internal/history"
	"github.com/loykin/smokerun/internal/httpc"
	"github.com/loykin/smokerun/internal/playbook"
	"github.com/loykin/smokerun/internal/probe"
	"github.com/loykin/smokerun/internal/wait"
)

// Document is the root of a pipelines file: shared settings plus the named
// pipelines the sequencer can run.
type Document struct {
	Global    Global     `yaml:"global"`
	Pipelines []Pipeline `yaml:"pipelines"`

	// BaseDir is the directory of the loaded file; relative paths in stages
	// (dockerfiles, compose files, playbooks) resolve against it.
	BaseDir string `yaml:"-"`
}

// Global holds run-wide settings shared by every pipeline.
type Global struct {
	Env         map[string]string `yaml:"env"`
	Port        string            `yaml:"port"`
	ArtifactDir string            `yaml:"artifact_dir"`
	Client      httpc.Config      `yaml:"client"`
	Logging     common.LogConfig  `yaml:"logging"`
	Store       history.Config    `yaml:"store"`
}

// Pipeline is one named smoke test: an ordered list of stages run strictly
// in file order, aborting at the first non-ignored failure.
type Pipeline struct {
	Name        string            `yaml:"name"`
	Aliases     []string          `yaml:"aliases"`
	Description string            `yaml:"description"`
	Env         map[string]string `yaml:"env"`
	Auth        []probe.AuthSpec  `yaml:"auth"`
	Preflight   []string          `yaml:"preflight"`
	Stages      []Stage           `yaml:"stages"`
}

// SymlinkSpec creates or replaces a symlink, used to point a shared
// dockerfile name at a distro-specific variant before building.
type SymlinkSpec struct {
	Target string `yaml:"target" mapstructure:"target"`
	Link   string `yaml:"link" mapstructure:"link"`
	Remove bool   `yaml:"remove" mapstructure:"remove"`
}

func (s *SymlinkSpec) Validate() error {
	if strings.TrimSpace(s.Link) == "" {
		return fmt.Errorf("symlink: link is required")
	}
	if !s.Remove && strings.TrimSpace(s.Target) == "" {
		return fmt.Errorf("symlink: target is required")
	}
	return nil
}

// Stage is one step of a pipeline. Exactly one action field must be set.
// IgnoreFailure marks steps whose failure is expected and tolerated, like
// force-removing a container that may not exist.
type Stage struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	IgnoreFailure bool              `yaml:"ignore_failure"`
	Env           map[string]string `yaml:"env"`

	Build    *docker.BuildSpec   `yaml:"build"`
	Run      *docker.RunSpec     `yaml:"run"`
	Stop     *docker.StopSpec    `yaml:"stop"`
	Remove   *docker.RemoveSpec  `yaml:"remove"`
	Exec     *docker.ExecSpec    `yaml:"exec"`
	Commit   *docker.CommitSpec  `yaml:"commit"`
	Compose  *docker.ComposeSpec `yaml:"compose"`
	Playbook *playbook.Spec      `yaml:"playbook"`
	Symlink  *SymlinkSpec        `yaml:"symlink"`
	Wait     *wait.Spec          `yaml:"wait"`
	Probe    *probe.Spec         `yaml:"probe"`
	Assert   *artifact.Assertion `yaml:"assert"`
	Command  []string            `yaml:"command"`
}

// Action returns the kind of the single configured action, or an error when
// the stage has none or more than one.
func (s *Stage) Action() (string, error) {
	var kinds []string
	if s.Build != nil {
		kinds = append(kinds, "build")
	}
	if s.Run != nil {
		kinds = append(kinds, "run")
	}
	if s.Stop != nil {
		kinds = append(kinds, "stop")
	}
	if s.Remove != nil {
		kinds = append(kinds, "remove")
	}
	if s.Exec != nil {
		kinds = append(kinds, "exec")
	}
	if s.Commit != nil {
		kinds = append(kinds, "commit")
	}
	if s.Compose != nil {
		kinds = append(kinds, "compose")
	}
	if s.Playbook != nil {
		kinds = append(kinds, "playbook")
	}
	if s.Symlink != nil {
		kinds = append(kinds, "symlink")
	}
	if s.Wait != nil {
		kinds = append(kinds, "wait")
	}
	if s.Probe != nil {
		kinds = append(kinds, "probe")
	}
	if s.Assert != nil {
		kinds = append(kinds, "assert")
	}
	if len(s.Command) > 0 {
		kinds = append(kinds, "command")
	}

	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("stage %q: no action configured", s.Name)
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("stage %q: multiple actions configured (%s)", s.Name, strings.Join(kinds, ", "))
	}
}

// Validate checks the stage's single action and its configuration.
func (s *Stage) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("stage: name is required")
	}
	kind, err := s.Action()
	if err != nil {
		return err
	}

	switch kind {
	case "build":
		return s.Build.Validate()
	case "run":
		return s.Run.Validate()
	case "stop":
		return s.Stop.Validate()
	case "remove":
		return s.Remove.Validate()
	case "exec":
		return s.Exec.Validate()
	case "commit":
		return s.Commit.Validate()
	case "compose":
		return s.Compose.Validate()
	case "playbook":
		return s.Playbook.Validate()
	case "symlink":
		return s.Symlink.Validate()
	case "wait":
		if werr := s.Wait.Validate(); werr != nil {
			return fmt.Errorf("stage %q: %w", s.Name, werr)
		}
	case "probe":
		return s.Probe.Validate()
	case "assert":
		return s.Assert.Validate()
	}
	return nil
}

// Resolve finds a pipeline by name or alias.
func (d *Document) Resolve(nameOrAlias string) (*Pipeline, error) {
	want := strings.TrimSpace(nameOrAlias)
	for i := range d.Pipelines {
		p := &d.Pipelines[i]
		if p.Name == want {
			return p, nil
		}
		for _, a := range p.Aliases {
			if a == want {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("pipeline %q not found", nameOrAlias)
}

// StageIndex returns the position of a named stage within the pipeline.
func (p *Pipeline) StageIndex(name string) (int, error) {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("pipeline %q: stage %q not found", p.Name, name)
}
