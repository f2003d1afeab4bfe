package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/execx"
	"github.com/loykin/smokerun/pkg/env"
)

// Client drives the docker and docker-compose CLIs. The harness shells out
// instead of speaking the daemon API so its behavior matches what an operator
// typing the same commands would see, including compose file handling.
type Client struct {
	Bin        string
	ComposeBin string
	Runner     execx.Runner
}

// New returns a client with the conventional binary names and the OS runner.
func New() *Client {
	return &Client{
		Bin:        constants.DefaultDockerBin,
		ComposeBin: constants.DefaultComposeBin,
		Runner:     execx.OSRunner{},
	}
}

func (c *Client) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return constants.DefaultDockerBin
}

func (c *Client) composeBin() string {
	if c.ComposeBin != "" {
		return c.ComposeBin
	}
	return constants.DefaultComposeBin
}

func (c *Client) runner() execx.Runner {
	if c.Runner != nil {
		return c.Runner
	}
	return execx.OSRunner{}
}

func (c *Client) run(ctx context.Context, argv []string) (*execx.Result, error) {
	return c.runner().Run(ctx, execx.Cmd{Argv: argv})
}

// BuildSpec builds an image from a dockerfile.
type BuildSpec struct {
	Tag       string            `yaml:"tag" mapstructure:"tag"`
	File      string            `yaml:"file" mapstructure:"file"`
	Context   string            `yaml:"context" mapstructure:"context"`
	BuildArgs map[string]string `yaml:"build_args" mapstructure:"build_args"`
	Pull      bool              `yaml:"pull" mapstructure:"pull"`
}

func (s *BuildSpec) Validate() error {
	if strings.TrimSpace(s.Tag) == "" {
		return fmt.Errorf("build: tag is required")
	}
	return nil
}

// Build runs docker build with the rendered options.
func (c *Client) Build(ctx context.Context, e *env.Env, s BuildSpec) (*execx.Result, error) {
	argv := []string{c.bin(), "build"}
	if s.Pull {
		argv = append(argv, "--pull")
	}
	if f := strings.TrimSpace(e.RenderGoTemplate(s.File)); f != "" {
		argv = append(argv, "-f", f)
	}
	for k, v := range e.RenderMap(s.BuildArgs) {
		argv = append(argv, "--build-arg", k+"="+v)
	}
	argv = append(argv, "-t", e.RenderGoTemplate(s.Tag))
	dir := strings.TrimSpace(e.RenderGoTemplate(s.Context))
	if dir == "" {
		dir = "."
	}
	argv = append(argv, dir)
	return c.run(ctx, argv)
}

// RunSpec starts a container, detached by default the way the harness always
// runs services under test.
type RunSpec struct {
	Name       string            `yaml:"name" mapstructure:"name"`
	Image      string            `yaml:"image" mapstructure:"image"`
	Publish    []string          `yaml:"publish" mapstructure:"publish"`
	Env        map[string]string `yaml:"env" mapstructure:"env"`
	Volumes    []string          `yaml:"volumes" mapstructure:"volumes"`
	Hostname   string            `yaml:"hostname" mapstructure:"hostname"`
	Entrypoint string            `yaml:"entrypoint" mapstructure:"entrypoint"`
	Args       []string          `yaml:"args" mapstructure:"args"`
	Foreground bool              `yaml:"foreground" mapstructure:"foreground"`
}

func (s *RunSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("run: name is required")
	}
	if strings.TrimSpace(s.Image) == "" {
		return fmt.Errorf("run: image is required")
	}
	return nil
}

// Run starts the container.
func (c *Client) Run(ctx context.Context, e *env.Env, s RunSpec) (*execx.Result, error) {
	argv := []string{c.bin(), "run"}
	if !s.Foreground {
		argv = append(argv, "-d")
	}
	argv = append(argv, "--name", e.RenderGoTemplate(s.Name))
	if h := strings.TrimSpace(e.RenderGoTemplate(s.Hostname)); h != "" {
		argv = append(argv, "--hostname", h)
	}
	for _, p := range e.RenderAll(s.Publish) {
		argv = append(argv, "-p", p)
	}
	for k, v := range e.RenderMap(s.Env) {
		argv = append(argv, "-e", k+"="+v)
	}
	for _, v := range e.RenderAll(s.Volumes) {
		argv = append(argv, "-v", v)
	}
	if ep := strings.TrimSpace(e.RenderGoTemplate(s.Entrypoint)); ep != "" {
		argv = append(argv, "--entrypoint", ep)
	}
	argv = append(argv, e.RenderGoTemplate(s.Image))
	argv = append(argv, e.RenderAll(s.Args)...)
	return c.run(ctx, argv)
}

// StopSpec stops a running container.
type StopSpec struct {
	Name string `yaml:"name" mapstructure:"name"`
	Time int    `yaml:"time" mapstructure:"time"`
}

func (s *StopSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("stop: name is required")
	}
	return nil
}

// Stop stops the container, optionally with a kill timeout.
func (c *Client) Stop(ctx context.Context, e *env.Env, s StopSpec) (*execx.Result, error) {
	argv := []string{c.bin(), "stop"}
	if s.Time > 0 {
		argv = append(argv, "-t", fmt.Sprintf("%d", s.Time))
	}
	argv = append(argv, e.RenderGoTemplate(s.Name))
	return c.run(ctx, argv)
}

// RemoveSpec removes a container or an image. Force removal of a possibly
// absent container is the harness's standard pre-run cleanup, with the
// failure ignored at the stage level.
type RemoveSpec struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Image string `yaml:"image" mapstructure:"image"`
	Force bool   `yaml:"force" mapstructure:"force"`
}

func (s *RemoveSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" && strings.TrimSpace(s.Image) == "" {
		return fmt.Errorf("remove: name or image is required")
	}
	return nil
}

// Remove removes the named container (docker rm) or image (docker rmi).
func (c *Client) Remove(ctx context.Context, e *env.Env, s RemoveSpec) (*execx.Result, error) {
	var argv []string
	switch {
	case strings.TrimSpace(s.Name) != "":
		argv = []string{c.bin(), "rm"}
		if s.Force {
			argv = append(argv, "-f")
		}
		argv = append(argv, e.RenderGoTemplate(s.Name))
	default:
		argv = []string{c.bin(), "rmi"}
		if s.Force {
			argv = append(argv, "-f")
		}
		argv = append(argv, e.RenderGoTemplate(s.Image))
	}
	return c.run(ctx, argv)
}

// ExecSpec runs a command inside a running container.
type ExecSpec struct {
	Container string   `yaml:"container" mapstructure:"container"`
	Cmd       []string `yaml:"cmd" mapstructure:"cmd"`
	User      string   `yaml:"user" mapstructure:"user"`
}

func (s *ExecSpec) Validate() error {
	if strings.TrimSpace(s.Container) == "" {
		return fmt.Errorf("exec: container is required")
	}
	if len(s.Cmd) == 0 {
		return fmt.Errorf("exec: cmd is required")
	}
	return nil
}

// Exec runs the command inside the container.
func (c *Client) Exec(ctx context.Context, e *env.Env, s ExecSpec) (*execx.Result, error) {
	argv := []string{c.bin(), "exec"}
	if u := strings.TrimSpace(e.RenderGoTemplate(s.User)); u != "" {
		argv = append(argv, "-u", u)
	}
	argv = append(argv, e.RenderGoTemplate(s.Container))
	argv = append(argv, e.RenderAll(s.Cmd)...)
	return c.run(ctx, argv)
}

// CommitSpec snapshots a provisioned container into a new image, with
// optional dockerfile-style changes (the harness uses it to restore the
// ENTRYPOINT after ansible provisioning).
type CommitSpec struct {
	Container string   `yaml:"container" mapstructure:"container"`
	Image     string   `yaml:"image" mapstructure:"image"`
	Changes   []string `yaml:"changes" mapstructure:"changes"`
}

func (s *CommitSpec) Validate() error {
	if strings.TrimSpace(s.Container) == "" || strings.TrimSpace(s.Image) == "" {
		return fmt.Errorf("commit: container and image are required")
	}
	return nil
}

// Commit commits the container into an image.
func (c *Client) Commit(ctx context.Context, e *env.Env, s CommitSpec) (*execx.Result, error) {
	argv := []string{c.bin(), "commit"}
	for _, ch := range e.RenderAll(s.Changes) {
		argv = append(argv, "-c", ch)
	}
	argv = append(argv, e.RenderGoTemplate(s.Container), e.RenderGoTemplate(s.Image))
	return c.run(ctx, argv)
}

// ComposeSpec drives docker-compose for multi-container pipelines.
type ComposeSpec struct {
	File     string   `yaml:"file" mapstructure:"file"`
	Project  string   `yaml:"project" mapstructure:"project"`
	Action   string   `yaml:"action" mapstructure:"action"`
	Services []string `yaml:"services" mapstructure:"services"`
	Build    bool     `yaml:"build" mapstructure:"build"`
}

func (s *ComposeSpec) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Action)) {
	case "up", "down", "build":
	default:
		return fmt.Errorf("compose: action must be up, down or build")
	}
	return nil
}

// Compose runs docker-compose up/down/build against the compose file.
func (c *Client) Compose(ctx context.Context, e *env.Env, s ComposeSpec) (*execx.Result, error) {
	argv := []string{c.composeBin()}
	if f := strings.TrimSpace(e.RenderGoTemplate(s.File)); f != "" {
		argv = append(argv, "-f", f)
	}
	if p := strings.TrimSpace(e.RenderGoTemplate(s.Project)); p != "" {
		argv = append(argv, "-p", p)
	}
	switch strings.ToLower(strings.TrimSpace(s.Action)) {
	case "down":
		argv = append(argv, "down")
	case "build":
		argv = append(argv, "build")
	default:
		argv = append(argv, "up", "-d")
		if s.Build {
			argv = append(argv, "--build")
		}
	}
	argv = append(argv, e.RenderAll(s.Services)...)
	return c.run(ctx, argv)
}
