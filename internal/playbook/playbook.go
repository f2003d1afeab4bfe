package playbook

import (
	"context"
	"fmt"
	"strings"

	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/execx"
	"github.com/loykin/smokerun/pkg/env"
)

// Spec runs an ansible playbook against containers started earlier in the
// pipeline, the provisioning step of the compose choreography.
type Spec struct {
	Playbook  string            `yaml:"playbook" mapstructure:"playbook"`
	Inventory string            `yaml:"inventory" mapstructure:"inventory"`
	Limit     string            `yaml:"limit" mapstructure:"limit"`
	ExtraVars map[string]string `yaml:"extra_vars" mapstructure:"extra_vars"`
	Tags      []string          `yaml:"tags" mapstructure:"tags"`
	Verbose   bool              `yaml:"verbose" mapstructure:"verbose"`
}

func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Playbook) == "" {
		return fmt.Errorf("playbook: playbook is required")
	}
	return nil
}

// Client shells out to ansible-playbook.
type Client struct {
	Bin    string
	Runner execx.Runner
}

func New() *Client {
	return &Client{Bin: constants.DefaultPlaybookBin, Runner: execx.OSRunner{}}
}

func (c *Client) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return constants.DefaultPlaybookBin
}

func (c *Client) runner() execx.Runner {
	if c.Runner != nil {
		return c.Runner
	}
	return execx.OSRunner{}
}

// Run executes the playbook with the rendered options.
func (c *Client) Run(ctx context.Context, e *env.Env, s Spec) (*execx.Result, error) {
	argv := []string{c.bin()}
	if inv := strings.TrimSpace(e.RenderGoTemplate(s.Inventory)); inv != "" {
		argv = append(argv, "-i", inv)
	}
	if l := strings.TrimSpace(e.RenderGoTemplate(s.Limit)); l != "" {
		argv = append(argv, "--limit", l)
	}
	for k, v := range e.RenderMap(s.ExtraVars) {
		argv = append(argv, "-e", k+"="+v)
	}
	if len(s.Tags) > 0 {
		argv = append(argv, "--tags", strings.Join(e.RenderAll(s.Tags), ","))
	}
	if s.Verbose {
		argv = append(argv, "-v")
	}
	argv = append(argv, e.RenderGoTemplate(s.Playbook))
	return c.runner().Run(ctx, execx.Cmd{Argv: argv})
}
