package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a pipelines file. Relative file references inside
// stages are resolved against the file's directory so pipelines can be run
// from anywhere.
func Load(path string) (*Document, error) {
	// #nosec G304 -- path is the user-supplied config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stage: read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("stage: %s: %w", path, err)
	}
	doc.BaseDir = filepath.Dir(path)
	doc.resolvePaths()
	return doc, nil
}

// Parse decodes and validates a pipelines document from YAML bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the whole document: unique pipeline names and aliases,
// unique stage names per pipeline, and every stage's action configuration.
func (d *Document) Validate() error {
	if len(d.Pipelines) == 0 {
		return fmt.Errorf("no pipelines defined")
	}

	seen := map[string]string{} // name or alias -> owning pipeline
	for i := range d.Pipelines {
		p := &d.Pipelines[i]
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("pipeline %d: name is required", i)
		}
		if owner, dup := seen[p.Name]; dup {
			return fmt.Errorf("pipeline name %q already used by %q", p.Name, owner)
		}
		seen[p.Name] = p.Name
		for _, a := range p.Aliases {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("pipeline %q: empty alias", p.Name)
			}
			if owner, dup := seen[a]; dup {
				return fmt.Errorf("pipeline %q: alias %q already used by %q", p.Name, a, owner)
			}
			seen[a] = p.Name
		}

		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %q: no stages", p.Name)
	}

	names := map[string]struct{}{}
	for i := range p.Stages {
		s := &p.Stages[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("pipeline %q: duplicate stage name %q", p.Name, s.Name)
		}
		names[s.Name] = struct{}{}
	}

	for i := range p.Auth {
		a := &p.Auth[i]
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("pipeline %q: auth entries require a name", p.Name)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: auth %q: %w", p.Name, a.Name, err)
		}
	}
	return nil
}

// resolvePaths rewrites relative file references to be relative to BaseDir.
// Templated paths are left alone; they are rendered at run time.
func (d *Document) resolvePaths() {
	if d.BaseDir == "" || d.BaseDir == "." {
		return
	}
	rebase := func(p string) string {
		t := strings.TrimSpace(p)
		if t == "" || filepath.IsAbs(t) || strings.Contains(t, "{{") {
			return p
		}
		return filepath.Join(d.BaseDir, t)
	}

	for pi := range d.Pipelines {
		p := &d.Pipelines[pi]
		for i, f := range p.Preflight {
			p.Preflight[i] = rebase(f)
		}
		for si := range p.Stages {
			s := &p.Stages[si]
			switch {
			case s.Build != nil:
				s.Build.File = rebase(s.Build.File)
				s.Build.Context = rebase(s.Build.Context)
			case s.Compose != nil:
				s.Compose.File = rebase(s.Compose.File)
			case s.Playbook != nil:
				s.Playbook.Playbook = rebase(s.Playbook.Playbook)
				s.Playbook.Inventory = rebase(s.Playbook.Inventory)
			case s.Symlink != nil:
				s.Symlink.Link = rebase(s.Symlink.Link)
			}
		}
	}
}
