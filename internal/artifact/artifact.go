package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/constants"
	"github.com/tidwall/gjson"
)

// Store manages transient artifact files written by probe stages and read by
// the assert stage that follows. Files are kept under Dir (default "tmp",
// relative to the invocation directory) and are never cleaned up by the
// sequencer itself, so failed runs leave their output behind for inspection.
type Store struct {
	Dir string
}

// DefaultStore returns a store rooted at the conventional tmp/ directory.
func DefaultStore() Store {
	return Store{Dir: constants.DefaultArtifactDir}
}

// Path resolves an artifact name to its on-disk path. Absolute names and
// names that already point below Dir are used as-is.
func (s Store) Path(name string) string {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) {
		return clean
	}
	dir := s.Dir
	if dir == "" {
		dir = constants.DefaultArtifactDir
	}
	if strings.HasPrefix(clean, dir+string(filepath.Separator)) {
		return clean
	}
	return filepath.Join(dir, clean)
}

// Write stores data under the artifact name, creating the directory as needed.
// Returns the resolved path.
func (s Store) Write(name string, data []byte) (string, error) {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("artifact: create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("artifact: write %s: %w", path, err)
	}
	common.GetLogger().WithComponent("artifact").Debug("artifact written", "path", path, "bytes", len(data))
	return path, nil
}

// Read returns the artifact contents. A missing file is an error: the
// assertion contract requires the artifact to exist before it is checked.
func (s Store) Read(name string) ([]byte, error) {
	path := s.Path(name)
	// #nosec G304 -- path is derived from the pipeline configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	return data, nil
}

// Assertion checks a previously captured artifact.
//
// Contains matches a literal substring anywhere in the file. JSONPath/Equals
// evaluate a gjson path against a JSON artifact and compare the result to an
// expected literal. At least one check must be configured.
type Assertion struct {
	Artifact string `yaml:"artifact" mapstructure:"artifact"`
	Contains string `yaml:"contains" mapstructure:"contains"`
	JSONPath string `yaml:"json_path" mapstructure:"json_path"`
	Equals   string `yaml:"equals" mapstructure:"equals"`
}

// Validate reports configuration errors before the pipeline starts.
func (a Assertion) Validate() error {
	if strings.TrimSpace(a.Artifact) == "" {
		return fmt.Errorf("assert: artifact is required")
	}
	hasContains := strings.TrimSpace(a.Contains) != ""
	hasJSON := strings.TrimSpace(a.JSONPath) != ""
	if !hasContains && !hasJSON {
		return fmt.Errorf("assert: one of contains or json_path is required")
	}
	if hasJSON && strings.TrimSpace(a.Equals) == "" {
		return fmt.Errorf("assert: json_path requires equals")
	}
	return nil
}

// Check reads the artifact and applies the configured checks.
func (a Assertion) Check(s Store) error {
	data, err := s.Read(a.Artifact)
	if err != nil {
		return err
	}

	// The configured literal is matched verbatim so whitespace stays
	// significant; only Validate trims, and only to detect emptiness.
	if a.Contains != "" {
		if !strings.Contains(string(data), a.Contains) {
			return fmt.Errorf("assert: %s does not contain %q", s.Path(a.Artifact), a.Contains)
		}
	}

	if path := strings.TrimSpace(a.JSONPath); path != "" {
		res := gjson.GetBytes(data, path)
		if !res.Exists() {
			return fmt.Errorf("assert: %s has no value at json path %q", s.Path(a.Artifact), path)
		}
		if got := res.String(); got != strings.TrimSpace(a.Equals) {
			return fmt.Errorf("assert: %s json path %q = %q, want %q", s.Path(a.Artifact), path, got, strings.TrimSpace(a.Equals))
		}
	}

	return nil
}
