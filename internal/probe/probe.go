package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/loykin/smokerun/internal/artifact"
	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/httpc"
	"github.com/loykin/smokerun/pkg/env"
)

// Spec describes a probe stage: fetch something from the system under test
// and capture the output into an artifact file for the following assert stage.
//
// Exactly one of HTTP or SQL must be set. Artifact is the capture target,
// resolved against the pipeline's artifact store.
type Spec struct {
	HTTP     *HTTPSpec `yaml:"http" mapstructure:"http"`
	SQL      *SQLSpec  `yaml:"sql" mapstructure:"sql"`
	Artifact string    `yaml:"artifact" mapstructure:"artifact"`
	// Auth configures request authentication inline; AuthName references a
	// value previously acquired into the env auth layer.
	Auth     *AuthSpec `yaml:"auth" mapstructure:"auth"`
	AuthName string    `yaml:"auth_name" mapstructure:"auth_name"`
}

// Validate reports configuration errors before the pipeline starts.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("probe: nil spec")
	}
	if (s.HTTP == nil) == (s.SQL == nil) {
		return fmt.Errorf("probe: exactly one of http or sql is required")
	}
	if strings.TrimSpace(s.Artifact) == "" {
		return fmt.Errorf("probe: artifact is required")
	}
	if s.HTTP != nil {
		if strings.TrimSpace(s.HTTP.URL) == "" {
			return fmt.Errorf("probe: http.url is required")
		}
	}
	if s.SQL != nil {
		if err := s.SQL.validate(); err != nil {
			return err
		}
	}
	if s.Auth != nil {
		if err := s.Auth.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the probe and writes its output to the artifact store.
// It returns the resolved artifact path and the captured bytes.
func (s *Spec) Execute(ctx context.Context, e *env.Env, client httpc.Config, store artifact.Store) (string, []byte, error) {
	logger := common.GetLogger().WithComponent("probe")

	var out []byte
	var err error
	switch {
	case s.HTTP != nil:
		out, err = s.fetchHTTP(ctx, e, client)
	case s.SQL != nil:
		out, err = s.SQL.query(ctx, e)
	default:
		return "", nil, fmt.Errorf("probe: exactly one of http or sql is required")
	}
	if err != nil {
		return "", nil, err
	}

	path, werr := store.Write(s.Artifact, out)
	if werr != nil {
		return "", nil, werr
	}
	logger.Debug("probe captured", "artifact", path, "bytes", len(out))
	return path, out, nil
}
