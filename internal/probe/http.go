package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/httpc"
	"github.com/loykin/smokerun/pkg/env"
)

// HTTPSpec fetches a URL and captures the response body, mirroring the
// curl-into-file step of the original harness. A non-2xx status is not an
// error by itself: the captured body is what the assert stage judges.
type HTTPSpec struct {
	URL     string            `yaml:"url" mapstructure:"url"`
	Method  string            `yaml:"method" mapstructure:"method"`
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
	Body    string            `yaml:"body" mapstructure:"body"`
}

func (s *Spec) fetchHTTP(ctx context.Context, e *env.Env, client httpc.Config) ([]byte, error) {
	h := s.HTTP
	url, err := e.RenderGoTemplateErr(h.URL)
	if err != nil {
		return nil, fmt.Errorf("probe: render url %q: %w", h.URL, err)
	}

	c := httpc.FromConfig(client).New()
	req := c.R().SetContext(ctx)

	for k, v := range e.RenderMap(h.Headers) {
		req.SetHeader(k, v)
	}
	if h.Body != "" {
		req.SetBody(e.RenderGoTemplate(h.Body))
	}

	if name, value, aerr := s.authHeader(ctx, e); aerr != nil {
		return nil, aerr
	} else if name != "" {
		req.SetHeader(name, value)
	}

	method := strings.ToUpper(strings.TrimSpace(h.Method))
	if method == "" {
		method = "GET"
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("probe: %s %s: %w", method, url, err)
	}

	common.GetLogger().WithComponent("probe").Debug("http probe",
		"method", method, "url", url, "status", resp.StatusCode(), "bytes", len(resp.Body()))
	return resp.Body(), nil
}

// authHeader resolves the request auth: inline spec first, then a named value
// previously acquired into the env auth layer.
func (s *Spec) authHeader(ctx context.Context, e *env.Env) (string, string, error) {
	if s.Auth != nil {
		return s.Auth.Acquire(ctx, e)
	}
	if name := strings.TrimSpace(s.AuthName); name != "" {
		val := e.GetString("auth", name)
		if val == "" {
			return "", "", fmt.Errorf("probe: auth value %q not found", name)
		}
		return "Authorization", val, nil
	}
	return "", "", nil
}
