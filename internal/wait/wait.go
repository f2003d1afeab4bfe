package wait

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/loykin/smokerun/internal/constants"
	"github.com/loykin/smokerun/internal/httpc"
	"github.com/loykin/smokerun/pkg/env"
)

// Spec describes how a wait stage pauses the pipeline.
//
// Exactly one of the following modes applies:
//   - Sleep: a fixed pause; the original harness used fixed sleeps (5s, 25s)
//     and those values stay configurable here rather than hard-coded.
//   - URL: poll an HTTP endpoint until it returns the expected status.
//   - TCP: poll a host:port until a connection succeeds.
//
// Polling uses Timeout/Interval; both default per constants.
type Spec struct {
	Sleep    string `yaml:"sleep" mapstructure:"sleep"`
	URL      string `yaml:"url" mapstructure:"url"`
	Method   string `yaml:"method" mapstructure:"method"`
	Status   int    `yaml:"status" mapstructure:"status"`
	TCP      string `yaml:"tcp" mapstructure:"tcp"`
	Timeout  string `yaml:"timeout" mapstructure:"timeout"`
	Interval string `yaml:"interval" mapstructure:"interval"`
}

// params holds the parsed and normalized polling parameters.
type params struct {
	url      string
	method   string
	expected int
	addr     string
	timeout  time.Duration
	interval time.Duration
}

// parse normalizes the spec with defaults, rendering templated fields.
func (s Spec) parse(e *env.Env) params {
	method := strings.ToUpper(strings.TrimSpace(s.Method))
	if method == "" {
		method = constants.DefaultWaitMethod
	}

	expected := s.Status
	if expected == 0 {
		expected = constants.DefaultWaitStatus
	}

	timeout := constants.DefaultWaitTimeout
	if t := strings.TrimSpace(s.Timeout); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	interval := constants.DefaultWaitInterval
	if t := strings.TrimSpace(s.Interval); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			interval = d
		}
	}

	return params{
		url:      e.RenderGoTemplate(strings.TrimSpace(s.URL)),
		method:   method,
		expected: expected,
		addr:     e.RenderGoTemplate(strings.TrimSpace(s.TCP)),
		timeout:  timeout,
		interval: interval,
	}
}

// Validate enforces a single wait mode, mirroring the one-action-per-stage
// rule: a spec combining sleep with url or tcp would sleep and silently skip
// the poll, so it is rejected up front.
func (s Spec) Validate() error {
	var modes []string
	if strings.TrimSpace(s.Sleep) != "" {
		modes = append(modes, "sleep")
	}
	if strings.TrimSpace(s.URL) != "" {
		modes = append(modes, "url")
	}
	if strings.TrimSpace(s.TCP) != "" {
		modes = append(modes, "tcp")
	}
	switch len(modes) {
	case 0:
		return fmt.Errorf("wait: one of sleep, url or tcp is required")
	case 1:
		if modes[0] == "sleep" {
			_, err := s.SleepDuration()
			return err
		}
		return nil
	default:
		return fmt.Errorf("wait: multiple modes configured (%s)", strings.Join(modes, ", "))
	}
}

// SleepDuration returns the parsed fixed sleep, or zero when none is configured.
func (s Spec) SleepDuration() (time.Duration, error) {
	t := strings.TrimSpace(s.Sleep)
	if t == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(t)
	if err != nil {
		return 0, fmt.Errorf("wait: invalid sleep duration %q: %w", s.Sleep, err)
	}
	return d, nil
}

// Do executes the wait according to the spec.
//
// Behavior:
//   - sleep: pauses for the exact configured duration (context aware)
//   - url: polls with method (GET/HEAD, others fall back to GET) until the
//     expected status (default 200) or timeout (default 60s) at the given
//     interval (default 2s); the URL is rendered with the provided env
//   - tcp: dials host:port at the same cadence until a connection succeeds
func (s Spec) Do(ctx context.Context, e *env.Env, client httpc.Config) error {
	if d, err := s.SleepDuration(); err != nil {
		return err
	} else if d > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait: cancelled during sleep: %w", ctx.Err())
		case <-time.After(d):
			return nil
		}
	}

	p := s.parse(e)

	if p.url != "" {
		hcfg := httpc.FromConfig(client)
		return pollHTTP(ctx, hcfg, p)
	}
	if p.addr != "" {
		return pollTCP(ctx, p)
	}
	return nil
}

// pollHTTP repeatedly requests the endpoint until success or timeout.
func pollHTTP(ctx context.Context, hcfg *httpc.Httpc, p params) error {
	deadline := time.Now().Add(p.timeout)
	var lastStatus int

	for {
		status, err := probeOnce(ctx, hcfg, p.method, p.url)

		if err == nil && status == p.expected {
			return nil
		}

		lastStatus = status
		if time.Now().After(deadline) {
			return fmt.Errorf("wait: timeout waiting for %s to return %d (last=%d)",
				p.url, p.expected, lastStatus)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait: cancelled: %w", ctx.Err())
		case <-time.After(p.interval):
		}
	}
}

// probeOnce executes a single HTTP request with the specified method.
func probeOnce(ctx context.Context, hcfg *httpc.Httpc, method, url string) (int, error) {
	client := hcfg.New()
	req := client.R().SetContext(ctx)

	var status int
	var err error

	switch method {
	case "HEAD":
		resp, e := req.Head(url)
		err = e
		if resp != nil {
			status = resp.StatusCode()
		}
	default:
		resp, e := req.Get(url)
		err = e
		if resp != nil {
			status = resp.StatusCode()
		}
	}

	return status, err
}

// pollTCP dials the address until a connection succeeds or timeout elapses.
func pollTCP(ctx context.Context, p params) error {
	deadline := time.Now().Add(p.timeout)
	var lastErr error

	for {
		d := net.Dialer{Timeout: p.interval}
		conn, err := d.DialContext(ctx, "tcp", p.addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return fmt.Errorf("wait: timeout waiting for tcp %s: %w", p.addr, lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait: cancelled: %w", ctx.Err())
		case <-time.After(p.interval):
		}
	}
}
