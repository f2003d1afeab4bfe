package wait

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/smokerun/internal/httpc"
	"github.com/loykin/smokerun/pkg/env"
)

func TestDo_SleepRespectsConfiguredDuration(t *testing.T) {
	// The shipped pipelines rely on exact sleeps (5s for centos-httpd, 25s
	// for ubuntu-apache2); verify the duration is honored, not reduced.
	s := Spec{Sleep: "150ms"}
	start := time.Now()
	if err := s.Do(context.Background(), env.New(), httpc.Config{}); err != nil {
		t.Fatalf("sleep wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("sleep cut short: %v", elapsed)
	}
}

func TestSleepDuration_Parsing(t *testing.T) {
	if d, err := (Spec{Sleep: "25s"}).SleepDuration(); err != nil || d != 25*time.Second {
		t.Fatalf("got %v err=%v", d, err)
	}
	if d, err := (Spec{}).SleepDuration(); err != nil || d != 0 {
		t.Fatalf("empty sleep: got %v err=%v", d, err)
	}
	if _, err := (Spec{Sleep: "soon"}).SleepDuration(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDo_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Spec{Sleep: "10s"}.Do(ctx, env.New(), httpc.Config{})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestDo_HTTPPollingUntilAlive(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := atomic.AddInt32(&calls, 1)
		if c <= 3 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	s := Spec{URL: srv.URL + "/health", Timeout: "2s", Interval: "50ms"}
	if err := s.Do(context.Background(), env.New(), httpc.Config{}); err != nil {
		t.Fatalf("poll wait: %v", err)
	}
	if atomic.LoadInt32(&calls) < 4 {
		t.Fatalf("expected at least 4 polls, got %d", calls)
	}
}

func TestDo_HTTPTimeoutIncludesLastStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	s := Spec{URL: srv.URL, Timeout: "300ms", Interval: "100ms"}
	err := s.Do(context.Background(), env.New(), httpc.Config{})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !strings.Contains(err.Error(), "last=503") {
		t.Fatalf("expected error to include last=503, got %v", err)
	}
}

func TestDo_HTTPHeadMethod(t *testing.T) {
	var gotHEAD int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			atomic.AddInt32(&gotHEAD, 1)
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	s := Spec{URL: srv.URL, Method: "HEAD", Timeout: "1s", Interval: "50ms"}
	if err := s.Do(context.Background(), env.New(), httpc.Config{}); err != nil {
		t.Fatalf("head wait: %v", err)
	}
	if atomic.LoadInt32(&gotHEAD) == 0 {
		t.Fatalf("expected at least one HEAD request")
	}
}

func TestDo_TemplatedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	e := env.New()
	_ = e.SetString("global", "base", srv.URL)
	s := Spec{URL: "{{.env.base}}/health", Timeout: "1s", Interval: "50ms"}
	if err := s.Do(context.Background(), e, httpc.Config{}); err != nil {
		t.Fatalf("templated wait: %v", err)
	}
}

func TestDo_TCPWait(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	s := Spec{TCP: ln.Addr().String(), Timeout: "2s", Interval: "50ms"}
	if err := s.Do(context.Background(), env.New(), httpc.Config{}); err != nil {
		t.Fatalf("tcp wait: %v", err)
	}
}

func TestDo_TCPTimeout(t *testing.T) {
	// Port from a listener that is immediately closed; nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := Spec{TCP: addr, Timeout: "300ms", Interval: "100ms"}
	if err := s.Do(context.Background(), env.New(), httpc.Config{}); err == nil {
		t.Fatalf("expected tcp timeout error")
	}
}

func TestDo_NoModeIsNoop(t *testing.T) {
	if err := (Spec{}).Do(context.Background(), env.New(), httpc.Config{}); err != nil {
		t.Fatalf("empty wait must be a no-op: %v", err)
	}
}

func TestValidate_SingleModeOnly(t *testing.T) {
	cases := []struct {
		name    string
		s       Spec
		wantErr bool
	}{
		{"sleep", Spec{Sleep: "5s"}, false},
		{"url", Spec{URL: "http://127.0.0.1:8888/"}, false},
		{"tcp", Spec{TCP: "127.0.0.1:5432"}, false},
		{"empty", Spec{}, true},
		{"bad sleep", Spec{Sleep: "soon"}, true},
		{"sleep and url", Spec{Sleep: "5s", URL: "http://127.0.0.1:8888/"}, true},
		{"sleep and tcp", Spec{Sleep: "5s", TCP: "127.0.0.1:5432"}, true},
		{"url and tcp", Spec{URL: "http://127.0.0.1:8888/", TCP: "127.0.0.1:5432"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	p := Spec{URL: "http://example.invalid"}.parse(env.New())
	if p.method != "GET" {
		t.Fatalf("default method = %q", p.method)
	}
	if p.expected != 200 {
		t.Fatalf("default status = %d", p.expected)
	}
	if p.timeout != 60*time.Second || p.interval != 2*time.Second {
		t.Fatalf("default timings: timeout=%v interval=%v", p.timeout, p.interval)
	}
}

func TestParse_PortTemplate(t *testing.T) {
	e := env.New()
	_ = e.SetString("global", "PORT", "8888")
	p := Spec{URL: fmt.Sprintf("http://127.0.0.1:%s/", "{{.env.PORT}}")}.parse(e)
	if p.url != "http://127.0.0.1:8888/" {
		t.Fatalf("url = %q", p.url)
	}
}
