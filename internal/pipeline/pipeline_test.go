package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/smokerun/internal/docker"
	"github.com/loykin/smokerun/internal/execx"
	"github.com/loykin/smokerun/internal/history"
	"github.com/loykin/smokerun/internal/playbook"
	"github.com/loykin/smokerun/internal/stage"
)

// scriptedRunner records argv and fails commands matched by failOn.
type scriptedRunner struct {
	calls  [][]string
	failOn func(argv []string) error
}

func (f *scriptedRunner) Run(_ context.Context, c execx.Cmd) (*execx.Result, error) {
	f.calls = append(f.calls, c.Argv)
	if f.failOn != nil {
		if err := f.failOn(c.Argv); err != nil {
			return &execx.Result{Output: []byte(err.Error()), ExitCode: 1}, err
		}
	}
	return &execx.Result{Output: []byte("ok")}, nil
}

func (f *scriptedRunner) joined() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

func testClients(f *scriptedRunner) (*docker.Client, *playbook.Client) {
	return &docker.Client{Bin: "docker", ComposeBin: "docker-compose", Runner: f},
		&playbook.Client{Bin: "ansible-playbook", Runner: f}
}

// httpdDoc mirrors the centos-httpd smoke test: build, ignorable pre-clean,
// run, wait, probe, assert, stop, clean.
func httpdDoc(t *testing.T, serverURL, artifactDir string) *stage.Document {
	t.Helper()
	doc := fmt.Sprintf(`
global:
  artifact_dir: %s
  env:
    URL: %s
pipelines:
  - name: centos-httpd
    aliases: [CH]
    stages:
      - name: build
        build:
          tag: localhost:5000/smoketest/centos-httpd
      - name: pre-clean
        ignore_failure: true
        remove:
          name: test-centos-httpd
          force: true
      - name: start
        run:
          name: test-centos-httpd
          image: localhost:5000/smoketest/centos-httpd
          publish: ["{{.env.PORT}}:80"]
      - name: settle
        wait:
          sleep: 10ms
      - name: probe
        probe:
          http:
            url: "{{.env.URL}}/"
          artifact: centos-httpd.dockerfile.txt
      - name: assert
        assert:
          artifact: centos-httpd.dockerfile.txt
          contains: OK
      - name: stop
        stop:
          name: test-centos-httpd
      - name: clean
        remove:
          name: test-centos-httpd
`, artifactDir, serverURL)
	d, err := stage.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse doc: %v", err)
	}
	return d
}

func TestRun_FullPipelineInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK\n"))
	}))
	defer srv.Close()

	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, srv.URL, t.TempDir())

	r := New(doc, Options{Docker: dc, Playbook: pb})
	res, err := r.Run(context.Background(), "CH")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failed {
		t.Fatalf("pipeline failed: %+v", res)
	}
	if len(res.Stages) != 8 {
		t.Fatalf("expected 8 stage results, got %d", len(res.Stages))
	}

	wantCalls := []string{
		"docker build -t localhost:5000/smoketest/centos-httpd .",
		"docker rm -f test-centos-httpd",
		"docker run -d --name test-centos-httpd -p 8888:80 localhost:5000/smoketest/centos-httpd",
		"docker stop test-centos-httpd",
		"docker rm test-centos-httpd",
	}
	got := f.joined()
	if len(got) != len(wantCalls) {
		t.Fatalf("calls = %v", got)
	}
	for i, w := range wantCalls {
		if got[i] != w {
			t.Fatalf("call[%d] = %q, want %q", i, got[i], w)
		}
	}

	for _, sr := range res.Stages {
		if sr.Status != "passed" {
			t.Fatalf("stage %s status = %s (err=%v)", sr.Name, sr.Status, sr.Err)
		}
	}
}

func TestRun_IgnorableFailureContinues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	f := &scriptedRunner{failOn: func(argv []string) error {
		if len(argv) >= 3 && argv[1] == "rm" && argv[2] == "-f" {
			return errors.New("No such container: test-centos-httpd")
		}
		return nil
	}}
	dc, pb := testClients(f)
	doc := httpdDoc(t, srv.URL, t.TempDir())

	res, err := New(doc, Options{Docker: dc, Playbook: pb}).Run(context.Background(), "centos-httpd")
	if err != nil {
		t.Fatalf("ignorable failure must not abort: %v", err)
	}
	if res.Failed {
		t.Fatalf("pipeline marked failed")
	}
	if res.Stages[1].Status != "ignored" || res.Stages[1].Err == nil {
		t.Fatalf("pre-clean result = %+v", res.Stages[1])
	}
	// All later stages still ran.
	if res.Stages[7].Status != "passed" {
		t.Fatalf("final stage = %+v", res.Stages[7])
	}
}

func TestRun_AbortsAtFirstRealFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("service unavailable")) // assertion will miss OK
	}))
	defer srv.Close()

	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, srv.URL, t.TempDir())

	res, err := New(doc, Options{Docker: dc, Playbook: pb}).Run(context.Background(), "CH")
	if err == nil {
		t.Fatalf("expected failure from assert stage")
	}
	if !res.Failed {
		t.Fatalf("result not marked failed")
	}
	last := res.Stages[len(res.Stages)-1]
	if last.Name != "assert" || last.Status != "failed" {
		t.Fatalf("last stage = %+v", last)
	}
	// stop and clean were never reached: no teardown rollback on failure.
	for _, call := range f.joined() {
		if strings.HasPrefix(call, "docker stop") {
			t.Fatalf("stop must not run after an aborted pipeline: %v", f.joined())
		}
	}
}

func TestRun_PortOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, srv.URL, t.TempDir())

	_, err := New(doc, Options{Docker: dc, Playbook: pb, Port: "9999"}).Run(context.Background(), "CH")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	found := false
	for _, call := range f.joined() {
		if strings.Contains(call, "-p 9999:80") {
			found = true
		}
		if strings.Contains(call, "8888") {
			t.Fatalf("default port leaked into %q", call)
		}
	}
	if !found {
		t.Fatalf("override port not used: %v", f.joined())
	}
}

func TestRun_OnlySingleStage(t *testing.T) {
	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, "http://127.0.0.1:1", t.TempDir())

	res, err := New(doc, Options{Docker: dc, Playbook: pb, Only: "stop"}).Run(context.Background(), "CH")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Stages) != 1 || res.Stages[0].Name != "stop" {
		t.Fatalf("stages = %+v", res.Stages)
	}
	if got := f.joined(); len(got) != 1 || got[0] != "docker stop test-centos-httpd" {
		t.Fatalf("calls = %v", got)
	}
}

func TestRun_FromToRange(t *testing.T) {
	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, "http://127.0.0.1:1", t.TempDir())

	res, err := New(doc, Options{Docker: dc, Playbook: pb, From: "stop", To: "clean"}).Run(context.Background(), "CH")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Stages) != 2 || res.Stages[0].Name != "stop" || res.Stages[1].Name != "clean" {
		t.Fatalf("stages = %+v", res.Stages)
	}
}

func TestRun_UnknownStageInRange(t *testing.T) {
	doc := httpdDoc(t, "http://127.0.0.1:1", t.TempDir())
	_, err := New(doc, Options{Only: "deploy"}).Run(context.Background(), "CH")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected unknown stage error, got %v", err)
	}
}

func TestPlan_ListsStagesWithoutExecuting(t *testing.T) {
	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, "http://127.0.0.1:1", t.TempDir())

	steps, err := New(doc, Options{Docker: dc, Playbook: pb}).Plan("CH")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 8 {
		t.Fatalf("steps = %+v", steps)
	}
	if steps[0].Kind != "build" || steps[4].Kind != "probe" || steps[5].Kind != "assert" {
		t.Fatalf("kinds = %+v", steps)
	}
	if len(f.calls) != 0 {
		t.Fatalf("plan must not execute commands: %v", f.joined())
	}
}

func TestPreflight_MissingFileFailsBeforeStages(t *testing.T) {
	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, "http://127.0.0.1:1", t.TempDir())
	doc.Pipelines[0].Preflight = []string{filepath.Join(t.TempDir(), "centos-httpd.dockerfile")}

	_, err := New(doc, Options{Docker: dc, Playbook: pb}).Run(context.Background(), "CH")
	if err == nil || !strings.Contains(err.Error(), "preflight") {
		t.Fatalf("expected preflight error, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("no stage may run after preflight failure: %v", f.joined())
	}
}

func TestPreflight_ExistingFilePasses(t *testing.T) {
	dir := t.TempDir()
	dockerfile := filepath.Join(dir, "centos-httpd.dockerfile")
	if err := os.WriteFile(dockerfile, []byte("FROM centos:8\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, "http://127.0.0.1:1", dir)
	doc.Pipelines[0].Preflight = []string{dockerfile}

	if _, err := New(doc, Options{Docker: dc, Playbook: pb, Only: "build"}).Run(context.Background(), "CH"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	c := history.Config{Driver: history.DriverSqlite}
	c.SQLite.Path = filepath.Join(t.TempDir(), "smokerun.db")
	st, err := history.Open(context.Background(), c)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer func() { _ = st.Close() }()

	f := &scriptedRunner{}
	dc, pb := testClients(f)
	doc := httpdDoc(t, srv.URL, t.TempDir())

	res, err := New(doc, Options{Docker: dc, Playbook: pb, History: st}).Run(context.Background(), "CH")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RunID == 0 {
		t.Fatalf("run id not assigned")
	}

	runs, err := st.ListRuns("centos-httpd")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "passed" {
		t.Fatalf("runs = %+v", runs)
	}
	stages, err := st.ListStages(res.RunID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	if len(stages) != 8 {
		t.Fatalf("expected 8 stage records, got %d", len(stages))
	}
}

func TestRunAll_StopsAtFailingPipeline(t *testing.T) {
	f := &scriptedRunner{failOn: func(argv []string) error {
		if argv[1] == "build" {
			return errors.New("build failed")
		}
		return nil
	}}
	dc, pb := testClients(f)

	raw := `
pipelines:
  - name: first
    stages:
      - name: build
        build:
          tag: img-a
  - name: second
    stages:
      - name: build
        build:
          tag: img-b
`
	doc, err := stage.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	results, err := New(doc, Options{Docker: dc, Playbook: pb}).RunAll(context.Background())
	if err == nil {
		t.Fatalf("expected failure")
	}
	if len(results) != 1 || results[0].Pipeline != "first" || !results[0].Failed {
		t.Fatalf("results = %+v", results)
	}
	if len(f.calls) != 1 {
		t.Fatalf("second pipeline must not run: %v", f.joined())
	}
}

func TestExecuteStage_CommandAction(t *testing.T) {
	f := &scriptedRunner{}
	dc, pb := testClients(f)

	raw := `
global:
  env:
    REGISTRY: localhost:5000
pipelines:
  - name: misc
    stages:
      - name: check-registry
        command: ["curl", "-sf", "http://{{.env.REGISTRY}}/v2/"]
`
	doc, err := stage.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	res, err := New(doc, Options{Docker: dc, Playbook: pb}).Run(context.Background(), "misc")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stages[0].Output != "ok" {
		t.Fatalf("output = %q", res.Stages[0].Output)
	}
	if got := strings.Join(f.calls[0], " "); got != "curl -sf http://localhost:5000/v2/" {
		t.Fatalf("argv = %q", got)
	}
}

func TestSymlinkStage(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "centos8-httpd.dockerfile")
	if err := os.WriteFile(target, []byte("FROM centos:8\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	link := filepath.Join(dir, "centos-httpd.dockerfile")

	raw := fmt.Sprintf(`
pipelines:
  - name: link
    stages:
      - name: select-dockerfile
        symlink:
          target: %s
          link: %s
`, target, link)
	doc, err := stage.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	r := New(doc, Options{})
	if _, err := r.Run(context.Background(), "link"); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.Readlink(link)
	if err != nil || got != target {
		t.Fatalf("readlink = %q err=%v", got, err)
	}

	// Re-running replaces the link, matching ln -sf.
	if _, err := r.Run(context.Background(), "link"); err != nil {
		t.Fatalf("re-run: %v", err)
	}
}

func TestSymlinkStage_Remove(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "files-docker")
	if err := os.Symlink(dir, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	raw := fmt.Sprintf(`
pipelines:
  - name: unlink
    stages:
      - name: unlink-files
        symlink:
          link: %s
          remove: true
`, link)
	doc, err := stage.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	r := New(doc, Options{})
	if _, err := r.Run(context.Background(), "unlink"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatalf("link still present: %v", err)
	}

	// Removing an absent link is not an error.
	if _, err := r.Run(context.Background(), "unlink"); err != nil {
		t.Fatalf("re-run: %v", err)
	}
}

func TestStageEnv_DoesNotLeakBetweenStages(t *testing.T) {
	f := &scriptedRunner{}
	dc, pb := testClients(f)

	raw := `
pipelines:
  - name: scoped
    stages:
      - name: with-local
        env:
          MODE: fast
        command: ["echo", "{{.env.MODE}}"]
      - name: without-local
        command: ["echo", "{{.env.MODE}}"]
`
	doc, err := stage.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if _, err := New(doc, Options{Docker: dc, Playbook: pb}).Run(context.Background(), "scoped"); err != nil {
		t.Fatalf("run: %v", err)
	}
	calls := f.joined()
	if calls[0] != "echo fast" {
		t.Fatalf("stage-local env not applied: %q", calls[0])
	}
	// Missing key keeps the template untouched rather than reusing stage one's value.
	if calls[1] != "echo {{.env.MODE}}" {
		t.Fatalf("stage env leaked: %q", calls[1])
	}
}

func TestWaitStage_SleepIsHonored(t *testing.T) {
	f := &scriptedRunner{}
	dc, pb := testClients(f)

	raw := `
pipelines:
  - name: pause
    stages:
      - name: settle
        wait:
          sleep: 120ms
`
	doc, err := stage.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	start := time.Now()
	if _, err := New(doc, Options{Docker: dc, Playbook: pb}).Run(context.Background(), "pause"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Fatalf("wait cut short: %v", elapsed)
	}
}
