package smokerun

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// Embedded use: parse a document from bytes and run it against a live
// endpoint, the way a Go test suite would wrap its own service smoke test.
func TestRun_EmbeddedPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK\n"))
	}))
	defer srv.Close()

	doc, err := ParsePipelines([]byte(`
global:
  artifact_dir: ` + t.TempDir() + `
  env:
    BASE: ` + srv.URL + `
pipelines:
  - name: service-smoke
    stages:
      - name: probe
        probe:
          http:
            url: "{{.env.BASE}}/"
          artifact: service.txt
      - name: assert
        assert:
          artifact: service.txt
          contains: OK
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	res, err := Run(context.Background(), doc, "service-smoke", Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failed || len(res.Stages) != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLoadPipelines_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelines.yaml")
	content := `
pipelines:
  - name: noop
    stages:
      - name: settle
        wait:
          sleep: 1ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := LoadPipelines(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	steps, err := NewRunner(doc, Options{}).Plan("noop")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 1 || steps[0].Kind != "wait" {
		t.Fatalf("plan = %+v", steps)
	}
}

// The shipped configuration must keep the documented compose choreography:
// downloads, then the play/unlink/stop sequence, then the commits.
func TestShippedPipelines_ComposeStageOrder(t *testing.T) {
	doc, err := LoadPipelines(filepath.Join("examples", "smoketests", "pipelines.yaml"))
	if err != nil {
		t.Fatalf("load shipped pipelines: %v", err)
	}

	steps, err := NewRunner(doc, Options{}).Plan("DC")
	if err != nil {
		t.Fatalf("plan DC: %v", err)
	}
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	want := []string{
		"compose-up", "link-files", "touch-logs",
		"download-webapp", "download-wordpress", "download-mariadb",
		"build-and-play", "unlink-files", "build-and-stop",
		"commit-server", "commit-virtualdesktop",
		"compose-up-committed", "start-and-play",
		"compose-down-committed", "compose-down",
	}
	if len(names) != len(want) {
		t.Fatalf("stage count = %d, want %d (%v)", len(names), len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("stage %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestOpenHistory_SqliteDefaultTables(t *testing.T) {
	cfg := HistoryConfig{}
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "smokerun.db")
	st, err := OpenHistory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	if _, err := st.ListRuns(""); err != nil {
		t.Fatalf("list runs on fresh store: %v", err)
	}
}
