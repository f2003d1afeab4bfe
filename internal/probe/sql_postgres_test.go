package probe

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/loykin/smokerun/internal/artifact"
	"github.com/loykin/smokerun/internal/httpc"
	"github.com/loykin/smokerun/pkg/env"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Integration test with PostgreSQL via testcontainers, exercising the same
// role-exists query the shipped pipelines use.
func TestSQLProbe_RoleQuery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser_ok",
			"POSTGRES_PASSWORD": "Testuser.OK",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		),
	}
	pg, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		// Skip on CI envs that cannot run containers, rather than failing whole suite
		t.Skipf("skipping Postgres container test: %v", err)
	}
	defer func() { _ = pg.Terminate(ctx) }()

	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	store := artifact.Store{Dir: t.TempDir()}
	s := Spec{
		SQL: &SQLSpec{
			Host:     host,
			Port:     fmt.Sprintf("%d", port.Int()),
			User:     "testuser_ok",
			Password: "Testuser.OK",
			DBName:   "postgres",
			Query:    "SELECT rolname FROM pg_roles WHERE rolname = 'testuser_ok'",
		},
		Artifact: "centos-postgres.dockerfile.txt",
	}

	_, out, err := s.Execute(ctx, env.New(), httpc.Config{}, store)
	if err != nil {
		t.Fatalf("sql probe: %v", err)
	}
	if !strings.Contains(string(out), "testuser_ok") {
		t.Fatalf("query output missing role name: %q", out)
	}

	a := artifact.Assertion{Artifact: "centos-postgres.dockerfile.txt", Contains: "testuser_ok"}
	if err := a.Check(store); err != nil {
		t.Fatalf("assertion against captured artifact: %v", err)
	}
}
