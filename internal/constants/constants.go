package constants

import (
	"net/http"
	"time"
)

// External tool defaults
const (
	DefaultDockerBin   = "docker"
	DefaultComposeBin  = "docker-compose"
	DefaultPlaybookBin = "ansible-playbook"
)

// Pipeline defaults
const (
	// DefaultPort is the host port published by smoke-test containers.
	// Overridable via --port / SMOKERUN_PORT and the PORT pipeline variable.
	DefaultPort = "8888"

	// DefaultArtifactDir is where probe output files are written,
	// relative to the invocation directory.
	DefaultArtifactDir = "tmp"
)

// Database constants
const (
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	DefaultPostgresMaxConnections = 25
	DefaultPostgresMaxIdleConns   = 5
	DefaultSQLiteMaxConnections   = 1 // SQLite allows only one writer
	DefaultSQLiteMaxIdleConns     = 1

	// Default run-history table names
	DefaultPipelineRunsTable = "pipeline_runs"
	DefaultStageResultsTable = "stage_results"

	// Default sqlite history database, kept next to the artifacts.
	DefaultHistoryPath = "tmp/smokerun.db"
)

// Time and duration constants
const (
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)

// Wait configuration constants
const (
	DefaultWaitTimeout  = 60 * time.Second
	DefaultWaitInterval = 2 * time.Second
	DefaultWaitStatus   = http.StatusOK
	DefaultWaitMethod   = "GET"
)
