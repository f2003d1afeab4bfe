package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/loykin/smokerun/internal/common"
	"github.com/loykin/smokerun/internal/retry"
	"github.com/loykin/smokerun/pkg/env"
)

// SQLSpec runs a query against a PostgreSQL database inside the container
// under test and captures the result rows as text, mirroring the
// psql-into-file step of the original harness.
//
// Either DSN or the discrete Host/Port/User/... fields must be provided.
type SQLSpec struct {
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	DBName   string `yaml:"dbname" mapstructure:"dbname"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
	Query    string `yaml:"query" mapstructure:"query"`
}

func (q *SQLSpec) validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("probe: sql.query is required")
	}
	if strings.TrimSpace(q.DSN) == "" && strings.TrimSpace(q.Host) == "" {
		return fmt.Errorf("probe: sql requires dsn or host")
	}
	return nil
}

// dsn assembles the connection string, rendering templated fields.
func (q *SQLSpec) dsn(e *env.Env) (string, error) {
	if strings.TrimSpace(q.DSN) != "" {
		return e.RenderGoTemplateErr(q.DSN)
	}

	host := strings.TrimSpace(e.RenderGoTemplate(q.Host))
	port := strings.TrimSpace(e.RenderGoTemplate(q.Port))
	if port == "" {
		port = "5432"
	}
	sslmode := strings.TrimSpace(q.SSLMode)
	if sslmode == "" {
		sslmode = "disable"
	}
	user := strings.TrimSpace(e.RenderGoTemplate(q.User))
	pass := e.RenderGoTemplate(q.Password)
	db := strings.TrimSpace(e.RenderGoTemplate(q.DBName))

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, pass, host, port, db, sslmode), nil
}

// query connects, runs the query and formats the rows as aligned text with a
// header line, close enough to psql output for substring assertions.
func (q *SQLSpec) query(ctx context.Context, e *env.Env) ([]byte, error) {
	dsn, err := q.dsn(e)
	if err != nil {
		return nil, fmt.Errorf("probe: render dsn: %w", err)
	}
	logger := common.GetLogger().WithComponent("probe")
	logger.Debug("sql probe", "dsn", common.MaskSensitiveData(dsn))

	// The database container may still be starting; retry transient
	// connection failures before giving up.
	var conn *pgx.Conn
	err = retry.WithRetry(ctx, nil, func() error {
		var cerr error
		conn, cerr = pgx.Connect(ctx, dsn)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("probe: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	sql := e.RenderGoTemplate(q.Query)
	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("probe: query: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	cols := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		cols = append(cols, fd.Name)
	}
	b.WriteString(strings.Join(cols, " | "))
	b.WriteString("\n")

	for rows.Next() {
		vals, verr := rows.Values()
		if verr != nil {
			return nil, fmt.Errorf("probe: scan: %w", verr)
		}
		fields := make([]string, 0, len(vals))
		for _, v := range vals {
			fields = append(fields, fmt.Sprint(v))
		}
		b.WriteString(strings.Join(fields, " | "))
		b.WriteString("\n")
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("probe: rows: %w", rows.Err())
	}

	return []byte(b.String()), nil
}
