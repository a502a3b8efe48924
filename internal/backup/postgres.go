package backup

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
)

const postgresTableStatsQuery = `SELECT schemaname || '.' || relname,
       n_live_tup,
       pg_total_relation_size(relid)
FROM pg_stat_user_tables
ORDER BY schemaname, relname`

type PostgresDialect struct {
	dumpPath string
}

func NewPostgresDialect(dumpPath string) *PostgresDialect {
	if dumpPath == "" {
		dumpPath = "pg_dump"
	}
	return &PostgresDialect{dumpPath: dumpPath}
}

func (d *PostgresDialect) Name() string {
	return "postgresql"
}

func (d *PostgresDialect) ToolName() string {
	return "pg_dump"
}

func (d *PostgresDialect) Extension() string {
	return ".dump"
}

func (d *PostgresDialect) connString(conn Connection) string {
	if conn.ConnectionString != "" {
		return conn.ConnectionString
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", conn.Host, conn.Port),
		Path:   "/" + conn.Database,
	}
	if conn.User != "" {
		u.User = url.UserPassword(conn.User, conn.Password)
	}
	return u.String()
}

func (d *PostgresDialect) TableStats(ctx context.Context, conn Connection) ([]EntityStats, error) {
	cfg, err := pgx.ParseConfig(d.connString(conn))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection settings")
	}
	cfg.ConnectTimeout = catalogTimeout

	pg, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer pg.Close(context.Background())

	rows, err := pg.Query(ctx, postgresTableStatsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []EntityStats
	for rows.Next() {
		var t EntityStats
		if err := rows.Scan(&t.Name, &t.Count, &t.Size); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (d *PostgresDialect) DumpCommand(conn Connection, staging string) (string, []string, []string) {
	args := []string{
		"--format=custom",
		"--no-password",
		"--file=" + staging,
	}

	if conn.ConnectionString != "" {
		args = append(args, "--dbname="+stripPassword(conn.ConnectionString))
	} else {
		args = append(args,
			"--host="+conn.Host,
			"--port="+strconv.Itoa(conn.Port),
			"--dbname="+conn.Database,
		)
		if conn.User != "" {
			args = append(args, "--username="+conn.User)
		}
	}

	var env []string
	if conn.Password != "" {
		env = append(env, "PGPASSWORD="+conn.Password)
	}

	return d.dumpPath, args, env
}
