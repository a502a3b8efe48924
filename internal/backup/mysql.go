package backup

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

const mysqlTableStatsQuery = `SELECT TABLE_NAME,
       COALESCE(TABLE_ROWS, 0),
       COALESCE(DATA_LENGTH, 0) + COALESCE(INDEX_LENGTH, 0)
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME`

type MySQLDialect struct {
	dumpPath string
}

func NewMySQLDialect(dumpPath string) *MySQLDialect {
	if dumpPath == "" {
		dumpPath = "mysqldump"
	}
	return &MySQLDialect{dumpPath: dumpPath}
}

func (d *MySQLDialect) Name() string {
	return "mysql"
}

func (d *MySQLDialect) ToolName() string {
	return "mysqldump"
}

func (d *MySQLDialect) Extension() string {
	return ".sql"
}

func (d *MySQLDialect) dsn(conn Connection) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	cfg.DBName = conn.Database
	cfg.Timeout = catalogTimeout
	cfg.TLSConfig = "preferred"
	return cfg.FormatDSN()
}

func (d *MySQLDialect) TableStats(ctx context.Context, conn Connection) ([]EntityStats, error) {
	db, err := sql.Open("mysql", d.dsn(conn))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, mysqlTableStatsQuery, conn.Database)
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

func (d *MySQLDialect) DumpCommand(conn Connection, staging string) (string, []string, []string) {
	args := []string{
		"--single-transaction",
		"--routines",
		"--triggers",
		"--events",
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
	}

	if conn.User != "" {
		args = append(args, "--user="+conn.User)
	}

	args = append(args, "--result-file="+staging, conn.Database)

	var env []string
	if conn.Password != "" {
		env = append(env, "MYSQL_PWD="+conn.Password)
	}

	return d.dumpPath, args, env
}
