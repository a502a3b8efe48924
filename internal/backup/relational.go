package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/compress"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const catalogTimeout = 30 * time.Second

// Dialect captures what differs between relational engines: how to read
// per-table statistics from the catalog and how to invoke the dump tool.
type Dialect interface {
	Name() string
	ToolName() string
	// Extension is the staging file extension, e.g. ".sql".
	Extension() string
	TableStats(ctx context.Context, conn Connection) ([]EntityStats, error)
	// DumpCommand returns the binary, its arguments and extra environment.
	// The password must only appear in env.
	DumpCommand(conn Connection, staging string) (bin string, args []string, env []string)
}

type commandRunner func(ctx context.Context, bin string, args, env []string) error

func runCommand(ctx context.Context, bin string, args, env []string) error {
	path, err := exec.LookPath(bin)
	if err != nil {
		return errors.Kind(errors.ErrToolUnavailable, fmt.Errorf("%s not found: %w", bin, err))
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", bin, err, RedactConnectionString(msg))
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}

// RelationalMetadata is the statistics-only artifact written when the dump
// tool cannot produce a real backup.
type RelationalMetadata struct {
	Database   string        `json:"database"`
	ExportDate time.Time     `json:"exportDate"`
	Tables     []EntityStats `json:"tables"`
	TotalRows  int64         `json:"totalRows"`
	TotalSize  int64         `json:"totalSize"`
	Version    string        `json:"version"`
	Note       string        `json:"note"`
}

type RelationalStrategy struct {
	dialect Dialect
	run     commandRunner
	logger  zerolog.Logger
}

func NewRelationalStrategy(dialect Dialect, logger zerolog.Logger) *RelationalStrategy {
	return &RelationalStrategy{
		dialect: dialect,
		run:     runCommand,
		logger:  logger.With().Str("component", dialect.Name()+"-strategy").Logger(),
	}
}

func (s *RelationalStrategy) DatabaseType() string {
	return s.dialect.Name()
}

func (s *RelationalStrategy) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	defer recoverResult(start, &res)

	conn := req.Connection.resolved(req.Kind)

	s.logger.Info().
		Str("host", conn.Host).
		Int("port", conn.Port).
		Str("database", conn.Database).
		Msg("collecting table statistics")

	statsCtx, cancel := context.WithTimeout(ctx, catalogTimeout)
	tables, err := s.dialect.TableStats(statsCtx, conn)
	cancel()
	if err != nil {
		return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database,
			errors.Kind(errors.ErrConnectionFailed, fmt.Errorf("failed to read table statistics: %s", RedactConnectionString(err.Error())))))
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database,
			errors.Kind(errors.ErrIOFailed, fmt.Errorf("failed to create output directory: %w", err))))
	}

	stats := newStatistics(tables)

	artifact, size, dumpErr := s.dump(ctx, conn, req.OutputPath)
	note := ""
	if dumpErr != nil {
		if ctx.Err() != nil {
			return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database, ctx.Err()))
		}

		s.logger.Warn().Err(dumpErr).Str("tool", s.dialect.ToolName()).Msg("dump tool unavailable, writing metadata only")

		note = fmt.Sprintf("Backup metadata only - %s not available in this environment", s.dialect.ToolName())
		artifact = metadataPath(req.OutputPath)
		size, err = writeJSON(artifact, RelationalMetadata{
			Database:   conn.Database,
			ExportDate: time.Now().UTC(),
			Tables:     tables,
			TotalRows:  stats.TotalCount,
			TotalSize:  stats.TotalSize,
			Version:    metadataVersion,
			Note:       note,
		})
		if err != nil {
			return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database, err))
		}
	}

	duration := time.Since(start)
	stats.DurationMs = duration.Milliseconds()

	s.logger.Info().
		Str("file", artifact).
		Int64("size", size).
		Int("tables", stats.TotalEntities).
		Int64("rows", stats.TotalCount).
		Dur("duration", duration).
		Msg("relational export completed")

	return Result{
		Success:  true,
		FilePath: artifact,
		Size:     size,
		Duration: duration,
		Note:     note,
		Stats:    stats,
	}
}

// dump runs the tool into a staging file and gzips it next to output. Any
// leftover staging or partial archive is removed on failure.
func (s *RelationalStrategy) dump(ctx context.Context, conn Connection, output string) (string, int64, error) {
	staging := output + s.dialect.Extension()
	archive := staging + compress.NewGzipCompressor().Extension()
	defer os.Remove(staging)

	bin, args, env := s.dialect.DumpCommand(conn, staging)

	s.logger.Info().Str("tool", bin).Str("file", archive).Msg("running dump tool")

	if err := s.run(ctx, bin, args, env); err != nil {
		return "", 0, err
	}

	size, err := compress.NewGzipCompressor().CompressFile(staging, archive)
	if err != nil {
		os.Remove(archive)
		return "", 0, errors.Kind(errors.ErrCompressionFailed, err)
	}

	return archive, size, nil
}
