package backup

import (
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/config"
)

// NewFactory returns the strategy constructor used by NewRegistry for the
// kinds with a real implementation.
func NewFactory(cfg *config.Config, logger zerolog.Logger) func(kind config.DatabaseType) (Strategy, error) {
	return func(kind config.DatabaseType) (Strategy, error) {
		switch kind {
		case config.DatabaseTypeMongoDB:
			return NewMongoStrategy(logger), nil
		case config.DatabaseTypeMySQL:
			return NewRelationalStrategy(NewMySQLDialect(cfg.Backup.MySQLDumpPath), logger), nil
		case config.DatabaseTypePostgres:
			return NewRelationalStrategy(NewPostgresDialect(cfg.Backup.PgDumpPath), logger), nil
		default:
			return nil, unsupported(kind)
		}
	}
}
