// Package cli implements the vaultdb command line.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/logging"
)

// rootOptions is shared by every subcommand. cfg and logger are filled in
// before a subcommand runs.
type rootOptions struct {
	configPath string

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "vaultdb",
		Short:         "Database backup worker and tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logging.NewLoggerTo(cmd.ErrOrStderr(), cfg)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a config file (env VAULTDB_* overrides it)")

	rootCmd.AddCommand(
		newWorkerCommand(opts),
		newExportCommand(opts),
		newEnqueueCommand(opts),
		newStatusCommand(opts),
		newListCommand(opts),
		newSettingsCommand(opts),
	)

	return rootCmd
}
