package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jorgepascosoto/vaultdb/internal/settings"
)

func newSettingsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Args:  cobra.NoArgs,
		Short: "Inspect and save backup settings records",
	}

	cmd.AddCommand(
		newSettingsListCommand(opts),
		newSettingsSaveCommand(opts),
	)

	return cmd
}

func newSettingsListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Args:  cobra.NoArgs,
		Short: "List saved settings records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.logger, withStore)
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.settings.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tDATABASE\tSCHEDULE\tENABLED")
			for _, s := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", s.ID, s.Name, s.Kind(), s.DatabaseName(), s.CronSchedule, s.Enabled)
			}
			return tw.Flush()
		},
	}
}

func newSettingsSaveCommand(opts *rootOptions) *cobra.Command {
	s := &settings.Settings{}

	cmd := &cobra.Command{
		Use:   "save",
		Args:  cobra.NoArgs,
		Short: "Create or replace a settings record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s.DatabaseType == "" {
				return fmt.Errorf("--type is required")
			}

			a, err := newApp(cmd.Context(), opts.cfg, opts.logger, withStore)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.settings.Save(cmd.Context(), s); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&s.ID, "id", "", "record id (generated when empty)")
	f.StringVar(&s.Name, "name", "", "display name")
	f.StringVarP(&s.DatabaseType, "type", "t", "", "database type (mongodb, mysql, postgresql)")
	f.StringVar(&s.ConnectionString, "uri", "", "connection string")
	f.StringVar(&s.Host, "host", "", "database host")
	f.IntVar(&s.Port, "port", 0, "database port")
	f.StringVarP(&s.Username, "user", "u", "", "database user")
	f.StringVarP(&s.Password, "password", "p", "", "database password")
	f.StringVarP(&s.Database, "database", "d", "", "database name")
	f.BoolVar(&s.Compress, "compress", false, "gzip document exports")
	f.StringVar(&s.CronSchedule, "schedule", "", "cron schedule, e.g. \"0 2 * * *\"")
	f.BoolVar(&s.Enabled, "enabled", true, "run on schedule")
	f.StringVar(&s.StorageType, "storage", "local", "storage type label")

	return cmd
}
