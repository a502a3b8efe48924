package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
	"github.com/jorgepascosoto/vaultdb/internal/job"
	"github.com/jorgepascosoto/vaultdb/internal/notify"
)

func newEnqueueCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <settings-id>",
		Args:  cobra.ExactArgs(1),
		Short: "Queue a backup for a saved settings record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.logger, withStore|withQueue)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := a.dispatcher().Enqueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <settings-id>",
		Args:  cobra.ExactArgs(1),
		Short: "Show the most recent backup for a settings record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.logger, withStore)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.tracker.Latest(cmd.Context(), args[0])
			if errors.Is(err, errors.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "No backups recorded for %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), notify.BuildSummaryMarkdown(rec))
			return nil
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var page, limit int64

	cmd := &cobra.Command{
		Use:   "list",
		Args:  cobra.NoArgs,
		Short: "List backup jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.logger, withStore)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.tracker.List(cmd.Context(), page, limit)
			if err != nil {
				return err
			}

			printPage(cmd, p)
			return nil
		},
	}

	cmd.Flags().Int64Var(&page, "page", 1, "page number")
	cmd.Flags().Int64Var(&limit, "limit", job.DefaultPageLimit, "records per page")

	return cmd
}

func printPage(cmd *cobra.Command, p job.Page) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSETTINGS\tTYPE\tSTATUS\tSTARTED\tSIZE")
	for _, rec := range p.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.SettingsID,
			rec.Metadata.DatabaseType,
			rec.Status,
			humanize.Time(rec.StartedAt),
			humanize.IBytes(uint64(rec.FileSize)),
		)
	}
	tw.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d total)\n", p.Page, p.TotalPages, p.Total)
}
