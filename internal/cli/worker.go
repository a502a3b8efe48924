package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jorgepascosoto/vaultdb/internal/api"
	"github.com/jorgepascosoto/vaultdb/internal/dispatch"
	"github.com/jorgepascosoto/vaultdb/internal/notify"
	"github.com/jorgepascosoto/vaultdb/internal/schedule"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Args:  cobra.NoArgs,
		Short: "Consume backup jobs and serve the HTTP API",
		Long: `Runs the single backup consumer, the HTTP API and, unless disabled,
the cron scheduler until SIGINT or SIGTERM. A job that has started is
finished before the process exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts.cfg, opts.logger, withStore|withQueue)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := opts.cfg
			d := a.dispatcher()

			w := dispatch.NewWorker(a.queue, a.tracker, a.registry, a.logger,
				dispatch.WithMetrics(a.metrics),
				dispatch.WithNotifier(notify.NewWebhookNotifier(cfg.Notify)),
			)
			srv := api.NewServer(a.logger, d, a.tracker, a.metrics, a.checks())

			a.logger.Info().
				Str("queue", cfg.Queue.Backend).
				Str("store", cfg.Store.Backend).
				Str("backup_dir", cfg.Backup.Dir).
				Bool("scheduler", cfg.SchedulerEnabled).
				Bool("webhook", cfg.HasWebhook()).
				Msg("starting worker")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })
			g.Go(func() error { return srv.ListenAndServe(gctx, cfg.HTTPListenAddr) })
			if cfg.SchedulerEnabled {
				sched := schedule.New(a.settings, d, a.logger)
				g.Go(func() error { return sched.Run(gctx) })
			}

			err = g.Wait()
			a.logger.Info().Msg("worker shut down")
			return err
		},
	}
}
