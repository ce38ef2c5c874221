package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"atendigram/config"
	"atendigram/routes"
	"atendigram/worker"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var refresh time.Duration

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Long-poll connected Telegram sessions and answer with auto-replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer sentry.Flush(2 * time.Second)
			cfg := config.AppConfig

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := routes.NewDeps(cfg, config.DB, logger)
			if err != nil {
				return err
			}

			w := worker.NewAutoReplyWorker(config.DB, deps.Registry, deps.Dispatcher, cfg.Telegram.PollTimeout, logger)
			if refresh > 0 {
				w.RefreshInterval = refresh
			}
			w.Start(ctx)
			return nil
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", time.Minute, "How often connected sessions are reloaded.")
	return cmd
}
