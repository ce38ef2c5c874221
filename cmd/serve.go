package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"atendigram/config"
	"atendigram/middleware"
	"atendigram/routes"
	"atendigram/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var ingest bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the broadcast sender",
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
			deps.Broadcaster.BaseContext = ctx

			// Create Fiber app
			app := fiber.New(fiber.Config{
				AppName:   "AtendiGram",
				BodyLimit: (cfg.Storage.MaxUploadMB + 1) << 20,
			})
			app.Use(recover.New())
			app.Use(middleware.CORS(middleware.CORSConfig{
				AllowedOrigins:   middleware.ParseOrigins(cfg.CORSOrigins),
				AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
				ExposedHeaders:   []string{"Content-Length"},
				AllowCredentials: true,
				MaxAge:           86400,
			}))
			routes.SetupRoutes(app, deps)

			if n, err := deps.Broadcaster.ResumeSending(ctx); err != nil {
				logger.WithError(err).Error("Failed to resume campaigns")
			} else if n > 0 {
				logger.WithField("campaigns", n).Info("Resumed sending campaigns")
			}

			if ingest {
				w := worker.NewAutoReplyWorker(config.DB, deps.Registry, deps.Dispatcher, cfg.Telegram.PollTimeout, logger)
				go w.Start(ctx)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Infof("🚀 Server starting on port %s", cfg.ServerPort)
				errCh <- app.Listen(":" + cfg.ServerPort)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				logger.WithError(err).Error("Server shutdown failed")
			}
			deps.Broadcaster.Wait()
			return nil
		},
	}
	cmd.Flags().BoolVar(&ingest, "ingest", false, "Also long-poll Telegram in this process (do not combine with `atendigram worker`).")
	return cmd
}
