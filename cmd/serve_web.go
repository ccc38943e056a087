package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/telemart/telemart/internal/app"
	"github.com/telemart/telemart/internal/config"
	"github.com/telemart/telemart/pkg/graceful"
)

var serveWebCommand = &cobra.Command{
	Use:   "serve-web",
	Short: "Start Telemart billing server",
	Run:   serveWeb,
}

func serveWeb(_ *cobra.Command, _ []string) {
	ctx := context.Background()
	cfg := resolveConfig()

	service := app.New(ctx, cfg)

	setupOnBeforeRun(service, cfg)

	service.RunServer()
	service.RunScheduler()
	if err := graceful.WaitShutdown(); err != nil {
		service.Logger().Error().Err(err).Msg("unable to shutdown service gracefully")
		return
	}

	service.Logger().Info().Msg("shutdown complete")
}

func setupOnBeforeRun(service *app.App, cfg *config.Config) {
	service.OnBeforeRun(func(ctx context.Context, a *app.App) error {
		if cfg.Telemart.Postgres.MigrateOnStart {
			a.Logger().Info().Msg("Enabled migration on start")
			performMigration(cfg, "up")
		}

		return nil
	})
}
