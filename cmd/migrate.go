package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telemart/telemart/internal/config"
	"github.com/telemart/telemart/internal/db"
)

var migrateDown bool

var migrateCommand = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run: func(_ *cobra.Command, _ []string) {
		direction := "up"
		if migrateDown {
			direction = "down"
		}

		performMigration(resolveConfig(), direction)
	},
}

func init() {
	migrateCommand.Flags().BoolVar(&migrateDown, "down", false, "roll back the latest migration")
}

func performMigration(cfg *config.Config, direction string) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	applied, err := db.Migrate(cfg.Telemart.Postgres.DataSource, direction, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("unable to apply migrations")
		os.Exit(1)
	}

	logger.Info().Int("applied", applied).Str("direction", direction).Msg("migrations complete")
}
