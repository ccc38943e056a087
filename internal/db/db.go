package db

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Connect opens a pgx connection pool.
func Connect(ctx context.Context, dataSource string, logger *zerolog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dataSource)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse postgres data source")
	}

	cfg.MaxConns = 16
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to postgres")
	}

	logger.Info().Str("channel", "db").Msg("connected to postgres")

	return pool, nil
}

// Migrate applies pending forward migrations. Each step is idempotent and
// applied steps are tracked in the gorp_migrations history table, so
// re-running is safe.
func Migrate(dataSource string, direction string, logger *zerolog.Logger) (int, error) {
	conn, err := sql.Open("pgx", dataSource)
	if err != nil {
		return 0, errors.Wrap(err, "unable to open migration connection")
	}
	defer conn.Close()

	source := &migrate.EmbedFileSystemMigrationSource{FileSystem: migrationFiles, Root: "migrations"}

	dir := migrate.Up
	if direction == "down" {
		dir = migrate.Down
	}

	applied, err := migrate.Exec(conn, "postgres", source, dir)
	if err != nil {
		return 0, errors.Wrap(err, "unable to apply migrations")
	}

	logger.Info().Str("channel", "db").Int("applied", applied).Str("direction", direction).Msg("migrations complete")

	return applied, nil
}
