package admin

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/claimvault/api/config"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/postgres"
)

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	db, err := postgres.OpenDB(ctx, cfg.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	return postgres.MigrateUp(ctx, log, db)
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	db, err := postgres.OpenDB(ctx, cfg.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	return postgres.MigrateDown(ctx, log, db)
}

// PgMigrateStatus shows the status of all PostgreSQL migrations
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	db, err := postgres.OpenDB(ctx, cfg.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("PostgreSQL migration status")
	if err := postgres.MigrateStatus(ctx, db); err != nil {
		return err
	}
	version, err := postgres.Version(ctx, db)
	if err != nil {
		return err
	}
	log.Info("PostgreSQL schema version", "version", version)
	return nil
}
