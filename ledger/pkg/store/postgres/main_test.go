package postgres_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/malbeclabs/claimvault/ledger/pkg/store/postgres"
	vaulttesting "github.com/malbeclabs/claimvault/utils/pkg/testing"
)

var testDB *vaulttesting.Postgres

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := vaulttesting.NewLogger()

	db, err := vaulttesting.StartPostgres(ctx, log, vaulttesting.PostgresConfig{Migrate: migrate})
	if err != nil {
		// Without a container runtime the tests in this package skip.
		log.Warn("failed to start PostgreSQL container", "error", err)
		os.Exit(m.Run())
	}
	testDB = db

	code := m.Run()
	db.Close()
	os.Exit(code)
}

func migrate(ctx context.Context, log *slog.Logger, connStr string) error {
	db, err := postgres.OpenDB(ctx, connStr)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.MigrateUp(ctx, log, db)
}

func requireDB(t *testing.T) *vaulttesting.Postgres {
	t.Helper()
	if testDB == nil {
		t.Skip("PostgreSQL container is not available")
	}
	return testDB
}
