package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/claimvault/api/config"
	"github.com/malbeclabs/claimvault/ledger/pkg/audit"
	"github.com/malbeclabs/claimvault/ledger/pkg/clickhouse"
)

// EnsureAuditTable creates the ClickHouse audit table ahead of the first
// API start.
func EnsureAuditTable(ctx context.Context, log *slog.Logger, cfg config.ClickHouseConfig) error {
	if !cfg.Enabled() {
		return errors.New("CLICKHOUSE_ADDR is required")
	}
	client, err := clickhouse.NewClient(ctx, clickhouse.Config{
		Logger:   log,
		Addr:     cfg.Addr,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Secure:   cfg.Secure,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer client.Close()

	recorder, err := audit.NewRecorder(audit.Config{Logger: log, Client: client, Table: cfg.AuditTable})
	if err != nil {
		return err
	}
	return recorder.EnsureTable(ctx)
}
