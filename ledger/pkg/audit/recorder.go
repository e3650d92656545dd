package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/claimvault/ledger/pkg/clickhouse"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

const DefaultTable = "vault_audit_events"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    event_id   UUID,
    kind       LowCardinality(String),
    vault_id   UUID,
    actor      String,
    wallet     String,
    amount     UInt64,
    balance    UInt64,
    reason     LowCardinality(String),
    signature  String,
    event_ts   DateTime64(3, 'UTC')
)
ENGINE = MergeTree
ORDER BY (vault_id, event_ts, event_id)`

type Config struct {
	Logger *slog.Logger
	Client clickhouse.Client
	Table  string
	// Wait makes inserts block until ClickHouse has flushed them.
	Wait bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	return nil
}

// Recorder writes vault audit events to ClickHouse with async inserts.
type Recorder struct {
	log *slog.Logger
	cfg Config
}

func NewRecorder(cfg Config) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recorder{log: cfg.Logger, cfg: cfg}, nil
}

// EnsureTable creates the events table if it is missing.
func (r *Recorder) EnsureTable(ctx context.Context) error {
	conn, err := r.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Exec(ctx, fmt.Sprintf(createTableSQL, r.cfg.Table)); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	r.log.Info("audit: table ready", "table", r.cfg.Table)
	return nil
}

func (r *Recorder) Record(ctx context.Context, ev vault.Event) error {
	conn, err := r.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	query := fmt.Sprintf(`INSERT INTO %s
		(event_id, kind, vault_id, actor, wallet, amount, balance, reason, signature, event_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.cfg.Table)
	err = conn.AsyncInsert(ctx, query, r.cfg.Wait, eventArgs(ev)...)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	r.log.Debug("audit: event recorded", "kind", ev.Kind, "vault_id", ev.VaultID, "event_id", ev.ID)
	return nil
}

func eventArgs(ev vault.Event) []any {
	return []any{
		ev.ID,
		string(ev.Kind),
		ev.VaultID,
		keyString(ev.Actor),
		keyString(ev.Wallet),
		ev.Amount,
		ev.Balance,
		ev.Reason,
		ev.Signature,
		ev.At.UTC(),
	}
}

func keyString(k solana.PublicKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}
