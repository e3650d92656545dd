package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/claimvault/ledger/pkg/alert"
	"github.com/malbeclabs/claimvault/ledger/pkg/audit"
	"github.com/malbeclabs/claimvault/ledger/pkg/clickhouse"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/memory"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/postgres"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/sqlite"
	"github.com/malbeclabs/claimvault/ledger/pkg/transfer"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

// Runtime holds the engine and the resources behind it.
type Runtime struct {
	Engine *vault.Engine

	closers []func() error
}

// Close releases every resource opened by Build, in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Build opens the configured store, transferer and sinks and returns an
// engine over them. On error everything opened so far is closed.
func Build(ctx context.Context, log *slog.Logger, cfg *Config) (_ *Runtime, err error) {
	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	store, closeStore, err := OpenStore(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeStore)

	transferer, err := newTransferer(log, cfg)
	if err != nil {
		return nil, err
	}

	engineCfg := vault.EngineConfig{
		Logger:              log,
		Store:               store,
		Transferer:          transfer.Tagged(transferer),
		LowBalanceThreshold: cfg.LowBalanceThreshold,
	}

	if cfg.ClickHouse.Enabled() {
		recorder, err := rt.openRecorder(ctx, log, cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		engineCfg.Recorder = recorder
	}

	if cfg.SlackWebhookURL != "" {
		alerter, err := alert.NewSlack(alert.SlackConfig{
			Logger:      log,
			WebhookURL:  cfg.SlackWebhookURL,
			Environment: cfg.Environment,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create slack alerter: %w", err)
		}
		engineCfg.Alerter = alerter
	}

	rt.Engine, err = vault.NewEngine(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return rt, nil
}

// OpenStore opens the configured store. The returned func releases it.
func OpenStore(ctx context.Context, log *slog.Logger, cfg *Config) (vault.Store, func() error, error) {
	switch cfg.Store {
	case StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store: using sqlite", "path", cfg.SQLitePath)
		return s, s.Close, nil
	case StorePostgres:
		pool, err := OpenPostgres(ctx, log, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store: using postgres")
		return postgres.New(pool), func() error {
			pool.Close()
			return nil
		}, nil
	default:
		log.Warn("store: using in-memory store; state is lost on restart")
		return memory.New(), func() error { return nil }, nil
	}
}

func (rt *Runtime) openRecorder(ctx context.Context, log *slog.Logger, cfg ClickHouseConfig) (*audit.Recorder, error) {
	client, err := clickhouse.NewClient(ctx, clickhouse.Config{
		Logger:   log,
		Addr:     cfg.Addr,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Secure:   cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse client: %w", err)
	}
	rt.closers = append(rt.closers, client.Close)

	recorder, err := audit.NewRecorder(audit.Config{
		Logger: log,
		Client: client,
		Table:  cfg.AuditTable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audit recorder: %w", err)
	}
	if err := recorder.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return recorder, nil
}

func newTransferer(log *slog.Logger, cfg *Config) (vault.Transferer, error) {
	if cfg.Transfer != TransferSolana {
		log.Warn("transfer: using in-memory book; no tokens are moved on chain")
		return transfer.NewBook(), nil
	}

	authority, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.SolanaKeypairPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load authority keypair: %w", err)
	}
	t, err := transfer.NewSolana(transfer.SolanaConfig{
		Logger:    log,
		RPC:       solanarpc.New(cfg.SolanaRPCURL),
		Authority: authority,
		Mint:      cfg.SolanaMint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create solana transferer: %w", err)
	}
	log.Info("transfer: using solana", "rpc", cfg.SolanaRPCURL, "authority", authority.PublicKey().String(), "mint", cfg.SolanaMint.String())
	return t, nil
}
