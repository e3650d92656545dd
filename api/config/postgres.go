package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/postgres"
)

// PgConfig holds the PostgreSQL configuration
type PgConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string

	MaxConns      int32
	RunMigrations bool
}

// PgConfigFromEnv reads POSTGRES_* variables through getenv.
func PgConfigFromEnv(getenv func(string) string) (PgConfig, error) {
	cfg := PgConfig{
		Host:          getenv("POSTGRES_HOST"),
		Port:          getenv("POSTGRES_PORT"),
		Database:      getenv("POSTGRES_DB"),
		Username:      getenv("POSTGRES_USER"),
		Password:      getenv("POSTGRES_PASSWORD"),
		SSLMode:       getenv("POSTGRES_SSLMODE"),
		RunMigrations: getenv("POSTGRES_RUN_MIGRATIONS") == "true",
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if cfg.Database == "" {
		return cfg, errors.New("POSTGRES_DB is required")
	}
	if cfg.Username == "" {
		return cfg, errors.New("POSTGRES_USER is required")
	}
	if cfg.Password == "" {
		return cfg, errors.New("POSTGRES_PASSWORD is required")
	}
	return cfg, nil
}

// ConnString returns a postgres:// URL with credentials escaped.
func (cfg PgConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// OpenPostgres connects a pool and, when enabled, applies pending migrations.
func OpenPostgres(ctx context.Context, log *slog.Logger, cfg PgConfig) (*pgxpool.Pool, error) {
	connStr := cfg.ConnString()

	log.Info("postgres: connecting", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "username", cfg.Username)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Info("postgres: connected")

	if cfg.RunMigrations {
		db, err := postgres.OpenDB(ctx, connStr)
		if err != nil {
			pool.Close()
			return nil, err
		}
		defer db.Close()
		if err := postgres.MigrateUp(ctx, log, db); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return pool, nil
}
