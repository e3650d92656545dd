package vaulttesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/claimvault/utils/pkg/retry"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PostgresConfig struct {
	Database string
	Username string
	Password string
	Image    string

	// Migrate runs against the new database before StartPostgres returns.
	Migrate func(ctx context.Context, log *slog.Logger, connStr string) error
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "claimvault"
	}
	if cfg.Username == "" {
		cfg.Username = "claimvault"
	}
	if cfg.Password == "" {
		cfg.Password = "claimvault"
	}
	if cfg.Image == "" {
		cfg.Image = "postgres:16-alpine"
	}
	return nil
}

// Postgres is a throwaway PostgreSQL container shared by a package's tests.
type Postgres struct {
	log       *slog.Logger
	cfg       PostgresConfig
	container *tcpostgres.PostgresContainer
	connStr   string
	host      string
	port      string
}

// StartPostgres runs a container and applies cfg.Migrate. Docker hiccups
// while the container starts are retried.
func StartPostgres(ctx context.Context, log *slog.Logger, cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var container *tcpostgres.PostgresContainer
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 750 * time.Millisecond,
		MaxBackoff:  3 * time.Second,
		Retryable:   containerStartRetryable,
		OnRetry: func(attempt int, err error) {
			log.Warn("postgres container: retrying start", "attempt", attempt, "error", err)
		},
	}, func() error {
		c, err := tcpostgres.Run(ctx, cfg.Image,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		if err != nil {
			return err
		}
		container = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	pg := &Postgres{log: log, cfg: cfg, container: container}
	if err := pg.resolve(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	if cfg.Migrate != nil {
		if err := cfg.Migrate(ctx, log, pg.connStr); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to migrate postgres container: %w", err)
		}
	}
	return pg, nil
}

func (pg *Postgres) resolve(ctx context.Context) error {
	connStr, err := pg.container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get connection string: %w", err)
	}
	host, err := pg.container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := pg.container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("failed to get mapped port: %w", err)
	}
	pg.connStr, pg.host, pg.port = connStr, host, port.Port()
	return nil
}

func (pg *Postgres) ConnStr() string { return pg.connStr }

// Env returns the POSTGRES_* variables that point at the container.
func (pg *Postgres) Env() map[string]string {
	return map[string]string{
		"POSTGRES_HOST":     pg.host,
		"POSTGRES_PORT":     pg.port,
		"POSTGRES_DB":       pg.cfg.Database,
		"POSTGRES_USER":     pg.cfg.Username,
		"POSTGRES_PASSWORD": pg.cfg.Password,
		"POSTGRES_SSLMODE":  "disable",
	}
}

func (pg *Postgres) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.container.Terminate(ctx); err != nil {
		pg.log.Error("postgres container: failed to terminate", "error", err)
	}
}

// NewPool opens a pool that is closed when the test ends.
func (pg *Postgres) NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(t.Context(), pg.connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func containerStartRetryable(err error) bool {
	s := err.Error()
	for _, p := range []string{"wait until ready", "mapped port", "timeout", "context deadline exceeded"} {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
