package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/claimvault/api/handlers"
)

type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
)

type TransferMode string

const (
	// TransferBook credits an in-process ledger; for development only.
	TransferBook   TransferMode = "book"
	TransferSolana TransferMode = "solana"
)

// Config is the API runtime configuration, read from the environment.
type Config struct {
	Store      StoreBackend
	SQLitePath string
	Postgres   PgConfig

	Transfer          TransferMode
	SolanaRPCURL      string
	SolanaKeypairPath string
	SolanaMint        solana.PublicKey

	AuthMode     handlers.AuthMode
	MaxClockSkew time.Duration

	CORSOrigins        []string
	ClaimRatePerMinute int
	ClaimBurst         int
	RequestTimeout     time.Duration

	ClickHouse ClickHouseConfig

	SlackWebhookURL     string
	LowBalanceThreshold uint64

	SentryDSN   string
	Environment string
}

type ClickHouseConfig struct {
	Addr       string
	Database   string
	Username   string
	Password   string
	Secure     bool
	AuditTable string
}

// Enabled reports whether an audit sink was configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Addr != ""
}

// LoadFromEnv reads Config from the process environment.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load reads Config through getenv.
func Load(getenv func(string) string) (*Config, error) {
	env := envReader{getenv: getenv}
	cfg := &Config{
		Store:      StoreBackend(env.lookup("CLAIMVAULT_STORE", string(StoreMemory))),
		SQLitePath: env.lookup("CLAIMVAULT_SQLITE_PATH", "claimvault.db"),

		Transfer:          TransferMode(env.lookup("CLAIMVAULT_TRANSFER", string(TransferBook))),
		SolanaRPCURL:      env.lookup("SOLANA_RPC_URL", solanarpc.MainNetBeta_RPC),
		SolanaKeypairPath: env.lookup("SOLANA_KEYPAIR_PATH", ""),

		AuthMode:     handlers.AuthMode(env.lookup("CLAIMVAULT_AUTH_MODE", string(handlers.AuthModeSignature))),
		MaxClockSkew: env.duration("CLAIMVAULT_AUTH_MAX_SKEW", handlers.DefaultMaxClockSkew),

		CORSOrigins:        env.list("CLAIMVAULT_CORS_ORIGINS"),
		ClaimRatePerMinute: env.integer("CLAIMVAULT_CLAIM_RATE_PER_MINUTE", 30),
		ClaimBurst:         env.integer("CLAIMVAULT_CLAIM_BURST", 5),
		RequestTimeout:     env.duration("CLAIMVAULT_REQUEST_TIMEOUT", 30*time.Second),

		ClickHouse: ClickHouseConfig{
			Addr:       env.lookup("CLICKHOUSE_ADDR", ""),
			Database:   env.lookup("CLICKHOUSE_DATABASE", "default"),
			Username:   env.lookup("CLICKHOUSE_USERNAME", "default"),
			Password:   env.lookup("CLICKHOUSE_PASSWORD", ""),
			Secure:     env.flag("CLICKHOUSE_SECURE"),
			AuditTable: env.lookup("CLICKHOUSE_AUDIT_TABLE", ""),
		},

		SlackWebhookURL:     env.lookup("SLACK_WEBHOOK_URL", ""),
		LowBalanceThreshold: env.amount("CLAIMVAULT_LOW_BALANCE_THRESHOLD", 0),

		SentryDSN:   env.lookup("SENTRY_DSN", ""),
		Environment: env.lookup("SENTRY_ENVIRONMENT", "development"),
	}

	if mint := env.lookup("SOLANA_MINT", ""); mint != "" {
		pk, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			env.errs = append(env.errs, fmt.Errorf("SOLANA_MINT: %w", err))
		}
		cfg.SolanaMint = pk
	}

	if cfg.Store == StorePostgres {
		pg, err := PgConfigFromEnv(getenv)
		if err != nil {
			env.errs = append(env.errs, err)
		}
		cfg.Postgres = pg
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	switch cfg.Store {
	case StoreMemory, StorePostgres:
	case StoreSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("CLAIMVAULT_SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("unknown store backend %q (expected memory, sqlite or postgres)", cfg.Store)
	}

	switch cfg.Transfer {
	case TransferBook:
	case TransferSolana:
		if cfg.SolanaKeypairPath == "" {
			return errors.New("SOLANA_KEYPAIR_PATH is required")
		}
		if cfg.SolanaMint.IsZero() {
			return errors.New("SOLANA_MINT is required")
		}
	default:
		return fmt.Errorf("unknown transfer mode %q (expected book or solana)", cfg.Transfer)
	}

	if _, err := handlers.ParseAuthMode(string(cfg.AuthMode)); err != nil {
		return err
	}
	if cfg.ClaimRatePerMinute <= 0 {
		return errors.New("CLAIMVAULT_CLAIM_RATE_PER_MINUTE must be positive")
	}
	if cfg.LowBalanceThreshold > 0 && cfg.SlackWebhookURL == "" {
		return errors.New("SLACK_WEBHOOK_URL is required when CLAIMVAULT_LOW_BALANCE_THRESHOLD is set")
	}
	return nil
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) amount(key string, def uint64) uint64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) flag(key string) bool {
	v := e.getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return false
	}
	return b
}

func (e *envReader) list(key string) []string {
	v := e.getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
