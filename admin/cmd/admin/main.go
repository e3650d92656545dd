package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/claimvault/admin/internal/admin"
	"github.com/malbeclabs/claimvault/api/config"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	"github.com/malbeclabs/claimvault/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")

	// Identity and target
	keypairFlag := flag.String("keypair", "", "owner keypair file in solana-keygen format (or set ADMIN_KEYPAIR_PATH env var)")
	vaultFlag := flag.String("vault", "", "vault ID to operate on")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL migrations using goose")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	auditEnsureTableFlag := flag.Bool("audit-ensure-table", false, "Create the ClickHouse audit table if missing")
	initVaultFlag := flag.Bool("init-vault", false, "Create a vault owned by --keypair")
	showVaultFlag := flag.Bool("show-vault", false, "Print a vault and its whitelist as JSON")
	whitelistFileFlag := flag.String("whitelist-file", "", "Apply whitelist entries from a YAML file")
	removeWalletFlag := flag.String("remove-wallet", "", "Remove a wallet from the vault whitelist")
	exportS3BucketFlag := flag.String("export-s3-bucket", "", "Upload a JSON snapshot of the vault to this S3 bucket")

	// Command options
	amountFlag := flag.Uint64("amount", 0, "initial vault balance for --init-vault")
	holdingAccountFlag := flag.String("holding-account", "", "token account payouts are drawn from, for --init-vault")
	exportS3PrefixFlag := flag.String("export-s3-prefix", "claimvault", "key prefix for --export-s3-bucket")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}
	if v := os.Getenv("ADMIN_KEYPAIR_PATH"); v != "" && *keypairFlag == "" {
		*keypairFlag = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migration commands only need POSTGRES_* variables.
	if *pgMigrateFlag || *pgMigrateStatusFlag || *pgMigrateDownFlag {
		pg, err := config.PgConfigFromEnv(os.Getenv)
		if err != nil {
			return err
		}
		switch {
		case *pgMigrateFlag:
			return admin.PgMigrateUp(ctx, log, pg)
		case *pgMigrateDownFlag:
			return admin.PgMigrateDown(ctx, log, pg)
		default:
			return admin.PgMigrateStatus(ctx, log, pg)
		}
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *auditEnsureTableFlag {
		return admin.EnsureAuditTable(ctx, log, cfg.ClickHouse)
	}

	store, closeStore, err := config.OpenStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("admin: failed to close store", "error", err)
		}
	}()

	// No transferer: the admin never pays out.
	engine, err := vault.NewEngine(vault.EngineConfig{Logger: log, Store: store})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if *initVaultFlag {
		owner, err := loadOwner(*keypairFlag)
		if err != nil {
			return err
		}
		params := vault.InitializeParams{Amount: *amountFlag}
		if *holdingAccountFlag != "" {
			params.HoldingAccount, err = solana.PublicKeyFromBase58(*holdingAccountFlag)
			if err != nil {
				return fmt.Errorf("invalid --holding-account: %w", err)
			}
		}
		_, err = admin.InitVault(ctx, log, engine, owner, params, os.Stdout)
		return err
	}

	if *whitelistFileFlag != "" {
		file, entries, err := admin.LoadWhitelistFile(*whitelistFileFlag)
		if err != nil {
			return err
		}
		if *vaultFlag == "" {
			*vaultFlag = file.Vault
		}
		id, err := parseVaultID(*vaultFlag, "--whitelist-file")
		if err != nil {
			return err
		}
		owner, err := loadOwner(*keypairFlag)
		if err != nil {
			return err
		}
		report, err := admin.ApplyWhitelist(ctx, log, engine, id, owner, entries)
		if err != nil {
			return err
		}
		fmt.Printf("Applied %d whitelist entries (%d failed)\n", report.Applied, report.Failed)
		if report.Failed > 0 {
			return fmt.Errorf("%d whitelist entries failed", report.Failed)
		}
		return nil
	}

	if *removeWalletFlag != "" {
		id, err := parseVaultID(*vaultFlag, "--remove-wallet")
		if err != nil {
			return err
		}
		wallet, err := solana.PublicKeyFromBase58(*removeWalletFlag)
		if err != nil {
			return fmt.Errorf("invalid --remove-wallet: %w", err)
		}
		owner, err := loadOwner(*keypairFlag)
		if err != nil {
			return err
		}
		return admin.RemoveWallet(ctx, log, engine, id, owner, wallet, *yesFlag, os.Stdin, os.Stdout)
	}

	if *showVaultFlag {
		id, err := parseVaultID(*vaultFlag, "--show-vault")
		if err != nil {
			return err
		}
		return admin.ShowVault(ctx, engine, id, os.Stdout)
	}

	if *exportS3BucketFlag != "" {
		id, err := parseVaultID(*vaultFlag, "--export-s3-bucket")
		if err != nil {
			return err
		}
		client, err := admin.NewS3Client(ctx)
		if err != nil {
			return err
		}
		key, err := admin.ExportS3(ctx, admin.ExportConfig{
			Logger: log,
			Client: client,
			Bucket: *exportS3BucketFlag,
			Prefix: *exportS3PrefixFlag,
		}, engine, id)
		if err != nil {
			return err
		}
		fmt.Printf("Exported s3://%s/%s\n", *exportS3BucketFlag, key)
		return nil
	}

	flag.Usage()
	return nil
}

func loadOwner(path string) (solana.PublicKey, error) {
	if path == "" {
		return solana.PublicKey{}, errors.New("--keypair is required")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to load keypair: %w", err)
	}
	return key.PublicKey(), nil
}

func parseVaultID(s, command string) (uuid.UUID, error) {
	if s == "" {
		return uuid.UUID{}, fmt.Errorf("--vault is required for %s", command)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid --vault: %w", err)
	}
	return id, nil
}
