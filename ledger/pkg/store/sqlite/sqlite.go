package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is a vault.Store backed by a single SQLite file. The pool is capped
// at one connection, so transactions are serialized by the driver.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) CreateVault(ctx context.Context, v *vault.Vault) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vaults (id, owner, holding_account, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.Owner.String(), encodeKey(v.HoldingAccount),
		encodeAmount(v.Balance), v.CreatedAt.UnixNano(), v.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert vault: %w", err)
	}
	for _, e := range v.Whitelist.Entries() {
		if err := upsertEntry(ctx, tx, v.ID, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vault: %w", err)
	}
	return nil
}

func (s *Store) GetVault(ctx context.Context, id uuid.UUID) (*vault.Vault, error) {
	return loadVault(ctx, s.db, id)
}

func (s *Store) GetClaim(ctx context.Context, id uuid.UUID, wallet solana.PublicKey) (vault.ClaimRecord, error) {
	if err := vaultExists(ctx, s.db, id); err != nil {
		return vault.ClaimRecord{}, err
	}
	return loadClaim(ctx, s.db, id, wallet)
}

func (s *Store) ListClaims(ctx context.Context, id uuid.UUID) ([]vault.ClaimRecord, error) {
	if err := vaultExists(ctx, s.db, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT wallet, claimed_amount, updated_at FROM claim_records WHERE vault_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var out []vault.ClaimRecord
	for rows.Next() {
		var (
			wallet, claimed string
			updatedAt       int64
		)
		if err := rows.Scan(&wallet, &claimed, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		rec, err := decodeClaim(id, wallet, claimed, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Wallet.String() < out[j].Wallet.String()
	})
	return out, nil
}

// Update runs fn in a transaction. Statements inside fn use ctx, but the
// transaction itself is not bound to it: once fn returns nil the commit
// goes ahead even if ctx was cancelled, since fn may already have moved
// tokens.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn func(tx vault.Tx) error) error {
	// database/sql rolls a transaction back when its BeginTx context ends.
	sqlTx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	v, err := loadVault(ctx, sqlTx, id)
	if err != nil {
		return err
	}
	t := &tx{id: id, q: sqlTx, working: v, persisted: v.Clone()}
	if err := fn(t); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type tx struct {
	id        uuid.UUID
	q         *sql.Tx
	working   *vault.Vault
	persisted *vault.Vault
}

func (t *tx) Vault() *vault.Vault {
	return t.working
}

func (t *tx) Claim(ctx context.Context, wallet solana.PublicKey) (vault.ClaimRecord, error) {
	return loadClaim(ctx, t.q, t.id, wallet)
}

func (t *tx) SaveVault(ctx context.Context, v *vault.Vault) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE vaults SET holding_account = ?, balance = ?, updated_at = ? WHERE id = ?`,
		encodeKey(v.HoldingAccount), encodeAmount(v.Balance), v.UpdatedAt.UnixNano(), t.id.String())
	if err != nil {
		return fmt.Errorf("failed to update vault: %w", err)
	}

	upserted, removed := v.Whitelist.Diff(t.persisted.Whitelist)
	for _, e := range upserted {
		if err := upsertEntry(ctx, t.q, t.id, e); err != nil {
			return err
		}
	}
	for _, wallet := range removed {
		_, err := t.q.ExecContext(ctx,
			`DELETE FROM whitelist_entries WHERE vault_id = ? AND wallet = ?`, t.id.String(), wallet.String())
		if err != nil {
			return fmt.Errorf("failed to delete whitelist entry: %w", err)
		}
	}
	t.persisted = v.Clone()
	return nil
}

func (t *tx) SaveClaim(ctx context.Context, rec vault.ClaimRecord) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO claim_records (vault_id, wallet, claimed_amount, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (vault_id, wallet) DO UPDATE SET
			claimed_amount = excluded.claimed_amount,
			updated_at = excluded.updated_at`,
		t.id.String(), rec.Wallet.String(), encodeAmount(rec.ClaimedAmount), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save claim: %w", err)
	}
	return nil
}

func upsertEntry(ctx context.Context, q querier, id uuid.UUID, e vault.WhitelistEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO whitelist_entries (vault_id, wallet, entitlement)
		VALUES (?, ?, ?)
		ON CONFLICT (vault_id, wallet) DO UPDATE SET entitlement = excluded.entitlement`,
		id.String(), e.Wallet.String(), encodeAmount(e.Entitlement))
	if err != nil {
		return fmt.Errorf("failed to upsert whitelist entry: %w", err)
	}
	return nil
}

func vaultExists(ctx context.Context, q querier, id uuid.UUID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM vaults WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.ErrVaultNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query vault: %w", err)
	}
	return nil
}

func loadVault(ctx context.Context, q querier, id uuid.UUID) (*vault.Vault, error) {
	var (
		owner, holding, balance string
		createdAt, updatedAt    int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT owner, holding_account, balance, created_at, updated_at
		FROM vaults WHERE id = ?`, id.String()).
		Scan(&owner, &holding, &balance, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vault: %w", err)
	}

	v := &vault.Vault{
		ID:        id,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}
	if v.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("failed to decode vault owner: %w", err)
	}
	if v.HoldingAccount, err = decodeKey(holding); err != nil {
		return nil, fmt.Errorf("failed to decode holding account: %w", err)
	}
	if v.Balance, err = decodeAmount(balance); err != nil {
		return nil, fmt.Errorf("failed to decode vault balance: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT wallet, entitlement FROM whitelist_entries WHERE vault_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query whitelist: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wallet, entitlement string
		if err := rows.Scan(&wallet, &entitlement); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(wallet)
		if err != nil {
			return nil, fmt.Errorf("failed to decode whitelist wallet: %w", err)
		}
		amount, err := decodeAmount(entitlement)
		if err != nil {
			return nil, fmt.Errorf("failed to decode entitlement: %w", err)
		}
		v.Whitelist.Upsert(key, amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate whitelist: %w", err)
	}
	return v, nil
}

func loadClaim(ctx context.Context, q querier, id uuid.UUID, wallet solana.PublicKey) (vault.ClaimRecord, error) {
	var (
		claimed   string
		updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT claimed_amount, updated_at FROM claim_records
		WHERE vault_id = ? AND wallet = ?`, id.String(), wallet.String()).
		Scan(&claimed, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.ClaimRecord{VaultID: id, Wallet: wallet}, nil
	}
	if err != nil {
		return vault.ClaimRecord{}, fmt.Errorf("failed to query claim: %w", err)
	}
	return decodeClaim(id, wallet.String(), claimed, updatedAt)
}

func decodeClaim(id uuid.UUID, wallet, claimed string, updatedAt int64) (vault.ClaimRecord, error) {
	key, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return vault.ClaimRecord{}, fmt.Errorf("failed to decode claim wallet: %w", err)
	}
	amount, err := decodeAmount(claimed)
	if err != nil {
		return vault.ClaimRecord{}, fmt.Errorf("failed to decode claimed amount: %w", err)
	}
	return vault.ClaimRecord{
		VaultID:       id,
		Wallet:        key,
		ClaimedAmount: amount,
		UpdatedAt:     time.Unix(0, updatedAt).UTC(),
	}, nil
}

func encodeAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func decodeAmount(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func encodeKey(k solana.PublicKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}

func decodeKey(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(s)
}
