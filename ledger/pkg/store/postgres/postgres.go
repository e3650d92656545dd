package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

// Store is a vault.Store on PostgreSQL. Update locks the vault row with
// SELECT ... FOR UPDATE, which serializes Updates of one vault across every
// process sharing the database.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateVault(ctx context.Context, v *vault.Vault) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO vaults (id, owner, holding_account, balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			v.ID, v.Owner.String(), encodeKey(v.HoldingAccount), numeric(v.Balance), v.CreatedAt, v.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert vault: %w", err)
		}
		for _, e := range v.Whitelist.Entries() {
			if err := upsertEntry(ctx, tx, v.ID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetVault(ctx context.Context, id uuid.UUID) (*vault.Vault, error) {
	return loadVault(ctx, s.pool, id, false)
}

func (s *Store) GetClaim(ctx context.Context, id uuid.UUID, wallet solana.PublicKey) (vault.ClaimRecord, error) {
	if err := vaultExists(ctx, s.pool, id); err != nil {
		return vault.ClaimRecord{}, err
	}
	return loadClaim(ctx, s.pool, id, wallet)
}

func (s *Store) ListClaims(ctx context.Context, id uuid.UUID) ([]vault.ClaimRecord, error) {
	if err := vaultExists(ctx, s.pool, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT wallet, claimed_amount, updated_at FROM claim_records WHERE vault_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var out []vault.ClaimRecord
	for rows.Next() {
		var (
			wallet    string
			claimed   pgtype.Numeric
			updatedAt time.Time
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

// Update runs fn in a transaction holding the vault row lock. Once fn
// returns nil the commit is not cancellable by ctx, since fn may already
// have moved tokens.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn func(tx vault.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	v, err := loadVault(ctx, pgTx, id, true)
	if err != nil {
		return err
	}
	t := &tx{id: id, q: pgTx, working: v, persisted: v.Clone()}
	if err := fn(t); err != nil {
		return err
	}
	if err := pgTx.Commit(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type tx struct {
	id        uuid.UUID
	q         pgx.Tx
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
	_, err := t.q.Exec(ctx, `
		UPDATE vaults SET holding_account = $2, balance = $3, updated_at = $4 WHERE id = $1`,
		t.id, encodeKey(v.HoldingAccount), numeric(v.Balance), v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update vault: %w", err)
	}

	upserted, removed := v.Whitelist.Diff(t.persisted.Whitelist)
	for _, e := range upserted {
		if err := upsertEntry(ctx, t.q, t.id, e); err != nil {
			return err
		}
	}
	if len(removed) > 0 {
		wallets := make([]string, len(removed))
		for i, w := range removed {
			wallets[i] = w.String()
		}
		_, err := t.q.Exec(ctx,
			`DELETE FROM whitelist_entries WHERE vault_id = $1 AND wallet = ANY($2)`, t.id, wallets)
		if err != nil {
			return fmt.Errorf("failed to delete whitelist entries: %w", err)
		}
	}
	t.persisted = v.Clone()
	return nil
}

func (t *tx) SaveClaim(ctx context.Context, rec vault.ClaimRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO claim_records (vault_id, wallet, claimed_amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vault_id, wallet) DO UPDATE SET
			claimed_amount = EXCLUDED.claimed_amount,
			updated_at = EXCLUDED.updated_at`,
		t.id, rec.Wallet.String(), numeric(rec.ClaimedAmount), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save claim: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertEntry(ctx context.Context, q dbtx, id uuid.UUID, e vault.WhitelistEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO whitelist_entries (vault_id, wallet, entitlement)
		VALUES ($1, $2, $3)
		ON CONFLICT (vault_id, wallet) DO UPDATE SET entitlement = EXCLUDED.entitlement`,
		id, e.Wallet.String(), numeric(e.Entitlement))
	if err != nil {
		return fmt.Errorf("failed to upsert whitelist entry: %w", err)
	}
	return nil
}

func vaultExists(ctx context.Context, q dbtx, id uuid.UUID) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM vaults WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.ErrVaultNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query vault: %w", err)
	}
	return nil
}

func loadVault(ctx context.Context, q dbtx, id uuid.UUID, forUpdate bool) (*vault.Vault, error) {
	query := `SELECT owner, holding_account, balance, created_at, updated_at FROM vaults WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		owner, holding       string
		balance              pgtype.Numeric
		createdAt, updatedAt time.Time
	)
	err := q.QueryRow(ctx, query, id).Scan(&owner, &holding, &balance, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vault.ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vault: %w", err)
	}

	v := &vault.Vault{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if v.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("failed to decode vault owner: %w", err)
	}
	if v.HoldingAccount, err = decodeKey(holding); err != nil {
		return nil, fmt.Errorf("failed to decode holding account: %w", err)
	}
	if v.Balance, err = fromNumeric(balance); err != nil {
		return nil, fmt.Errorf("failed to decode vault balance: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT wallet, entitlement FROM whitelist_entries WHERE vault_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query whitelist: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			wallet      string
			entitlement pgtype.Numeric
		)
		if err := rows.Scan(&wallet, &entitlement); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(wallet)
		if err != nil {
			return nil, fmt.Errorf("failed to decode whitelist wallet: %w", err)
		}
		amount, err := fromNumeric(entitlement)
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

func loadClaim(ctx context.Context, q dbtx, id uuid.UUID, wallet solana.PublicKey) (vault.ClaimRecord, error) {
	var (
		claimed   pgtype.Numeric
		updatedAt time.Time
	)
	err := q.QueryRow(ctx, `
		SELECT claimed_amount, updated_at FROM claim_records
		WHERE vault_id = $1 AND wallet = $2`, id, wallet.String()).
		Scan(&claimed, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.ClaimRecord{VaultID: id, Wallet: wallet}, nil
	}
	if err != nil {
		return vault.ClaimRecord{}, fmt.Errorf("failed to query claim: %w", err)
	}
	return decodeClaim(id, wallet.String(), claimed, updatedAt)
}

func decodeClaim(id uuid.UUID, wallet string, claimed pgtype.Numeric, updatedAt time.Time) (vault.ClaimRecord, error) {
	key, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return vault.ClaimRecord{}, fmt.Errorf("failed to decode claim wallet: %w", err)
	}
	amount, err := fromNumeric(claimed)
	if err != nil {
		return vault.ClaimRecord{}, fmt.Errorf("failed to decode claimed amount: %w", err)
	}
	return vault.ClaimRecord{
		VaultID:       id,
		Wallet:        key,
		ClaimedAmount: amount,
		UpdatedAt:     updatedAt.UTC(),
	}, nil
}

func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

var bigTen = big.NewInt(10)

// fromNumeric converts an integral NUMERIC to uint64. Postgres may return
// trailing zeros folded into a positive exponent.
func fromNumeric(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return 0, errors.New("numeric is not a finite value")
	}
	i := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		i.Mul(i, new(big.Int).Exp(bigTen, big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		var rem big.Int
		i.QuoRem(i, new(big.Int).Exp(bigTen, big.NewInt(int64(-n.Exp)), nil), &rem)
		if rem.Sign() != 0 {
			return 0, fmt.Errorf("numeric %s is not an integer", n.Int)
		}
	}
	if !i.IsUint64() {
		return 0, fmt.Errorf("numeric %s is out of range", i)
	}
	return i.Uint64(), nil
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
