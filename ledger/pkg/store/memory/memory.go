package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

type vaultEntry struct {
	// lock serializes Updates of this vault. It is held for the whole
	// transaction, including the transfer.
	lock sync.Mutex

	vault  *vault.Vault
	claims map[solana.PublicKey]vault.ClaimRecord
}

// Store is an in-process vault.Store. Committed state is guarded by mu;
// readers never wait on an in-flight Update.
type Store struct {
	mu     sync.RWMutex
	vaults map[uuid.UUID]*vaultEntry
}

func New() *Store {
	return &Store{
		vaults: make(map[uuid.UUID]*vaultEntry),
	}
}

func (s *Store) CreateVault(ctx context.Context, v *vault.Vault) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[v.ID] = &vaultEntry{
		vault:  v.Clone(),
		claims: make(map[solana.PublicKey]vault.ClaimRecord),
	}
	return nil
}

func (s *Store) GetVault(ctx context.Context, id uuid.UUID) (*vault.Vault, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vaults[id]
	if !ok {
		return nil, vault.ErrVaultNotFound
	}
	return e.vault.Clone(), nil
}

func (s *Store) GetClaim(ctx context.Context, id uuid.UUID, wallet solana.PublicKey) (vault.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return vault.ClaimRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vaults[id]
	if !ok {
		return vault.ClaimRecord{}, vault.ErrVaultNotFound
	}
	return e.claim(id, wallet), nil
}

func (s *Store) ListClaims(ctx context.Context, id uuid.UUID) ([]vault.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vaults[id]
	if !ok {
		return nil, vault.ErrVaultNotFound
	}
	out := make([]vault.ClaimRecord, 0, len(e.claims))
	for _, rec := range e.claims {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Wallet.String() < out[j].Wallet.String()
	})
	return out, nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, fn func(tx vault.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	e, ok := s.vaults[id]
	s.mu.RUnlock()
	if !ok {
		return vault.ErrVaultNotFound
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	s.mu.RLock()
	tx := &tx{
		store:   s,
		entry:   e,
		id:      id,
		working: e.vault.Clone(),
		claims:  make(map[solana.PublicKey]vault.ClaimRecord),
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.saved != nil {
		e.vault = tx.saved
	}
	for wallet, rec := range tx.claims {
		e.claims[wallet] = rec
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (e *vaultEntry) claim(id uuid.UUID, wallet solana.PublicKey) vault.ClaimRecord {
	if rec, ok := e.claims[wallet]; ok {
		return rec
	}
	return vault.ClaimRecord{VaultID: id, Wallet: wallet}
}

type tx struct {
	store   *Store
	entry   *vaultEntry
	id      uuid.UUID
	working *vault.Vault

	// Staged writes, applied on commit.
	saved  *vault.Vault
	claims map[solana.PublicKey]vault.ClaimRecord
}

func (t *tx) Vault() *vault.Vault {
	return t.working
}

func (t *tx) Claim(ctx context.Context, wallet solana.PublicKey) (vault.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return vault.ClaimRecord{}, err
	}
	if rec, ok := t.claims[wallet]; ok {
		return rec, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.entry.claim(t.id, wallet), nil
}

func (t *tx) SaveVault(ctx context.Context, v *vault.Vault) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.saved = v.Clone()
	return nil
}

func (t *tx) SaveClaim(ctx context.Context, rec vault.ClaimRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.VaultID = t.id
	t.claims[rec.Wallet] = rec
	return nil
}
