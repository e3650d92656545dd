package vault

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Store persists vaults and claim records.
//
// Update is the transaction boundary for every state change: it must run fn
// exclusively with respect to all other Updates of the same vault, and it
// must discard every write staged through the Tx when fn returns an error.
// The error returned by fn is passed back unchanged. Once fn returns nil
// the writes must be committed even if ctx has been cancelled meanwhile:
// fn may have paid out tokens that cannot be recalled. Update returns
// ErrVaultNotFound when the vault does not exist.
type Store interface {
	CreateVault(ctx context.Context, v *Vault) error
	GetVault(ctx context.Context, id uuid.UUID) (*Vault, error)
	// GetClaim returns a zero record (ClaimedAmount 0) for wallets that have
	// never been paid.
	GetClaim(ctx context.Context, id uuid.UUID, wallet solana.PublicKey) (ClaimRecord, error)
	ListClaims(ctx context.Context, id uuid.UUID) ([]ClaimRecord, error)
	Update(ctx context.Context, id uuid.UUID, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the view of one vault inside Store.Update.
type Tx interface {
	// Vault returns the vault as loaded at the start of the transaction.
	// Callers mutate it and persist it with SaveVault.
	Vault() *Vault
	Claim(ctx context.Context, wallet solana.PublicKey) (ClaimRecord, error)
	SaveVault(ctx context.Context, v *Vault) error
	SaveClaim(ctx context.Context, rec ClaimRecord) error
}
