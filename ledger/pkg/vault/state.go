package vault

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Vault is the pooled balance distributed to whitelisted recipients.
type Vault struct {
	ID    uuid.UUID
	Owner solana.PublicKey
	// HoldingAccount is the token account payouts are drawn from. The zero
	// key defers the choice to the Transferer.
	HoldingAccount solana.PublicKey
	Balance        uint64
	Whitelist      Whitelist
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Authorize fails with ErrNotVaultOwner unless caller owns the vault.
func (v *Vault) Authorize(caller solana.PublicKey) error {
	if caller.IsZero() || !v.Owner.Equals(caller) {
		return ErrNotVaultOwner
	}
	return nil
}

// Clone returns a deep copy, including the whitelist.
func (v *Vault) Clone() *Vault {
	c := *v
	c.Whitelist = v.Whitelist.Clone()
	return &c
}

// Summary is the externally visible view of a vault.
type Summary struct {
	ID             uuid.UUID        `json:"id"`
	Owner          solana.PublicKey `json:"owner"`
	HoldingAccount string           `json:"holding_account,omitempty"`
	Balance        uint64           `json:"balance"`
	WhitelistCount int              `json:"whitelist_count"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (v *Vault) Summary() Summary {
	s := Summary{
		ID:             v.ID,
		Owner:          v.Owner,
		Balance:        v.Balance,
		WhitelistCount: v.Whitelist.Len(),
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
	}
	if !v.HoldingAccount.IsZero() {
		s.HoldingAccount = v.HoldingAccount.String()
	}
	return s
}
