package vault

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// ClaimRecord is the cumulative amount ever paid to one wallet from one
// vault. It lives independently of the whitelist: removing a wallet from
// the whitelist never removes or resets its record.
type ClaimRecord struct {
	VaultID       uuid.UUID        `json:"vault_id"`
	Wallet        solana.PublicKey `json:"wallet"`
	ClaimedAmount uint64           `json:"claimed_amount"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Claimable returns entitlement minus claimed, floored at zero.
func Claimable(entitlement, claimed uint64) uint64 {
	if claimed >= entitlement {
		return 0
	}
	return entitlement - claimed
}

// WhitelistStatus joins a whitelist entry with its claim record.
type WhitelistStatus struct {
	Wallet        solana.PublicKey `json:"wallet"`
	Entitlement   uint64           `json:"entitlement"`
	ClaimedAmount uint64           `json:"claimed_amount"`
	Claimable     uint64           `json:"claimable"`
}
