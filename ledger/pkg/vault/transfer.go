package vault

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// TransferRequest asks the asset layer to move Amount from the vault's
// holding account to the recipient.
type TransferRequest struct {
	VaultID uuid.UUID
	// From is the vault's holding account; zero lets the Transferer pick
	// its default source.
	From      solana.PublicKey
	To        solana.PublicKey
	Amount    uint64
	Reference uuid.UUID
}

// TransferReceipt identifies a completed transfer.
type TransferReceipt struct {
	Signature string
}

// Transferer performs the value movement for a claim. A returned error means
// nothing was moved; the claim is then rolled back and the error is surfaced
// unchanged to the caller.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferReceipt, error)
}
