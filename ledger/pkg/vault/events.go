package vault

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

type EventKind string

const (
	EventVaultInitialized  EventKind = "vault_initialized"
	EventWhitelistUpserted EventKind = "whitelist_upserted"
	EventWhitelistRemoved  EventKind = "whitelist_removed"
	EventClaimPaid         EventKind = "claim_paid"
	EventClaimRejected     EventKind = "claim_rejected"
)

// Event is an audit record emitted after an operation finishes. Balance is
// the vault balance after the operation.
type Event struct {
	ID        uuid.UUID
	Kind      EventKind
	VaultID   uuid.UUID
	Actor     solana.PublicKey
	Wallet    solana.PublicKey
	Amount    uint64
	Balance   uint64
	Reason    string
	Signature string
	At        time.Time
}

// EventRecorder receives audit events. Failures are logged and never change
// the outcome of the operation that produced the event.
type EventRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// LowBalanceAlert fires when a claim takes a vault below its threshold.
type LowBalanceAlert struct {
	VaultID   uuid.UUID
	Balance   uint64
	Threshold uint64
	LastClaim uint64
}

type Alerter interface {
	LowBalance(ctx context.Context, alert LowBalanceAlert) error
}
