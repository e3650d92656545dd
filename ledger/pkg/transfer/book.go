package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

// Book is an in-memory vault.Transferer that credits recipients in a local
// ledger. It backs development deployments and tests.
type Book struct {
	mu        sync.Mutex
	credited  map[solana.PublicKey]uint64
	transfers []vault.TransferRequest
	fail      func(req vault.TransferRequest) error
}

func NewBook() *Book {
	return &Book{
		credited: make(map[solana.PublicKey]uint64),
	}
}

// FailWith installs a hook consulted before every transfer; a non-nil return
// fails the transfer without crediting anything. Pass nil to clear it.
func (b *Book) FailWith(fn func(req vault.TransferRequest) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fn
}

func (b *Book) Transfer(ctx context.Context, req vault.TransferRequest) (vault.TransferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return vault.TransferReceipt{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fail != nil {
		if err := b.fail(req); err != nil {
			return vault.TransferReceipt{}, err
		}
	}
	b.credited[req.To] += req.Amount
	b.transfers = append(b.transfers, req)
	return vault.TransferReceipt{
		Signature: fmt.Sprintf("book-%d-%s", len(b.transfers), req.Reference),
	}, nil
}

// Credited returns the total amount transferred to wallet.
func (b *Book) Credited(wallet solana.PublicKey) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credited[wallet]
}

// Transfers returns every successful transfer in order.
func (b *Book) Transfers() []vault.TransferRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]vault.TransferRequest, len(b.transfers))
	copy(out, b.transfers)
	return out
}
