package transfer

import (
	"context"
	"errors"

	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

// Error marks a failure reported by the asset layer, as opposed to a vault
// rejection or a storage failure.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "transfer failed: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err came from a Tagged transferer.
func IsError(err error) bool {
	var terr *Error
	return errors.As(err, &terr)
}

type tagged struct {
	next vault.Transferer
}

// Tagged wraps t so that every failure it returns is an *Error.
func Tagged(t vault.Transferer) vault.Transferer {
	return &tagged{next: t}
}

func (t *tagged) Transfer(ctx context.Context, req vault.TransferRequest) (vault.TransferReceipt, error) {
	receipt, err := t.next.Transfer(ctx, req)
	if err != nil {
		return vault.TransferReceipt{}, &Error{Err: err}
	}
	return receipt, nil
}
