package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/malbeclabs/claimvault/api/handlers"
	"github.com/malbeclabs/claimvault/ledger/pkg/transfer"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	"github.com/stretchr/testify/require"
)

func TestVault_API_StatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not owner", err: vault.ErrNotVaultOwner, status: http.StatusForbidden, code: "not_vault_owner"},
		{name: "unauthorized wallet", err: vault.ErrUnauthorizedWallet, status: http.StatusForbidden, code: "unauthorized_wallet"},
		{name: "vault empty", err: vault.ErrVaultEmpty, status: http.StatusConflict, code: "vault_empty"},
		{name: "already claimed", err: vault.ErrAlreadyClaimed, status: http.StatusConflict, code: "already_claimed"},
		{name: "insufficient", err: vault.ErrInsufficientAmount, status: http.StatusConflict, code: "insufficient_amount"},
		{name: "not found", err: vault.ErrVaultNotFound, status: http.StatusNotFound, code: "vault_not_found"},
		{name: "wrapped not found", err: fmt.Errorf("failed to load: %w", vault.ErrVaultNotFound), status: http.StatusNotFound, code: "vault_not_found"},
		{name: "invalid identity", err: vault.ErrInvalidIdentity, status: http.StatusBadRequest, code: "invalid_identity"},
		{name: "transfers disabled", err: vault.ErrTransfersDisabled, status: http.StatusServiceUnavailable, code: "transfers_disabled"},
		{name: "transfer failure", err: &transfer.Error{Err: errors.New("blockhash not found")}, status: http.StatusBadGateway, code: "transfer_failed"},
		{name: "storage down", err: errors.New("failed to begin: dial tcp 10.0.0.1:5432: connection refused"), status: http.StatusServiceUnavailable, code: "storage_unavailable"},
		{name: "cancelled", err: context.Canceled, status: http.StatusInternalServerError, code: "internal_error"},
		{name: "unexpected", err: errors.New("constraint violated"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, code := handlers.StatusFor(tt.err)
			require.Equal(t, tt.status, status)
			require.Equal(t, tt.code, code)
		})
	}
}
