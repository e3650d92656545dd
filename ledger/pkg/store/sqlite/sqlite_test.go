package sqlite_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/sqlite"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/storetest"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	vaulttesting "github.com/malbeclabs/claimvault/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVault_Store_SQLite(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) vault.Store {
		return newStore(t)
	})
}

func TestVault_Store_SQLite_ReopenKeepsState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vault.db")
	wallet := vaulttesting.NewWallet(t)
	v := &vault.Vault{
		ID:        uuid.New(),
		Owner:     vaulttesting.NewWallet(t),
		Balance:   math.MaxUint64,
		Whitelist: vault.NewWhitelist(vault.WhitelistEntry{Wallet: wallet, Entitlement: math.MaxUint64 - 1}),
	}

	s, err := sqlite.Open(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, s.CreateVault(t.Context(), v))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(t.Context(), path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetVault(t.Context(), v.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), got.Balance)
	entitlement, ok := got.Whitelist.Entitlement(wallet)
	require.True(t, ok)
	require.Equal(t, uint64(math.MaxUint64-1), entitlement)
	require.True(t, got.HoldingAccount.IsZero())
}
