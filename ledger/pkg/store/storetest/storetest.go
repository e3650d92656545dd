// Package storetest holds behaviour every vault.Store implementation must
// share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	vaulttesting "github.com/malbeclabs/claimvault/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

// Factory returns a ready, empty-or-shared store. Tests only touch vaults
// they create, so a store may be shared across calls.
type Factory func(t *testing.T) vault.Store

var baseTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Run("create and get round trip", func(t *testing.T) {
		t.Parallel()
		testCreateAndGet(t, newStore(t))
	})
	t.Run("missing vault", func(t *testing.T) {
		t.Parallel()
		testMissingVault(t, newStore(t))
	})
	t.Run("claim defaults to zero", func(t *testing.T) {
		t.Parallel()
		testClaimDefaultsToZero(t, newStore(t))
	})
	t.Run("update commits", func(t *testing.T) {
		t.Parallel()
		testUpdateCommits(t, newStore(t))
	})
	t.Run("update rolls back on error", func(t *testing.T) {
		t.Parallel()
		testUpdateRollsBack(t, newStore(t))
	})
	t.Run("commit survives cancellation after fn", func(t *testing.T) {
		t.Parallel()
		testCommitAfterCancel(t, newStore(t))
	})
	t.Run("tx sees staged claims", func(t *testing.T) {
		t.Parallel()
		testTxSeesStagedClaims(t, newStore(t))
	})
	t.Run("claims survive whitelist removal", func(t *testing.T) {
		t.Parallel()
		testClaimsSurviveRemoval(t, newStore(t))
	})
	t.Run("updates are serialized", func(t *testing.T) {
		t.Parallel()
		testUpdatesSerialized(t, newStore(t))
	})
	t.Run("ping", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, newStore(t).Ping(t.Context()))
	})
}

func newVault(t *testing.T, balance uint64, entries ...vault.WhitelistEntry) *vault.Vault {
	return &vault.Vault{
		ID:        uuid.New(),
		Owner:     vaulttesting.NewWallet(t),
		Balance:   balance,
		Whitelist: vault.NewWhitelist(entries...),
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func create(t *testing.T, s vault.Store, v *vault.Vault) {
	t.Helper()
	require.NoError(t, s.CreateVault(t.Context(), v))
}

func requireSameVault(t *testing.T, want, got *vault.Vault) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Owner, got.Owner)
	require.Equal(t, want.HoldingAccount, got.HoldingAccount)
	require.Equal(t, want.Balance, got.Balance)
	require.Equal(t, want.Whitelist.Entries(), got.Whitelist.Entries())
	require.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at: want %s got %s", want.CreatedAt, got.CreatedAt)
	require.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at: want %s got %s", want.UpdatedAt, got.UpdatedAt)
}

func testCreateAndGet(t *testing.T, s vault.Store) {
	ctx := t.Context()
	v := newVault(t, math.MaxUint64,
		vault.WhitelistEntry{Wallet: vaulttesting.NewWallet(t), Entitlement: 100},
		vault.WhitelistEntry{Wallet: vaulttesting.NewWallet(t), Entitlement: math.MaxUint64},
		vault.WhitelistEntry{Wallet: vaulttesting.NewWallet(t), Entitlement: 0},
	)
	v.HoldingAccount = vaulttesting.NewWallet(t)
	create(t, s, v)

	got, err := s.GetVault(ctx, v.ID)
	require.NoError(t, err)
	requireSameVault(t, v, got)

	// Returned vaults are copies.
	got.Balance = 1
	got.Whitelist.Upsert(vaulttesting.NewWallet(t), 5)
	again, err := s.GetVault(ctx, v.ID)
	require.NoError(t, err)
	requireSameVault(t, v, again)

	claims, err := s.ListClaims(ctx, v.ID)
	require.NoError(t, err)
	require.Empty(t, claims)
}

func testMissingVault(t *testing.T, s vault.Store) {
	ctx := t.Context()
	id := uuid.New()

	_, err := s.GetVault(ctx, id)
	require.ErrorIs(t, err, vault.ErrVaultNotFound)

	called := false
	err = s.Update(ctx, id, func(tx vault.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, vault.ErrVaultNotFound)
	require.False(t, called)
}

func testClaimDefaultsToZero(t *testing.T, s vault.Store) {
	v := newVault(t, 10)
	create(t, s, v)
	wallet := vaulttesting.NewWallet(t)

	rec, err := s.GetClaim(t.Context(), v.ID, wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rec.ClaimedAmount)
	require.Equal(t, wallet, rec.Wallet)
}

func testUpdateCommits(t *testing.T, s vault.Store) {
	ctx := t.Context()
	kept := vaulttesting.NewWallet(t)
	dropped := vaulttesting.NewWallet(t)
	added := vaulttesting.NewWallet(t)
	v := newVault(t, 1000,
		vault.WhitelistEntry{Wallet: kept, Entitlement: 100},
		vault.WhitelistEntry{Wallet: dropped, Entitlement: 200},
	)
	create(t, s, v)

	later := baseTime.Add(time.Hour)
	err := s.Update(ctx, v.ID, func(tx vault.Tx) error {
		w := tx.Vault()
		w.Balance = 900
		w.UpdatedAt = later
		w.Whitelist.Upsert(kept, 150)
		w.Whitelist.Remove(dropped)
		w.Whitelist.Upsert(added, math.MaxUint64)
		if err := tx.SaveVault(ctx, w); err != nil {
			return err
		}
		return tx.SaveClaim(ctx, vault.ClaimRecord{
			VaultID:       v.ID,
			Wallet:        kept,
			ClaimedAmount: 100,
			UpdatedAt:     later,
		})
	})
	require.NoError(t, err)

	got, err := s.GetVault(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(900), got.Balance)
	require.True(t, later.Equal(got.UpdatedAt))
	require.True(t, baseTime.Equal(got.CreatedAt))
	require.Equal(t, vault.NewWhitelist(
		vault.WhitelistEntry{Wallet: kept, Entitlement: 150},
		vault.WhitelistEntry{Wallet: added, Entitlement: math.MaxUint64},
	).Entries(), got.Whitelist.Entries())

	rec, err := s.GetClaim(ctx, v.ID, kept)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.ClaimedAmount)
	require.True(t, later.Equal(rec.UpdatedAt))

	claims, err := s.ListClaims(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, kept, claims[0].Wallet)
	require.Equal(t, v.ID, claims[0].VaultID)
}

func testUpdateRollsBack(t *testing.T, s vault.Store) {
	ctx := t.Context()
	wallet := vaulttesting.NewWallet(t)
	v := newVault(t, 500, vault.WhitelistEntry{Wallet: wallet, Entitlement: 100})
	create(t, s, v)

	boom := errors.New("transfer rejected")
	err := s.Update(ctx, v.ID, func(tx vault.Tx) error {
		w := tx.Vault()
		w.Balance = 400
		w.Whitelist.Remove(wallet)
		if err := tx.SaveVault(ctx, w); err != nil {
			return err
		}
		if err := tx.SaveClaim(ctx, vault.ClaimRecord{VaultID: v.ID, Wallet: wallet, ClaimedAmount: 100, UpdatedAt: baseTime}); err != nil {
			return err
		}
		return boom
	})
	require.Same(t, boom, err)

	got, err := s.GetVault(ctx, v.ID)
	require.NoError(t, err)
	requireSameVault(t, v, got)

	rec, err := s.GetClaim(ctx, v.ID, wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rec.ClaimedAmount)

	// Domain errors come back by identity too.
	err = s.Update(ctx, v.ID, func(tx vault.Tx) error {
		return vault.ErrAlreadyClaimed
	})
	require.Equal(t, vault.ErrAlreadyClaimed, err)
}

// testCommitAfterCancel cancels the caller's context at the end of fn, the
// way a client disconnect lands right after a payout.
func testCommitAfterCancel(t *testing.T, s vault.Store) {
	wallet := vaulttesting.NewWallet(t)
	v := newVault(t, 500, vault.WhitelistEntry{Wallet: wallet, Entitlement: 100})
	create(t, s, v)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	err := s.Update(ctx, v.ID, func(tx vault.Tx) error {
		w := tx.Vault()
		w.Balance = 400
		if err := tx.SaveVault(ctx, w); err != nil {
			return err
		}
		if err := tx.SaveClaim(ctx, vault.ClaimRecord{VaultID: v.ID, Wallet: wallet, ClaimedAmount: 100, UpdatedAt: baseTime}); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetVault(t.Context(), v.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(400), got.Balance)

	rec, err := s.GetClaim(t.Context(), v.ID, wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.ClaimedAmount)
}

func testTxSeesStagedClaims(t *testing.T, s vault.Store) {
	ctx := t.Context()
	wallet := vaulttesting.NewWallet(t)
	v := newVault(t, 500, vault.WhitelistEntry{Wallet: wallet, Entitlement: 100})
	create(t, s, v)

	err := s.Update(ctx, v.ID, func(tx vault.Tx) error {
		rec, err := tx.Claim(ctx, wallet)
		if err != nil {
			return err
		}
		require.Equal(t, uint64(0), rec.ClaimedAmount)
		rec.ClaimedAmount = 40
		rec.UpdatedAt = baseTime
		if err := tx.SaveClaim(ctx, rec); err != nil {
			return err
		}
		rec, err = tx.Claim(ctx, wallet)
		if err != nil {
			return err
		}
		require.Equal(t, uint64(40), rec.ClaimedAmount)
		return nil
	})
	require.NoError(t, err)
}

func testClaimsSurviveRemoval(t *testing.T, s vault.Store) {
	ctx := t.Context()
	wallet := vaulttesting.NewWallet(t)
	v := newVault(t, 500, vault.WhitelistEntry{Wallet: wallet, Entitlement: 100})
	create(t, s, v)

	require.NoError(t, s.Update(ctx, v.ID, func(tx vault.Tx) error {
		return tx.SaveClaim(ctx, vault.ClaimRecord{VaultID: v.ID, Wallet: wallet, ClaimedAmount: 100, UpdatedAt: baseTime})
	}))
	require.NoError(t, s.Update(ctx, v.ID, func(tx vault.Tx) error {
		w := tx.Vault()
		require.True(t, w.Whitelist.Remove(wallet))
		return tx.SaveVault(ctx, w)
	}))

	got, err := s.GetVault(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Whitelist.Len())

	rec, err := s.GetClaim(ctx, v.ID, wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.ClaimedAmount)
}

func testUpdatesSerialized(t *testing.T, s vault.Store) {
	const workers = 16
	ctx := t.Context()
	v := newVault(t, 1000)
	create(t, s, v)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, v.ID, func(tx vault.Tx) error {
				w := tx.Vault()
				w.Balance--
				return tx.SaveVault(ctx, w)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetVault(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1000-workers), got.Balance)
}
