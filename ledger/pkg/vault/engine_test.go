package vault_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/memory"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/sqlite"
	"github.com/malbeclabs/claimvault/ledger/pkg/transfer"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	vaulttesting "github.com/malbeclabs/claimvault/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []vault.Event
	err    error
}

func (r *recorder) Record(_ context.Context, ev vault.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) kinds() []vault.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]vault.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) last() vault.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type alerter struct {
	mu     sync.Mutex
	alerts []vault.LowBalanceAlert
}

func (a *alerter) LowBalance(_ context.Context, alert vault.LowBalanceAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *alerter) sent() []vault.LowBalanceAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]vault.LowBalanceAlert(nil), a.alerts...)
}

type harness struct {
	engine   *vault.Engine
	store    *memory.Store
	book     *transfer.Book
	clock    *clockwork.FakeClock
	recorder *recorder
	alerter  *alerter
	owner    solana.PublicKey
}

func newHarness(t *testing.T, threshold uint64) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		book:     transfer.NewBook(),
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		recorder: &recorder{},
		alerter:  &alerter{},
		owner:    vaulttesting.NewWallet(t),
	}
	engine, err := vault.NewEngine(vault.EngineConfig{
		Logger:              vaulttesting.NewLogger(),
		Store:               h.store,
		Transferer:          h.book,
		Clock:               h.clock,
		Recorder:            h.recorder,
		Alerter:             h.alerter,
		LowBalanceThreshold: threshold,
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) newVault(t *testing.T, amount uint64) uuid.UUID {
	t.Helper()
	v, err := h.engine.Initialize(t.Context(), h.owner, vault.InitializeParams{Amount: amount})
	require.NoError(t, err)
	return v.ID
}

func (h *harness) whitelist(t *testing.T, id uuid.UUID, wallet solana.PublicKey, amount uint64) {
	t.Helper()
	require.NoError(t, h.engine.AddToWhitelist(t.Context(), id, h.owner, wallet, amount))
}

func (h *harness) balance(t *testing.T, id uuid.UUID) uint64 {
	t.Helper()
	v, err := h.engine.GetVault(t.Context(), id)
	require.NoError(t, err)
	return v.Balance
}

func (h *harness) claimed(t *testing.T, id uuid.UUID, wallet solana.PublicKey) uint64 {
	t.Helper()
	rec, err := h.engine.GetClaim(t.Context(), id, wallet)
	require.NoError(t, err)
	return rec.ClaimedAmount
}

func TestVault_EngineConfig_Validate(t *testing.T) {
	t.Parallel()

	_, err := vault.NewEngine(vault.EngineConfig{Store: memory.New()})
	require.EqualError(t, err, "logger is required")

	_, err = vault.NewEngine(vault.EngineConfig{Logger: vaulttesting.NewLogger()})
	require.EqualError(t, err, "store is required")

	engine, err := vault.NewEngine(vault.EngineConfig{Logger: vaulttesting.NewLogger(), Store: memory.New()})
	require.NoError(t, err)
	require.NotNil(t, engine)
}

func TestVault_Engine_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("creates owned vault", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		holding := vaulttesting.NewWallet(t)

		v, err := h.engine.Initialize(t.Context(), h.owner, vault.InitializeParams{Amount: 1000, HoldingAccount: holding})
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, v.ID)
		require.Equal(t, h.owner, v.Owner)
		require.Equal(t, holding, v.HoldingAccount)
		require.Equal(t, uint64(1000), v.Balance)
		require.Zero(t, v.Whitelist.Len())
		require.True(t, h.clock.Now().Equal(v.CreatedAt))

		got, err := h.engine.GetVault(t.Context(), v.ID)
		require.NoError(t, err)
		require.Equal(t, v.Summary(), got.Summary())
		require.Equal(t, []vault.EventKind{vault.EventVaultInitialized}, h.recorder.kinds())
	})

	t.Run("zero amount is allowed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 0)
		require.Zero(t, h.balance(t, id))
	})

	t.Run("every call creates an independent vault", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		a := h.newVault(t, 10)
		b := h.newVault(t, 20)
		require.NotEqual(t, a, b)

		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, a, wallet, 5)

		vb, err := h.engine.GetVault(t.Context(), b)
		require.NoError(t, err)
		require.Zero(t, vb.Whitelist.Len())
		require.Equal(t, uint64(20), vb.Balance)
	})

	t.Run("zero caller is rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		_, err := h.engine.Initialize(t.Context(), solana.PublicKey{}, vault.InitializeParams{Amount: 1})
		require.ErrorIs(t, err, vault.ErrInvalidIdentity)
	})
}

func TestVault_Engine_Whitelist(t *testing.T) {
	t.Parallel()

	t.Run("non-owner mutation is rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 100)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 40)
		intruder := vaulttesting.NewWallet(t)

		err := h.engine.AddToWhitelist(t.Context(), id, intruder, intruder, 1000)
		require.ErrorIs(t, err, vault.ErrNotVaultOwner)
		err = h.engine.AddToWhitelist(t.Context(), id, intruder, wallet, 1000)
		require.ErrorIs(t, err, vault.ErrNotVaultOwner)
		err = h.engine.RemoveFromWhitelist(t.Context(), id, intruder, wallet)
		require.ErrorIs(t, err, vault.ErrNotVaultOwner)
		err = h.engine.AddToWhitelist(t.Context(), id, solana.PublicKey{}, wallet, 1000)
		require.ErrorIs(t, err, vault.ErrNotVaultOwner)

		entries, err := h.engine.ListWhitelist(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, []vault.WhitelistStatus{
			{Wallet: wallet, Entitlement: 40, Claimable: 40},
		}, entries)
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 100)
		wallet := vaulttesting.NewWallet(t)

		h.whitelist(t, id, wallet, 40)
		once, err := h.engine.GetVault(t.Context(), id)
		require.NoError(t, err)
		h.whitelist(t, id, wallet, 40)
		twice, err := h.engine.GetVault(t.Context(), id)
		require.NoError(t, err)

		require.Equal(t, once.Whitelist.Entries(), twice.Whitelist.Entries())
		require.Equal(t, once.Balance, twice.Balance)
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 100)
		wallet := vaulttesting.NewWallet(t)

		h.whitelist(t, id, wallet, 40)
		h.whitelist(t, id, wallet, 15)

		v, err := h.engine.GetVault(t.Context(), id)
		require.NoError(t, err)
		got, ok := v.Whitelist.Entitlement(wallet)
		require.True(t, ok)
		require.Equal(t, uint64(15), got)
		require.Equal(t, 1, v.Whitelist.Len())
	})

	t.Run("removing an absent wallet is a no-op", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 100)
		before := h.recorder.kinds()

		require.NoError(t, h.engine.RemoveFromWhitelist(t.Context(), id, h.owner, vaulttesting.NewWallet(t)))
		require.Equal(t, before, h.recorder.kinds())
	})

	t.Run("unknown vault", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		err := h.engine.AddToWhitelist(t.Context(), uuid.New(), h.owner, vaulttesting.NewWallet(t), 1)
		require.ErrorIs(t, err, vault.ErrVaultNotFound)
		err = h.engine.RemoveFromWhitelist(t.Context(), uuid.New(), h.owner, vaulttesting.NewWallet(t))
		require.ErrorIs(t, err, vault.ErrVaultNotFound)
	})
}

func TestVault_Engine_Claim(t *testing.T) {
	t.Parallel()

	t.Run("pays the full entitlement", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		holding := vaulttesting.NewWallet(t)
		v, err := h.engine.Initialize(t.Context(), h.owner, vault.InitializeParams{Amount: 1000, HoldingAccount: holding})
		require.NoError(t, err)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, v.ID, wallet, 100)

		res, err := h.engine.Claim(t.Context(), v.ID, wallet)
		require.NoError(t, err)
		require.Equal(t, uint64(100), res.Amount)
		require.Equal(t, uint64(900), res.Balance)
		require.Equal(t, uint64(100), res.ClaimedAmount)
		require.NotEmpty(t, res.Signature)

		require.Equal(t, uint64(900), h.balance(t, v.ID))
		require.Equal(t, uint64(100), h.claimed(t, v.ID, wallet))
		require.Equal(t, uint64(100), h.book.Credited(wallet))

		transfers := h.book.Transfers()
		require.Len(t, transfers, 1)
		require.Equal(t, holding, transfers[0].From)
		require.Equal(t, wallet, transfers[0].To)
		require.Equal(t, v.ID, transfers[0].VaultID)
		require.NotEqual(t, uuid.Nil, transfers[0].Reference)

		ev := h.recorder.last()
		require.Equal(t, vault.EventClaimPaid, ev.Kind)
		require.Equal(t, res.Signature, ev.Signature)
		require.Equal(t, uint64(100), ev.Amount)
	})

	t.Run("second claim is already claimed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)

		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)
		_, err = h.engine.Claim(t.Context(), id, wallet)
		require.ErrorIs(t, err, vault.ErrAlreadyClaimed)
		require.Equal(t, uint64(900), h.balance(t, id))
		require.Equal(t, uint64(100), h.book.Credited(wallet))

		ev := h.recorder.last()
		require.Equal(t, vault.EventClaimRejected, ev.Kind)
		require.Equal(t, "already_claimed", ev.Reason)
	})

	t.Run("re-whitelist after claim pays only the delta", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)
		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)
		require.Equal(t, uint64(100), h.claimed(t, id, wallet))

		h.whitelist(t, id, wallet, 150)
		before := h.balance(t, id)
		res, err := h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)
		require.Equal(t, uint64(50), res.Amount)
		require.Equal(t, before-50, h.balance(t, id))
		require.Equal(t, uint64(150), h.claimed(t, id, wallet))
		require.Equal(t, uint64(150), h.book.Credited(wallet))
	})

	t.Run("removal then claim is unauthorized", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)
		require.NoError(t, h.engine.RemoveFromWhitelist(t.Context(), id, h.owner, wallet))

		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.ErrorIs(t, err, vault.ErrUnauthorizedWallet)
		require.Zero(t, h.claimed(t, id, wallet))
		require.Equal(t, uint64(1000), h.balance(t, id))
	})

	t.Run("removal keeps claim history", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)
		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)

		require.NoError(t, h.engine.RemoveFromWhitelist(t.Context(), id, h.owner, wallet))
		require.Equal(t, uint64(100), h.claimed(t, id, wallet))

		// Re-adding with the same entitlement does not allow a second payout.
		h.whitelist(t, id, wallet, 100)
		_, err = h.engine.Claim(t.Context(), id, wallet)
		require.ErrorIs(t, err, vault.ErrAlreadyClaimed)
	})

	t.Run("zero entitlement is unauthorized", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 0)

		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.ErrorIs(t, err, vault.ErrUnauthorizedWallet)
	})

	t.Run("insufficient amount", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 30)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)

		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.ErrorIs(t, err, vault.ErrInsufficientAmount)
		require.Equal(t, uint64(30), h.balance(t, id))
		require.Zero(t, h.claimed(t, id, wallet))
		require.Empty(t, h.book.Transfers())
	})

	t.Run("empty vault", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 0)
		small := vaulttesting.NewWallet(t)
		large := vaulttesting.NewWallet(t)
		h.whitelist(t, id, small, 1)
		h.whitelist(t, id, large, math.MaxUint64)

		for _, wallet := range []solana.PublicKey{small, large} {
			_, err := h.engine.Claim(t.Context(), id, wallet)
			require.ErrorIs(t, err, vault.ErrVaultEmpty)
		}
	})

	t.Run("guards run in order", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 0)

		// Membership is checked before the balance.
		_, err := h.engine.Claim(t.Context(), id, vaulttesting.NewWallet(t))
		require.ErrorIs(t, err, vault.ErrUnauthorizedWallet)

		// Balance is checked before the claim history.
		id = h.newVault(t, 100)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)
		_, err = h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)
		_, err = h.engine.Claim(t.Context(), id, wallet)
		require.ErrorIs(t, err, vault.ErrVaultEmpty)
	})

	t.Run("lowered entitlement floors at zero", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)
		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)

		require.NoError(t, h.engine.AddToWhitelist(t.Context(), id, h.owner, wallet, 60))
		claimable, err := h.engine.Claimable(t.Context(), id, wallet)
		require.NoError(t, err)
		require.Zero(t, claimable)

		_, err = h.engine.Claim(t.Context(), id, wallet)
		require.ErrorIs(t, err, vault.ErrAlreadyClaimed)
		require.Equal(t, uint64(100), h.claimed(t, id, wallet))
	})

	t.Run("transfer failure rolls back and surfaces unchanged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)

		boom := errors.New("token account frozen")
		h.book.FailWith(func(vault.TransferRequest) error { return boom })
		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.Same(t, boom, err)
		require.Equal(t, uint64(1000), h.balance(t, id))
		require.Zero(t, h.claimed(t, id, wallet))

		h.book.FailWith(nil)
		res, err := h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)
		require.Equal(t, uint64(100), res.Amount)
	})

	t.Run("unknown vault", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		_, err := h.engine.Claim(t.Context(), uuid.New(), vaulttesting.NewWallet(t))
		require.ErrorIs(t, err, vault.ErrVaultNotFound)
	})

	t.Run("transfers disabled", func(t *testing.T) {
		t.Parallel()
		engine, err := vault.NewEngine(vault.EngineConfig{Logger: vaulttesting.NewLogger(), Store: memory.New()})
		require.NoError(t, err)
		_, err = engine.Claim(t.Context(), uuid.New(), vaulttesting.NewWallet(t))
		require.ErrorIs(t, err, vault.ErrTransfersDisabled)
	})

	t.Run("audit failures do not fail the claim", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, 0)
		id := h.newVault(t, 1000)
		wallet := vaulttesting.NewWallet(t)
		h.whitelist(t, id, wallet, 100)

		h.recorder.mu.Lock()
		h.recorder.err = errors.New("clickhouse down")
		h.recorder.mu.Unlock()

		_, err := h.engine.Claim(t.Context(), id, wallet)
		require.NoError(t, err)
		require.Equal(t, uint64(900), h.balance(t, id))
	})
}

func TestVault_Engine_ConcurrentClaimsPayOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	id := h.newVault(t, 1000)
	wallet := vaulttesting.NewWallet(t)
	h.whitelist(t, id, wallet, 100)

	const attempts = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		paid     int
		rejected int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Claim(context.Background(), id, wallet)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				paid++
			} else if errors.Is(err, vault.ErrAlreadyClaimed) {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, paid)
	require.Equal(t, attempts-1, rejected)
	require.Equal(t, uint64(900), h.balance(t, id))
	require.Equal(t, uint64(100), h.book.Credited(wallet))
}

// cancelAfterTransfer cancels the claim's context as soon as the payout
// has gone through.
type cancelAfterTransfer struct {
	book   *transfer.Book
	cancel context.CancelFunc
}

func (c *cancelAfterTransfer) Transfer(ctx context.Context, req vault.TransferRequest) (vault.TransferReceipt, error) {
	receipt, err := c.book.Transfer(ctx, req)
	c.cancel()
	return receipt, err
}

func TestVault_Engine_ClaimCommitsAfterCallerCancels(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	book := transfer.NewBook()
	engine, err := vault.NewEngine(vault.EngineConfig{
		Logger:     vaulttesting.NewLogger(),
		Store:      store,
		Transferer: &cancelAfterTransfer{book: book, cancel: cancel},
	})
	require.NoError(t, err)

	owner := vaulttesting.NewWallet(t)
	wallet := vaulttesting.NewWallet(t)
	v, err := engine.Initialize(t.Context(), owner, vault.InitializeParams{Amount: 1000})
	require.NoError(t, err)
	require.NoError(t, engine.AddToWhitelist(t.Context(), v.ID, owner, wallet, 100))

	res, err := engine.Claim(ctx, v.ID, wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(100), res.Amount)
	require.Error(t, ctx.Err())

	_, err = engine.Claim(t.Context(), v.ID, wallet)
	require.ErrorIs(t, err, vault.ErrAlreadyClaimed)

	got, err := engine.GetVault(t.Context(), v.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(900), got.Balance)
	require.Equal(t, uint64(100), book.Credited(wallet))
}

func TestVault_Engine_BalanceConservation(t *testing.T) {
	t.Parallel()

	const initial = 5000
	h := newHarness(t, 0)
	id := h.newVault(t, initial)
	wallets := make([]solana.PublicKey, 8)
	for i := range wallets {
		wallets[i] = vaulttesting.NewWallet(t)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	var paid uint64
	lastClaimed := make(map[solana.PublicKey]uint64)
	for range 400 {
		wallet := wallets[rng.IntN(len(wallets))]
		switch rng.IntN(4) {
		case 0:
			h.whitelist(t, id, wallet, uint64(rng.IntN(400)))
		case 1:
			require.NoError(t, h.engine.RemoveFromWhitelist(t.Context(), id, h.owner, wallet))
		default:
			res, err := h.engine.Claim(t.Context(), id, wallet)
			if err != nil {
				require.True(t, vault.IsClaimRejection(err), "unexpected error: %v", err)
			} else {
				paid += res.Amount
			}
		}

		require.Equal(t, uint64(initial)-paid, h.balance(t, id))
		for _, w := range wallets {
			c := h.claimed(t, id, w)
			require.GreaterOrEqual(t, c, lastClaimed[w])
			lastClaimed[w] = c
		}
	}

	var totalClaimed uint64
	for _, c := range lastClaimed {
		totalClaimed += c
	}
	require.Equal(t, paid, totalClaimed)
}

func TestVault_Engine_LowBalanceAlert(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	id := h.newVault(t, 1000)
	a := vaulttesting.NewWallet(t)
	b := vaulttesting.NewWallet(t)
	c := vaulttesting.NewWallet(t)
	h.whitelist(t, id, a, 400)
	h.whitelist(t, id, b, 200)
	h.whitelist(t, id, c, 100)

	_, err := h.engine.Claim(t.Context(), id, a) // 1000 -> 600
	require.NoError(t, err)
	require.Empty(t, h.alerter.sent())

	_, err = h.engine.Claim(t.Context(), id, b) // 600 -> 400, crosses
	require.NoError(t, err)
	require.Equal(t, []vault.LowBalanceAlert{
		{VaultID: id, Balance: 400, Threshold: 500, LastClaim: 200},
	}, h.alerter.sent())

	_, err = h.engine.Claim(t.Context(), id, c) // 400 -> 300, already below
	require.NoError(t, err)
	require.Len(t, h.alerter.sent(), 1)
}

func TestVault_Engine_Queries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	id := h.newVault(t, 1000)
	paid := vaulttesting.NewWallet(t)
	pending := vaulttesting.NewWallet(t)
	stranger := vaulttesting.NewWallet(t)
	h.whitelist(t, id, paid, 100)
	h.whitelist(t, id, pending, 250)
	_, err := h.engine.Claim(t.Context(), id, paid)
	require.NoError(t, err)
	h.whitelist(t, id, paid, 130)

	st, err := h.engine.Status(t.Context(), id, paid)
	require.NoError(t, err)
	require.Equal(t, vault.WhitelistStatus{Wallet: paid, Entitlement: 130, ClaimedAmount: 100, Claimable: 30}, st)

	claimable, err := h.engine.Claimable(t.Context(), id, stranger)
	require.NoError(t, err)
	require.Zero(t, claimable)

	list, err := h.engine.ListWhitelist(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	byWallet := map[solana.PublicKey]vault.WhitelistStatus{}
	for _, s := range list {
		byWallet[s.Wallet] = s
	}
	require.Equal(t, uint64(30), byWallet[paid].Claimable)
	require.Equal(t, uint64(250), byWallet[pending].Claimable)
	require.Less(t, list[0].Wallet.String(), list[1].Wallet.String())

	_, err = h.engine.GetClaim(t.Context(), uuid.New(), paid)
	require.ErrorIs(t, err, vault.ErrVaultNotFound)
	require.NoError(t, h.engine.Ping(t.Context()))
}
