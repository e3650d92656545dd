package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/claimvault/ledger/pkg/metrics"
)

type EngineConfig struct {
	Logger *slog.Logger
	Store  Store
	Clock  clockwork.Clock

	// Transferer is optional; without it Claim fails with ErrTransfersDisabled.
	Transferer Transferer
	// Recorder and Alerter are optional post-commit sinks.
	Recorder EventRecorder
	Alerter  Alerter
	// LowBalanceThreshold enables Alerter when non-zero.
	LowBalanceThreshold uint64
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine runs the vault operations. Every state change goes through a
// single Store.Update so guard checks, balance and claim record mutations,
// and the transfer either all take effect or none do.
type Engine struct {
	log *slog.Logger
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

type InitializeParams struct {
	Amount         uint64
	HoldingAccount solana.PublicKey
}

// Initialize creates a new vault owned by caller. Each call creates an
// independent vault.
func (e *Engine) Initialize(ctx context.Context, caller solana.PublicKey, params InitializeParams) (*Vault, error) {
	if caller.IsZero() {
		return nil, ErrInvalidIdentity
	}

	now := e.cfg.Clock.Now().UTC()
	v := &Vault{
		ID:             uuid.New(),
		Owner:          caller,
		HoldingAccount: params.HoldingAccount,
		Balance:        params.Amount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.cfg.Store.CreateVault(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}

	metrics.VaultsInitializedTotal.Inc()
	e.log.Info("vault: initialized", "vault_id", v.ID, "owner", caller.String(), "balance", v.Balance)
	e.record(ctx, Event{
		Kind:    EventVaultInitialized,
		VaultID: v.ID,
		Actor:   caller,
		Amount:  params.Amount,
		Balance: v.Balance,
	})
	return v, nil
}

// AddToWhitelist sets wallet's entitlement to amount, replacing any earlier
// value. Only the owner may call it.
func (e *Engine) AddToWhitelist(ctx context.Context, vaultID uuid.UUID, caller, wallet solana.PublicKey, amount uint64) error {
	var balance uint64
	err := e.cfg.Store.Update(ctx, vaultID, func(tx Tx) error {
		v := tx.Vault()
		if err := v.Authorize(caller); err != nil {
			return err
		}
		v.Whitelist.Upsert(wallet, amount)
		v.UpdatedAt = e.cfg.Clock.Now().UTC()
		balance = v.Balance
		return tx.SaveVault(ctx, v)
	})
	metrics.RecordWhitelistOperation("upsert", err)
	if err != nil {
		e.log.Warn("vault: whitelist upsert failed", "vault_id", vaultID, "caller", caller.String(), "wallet", wallet.String(), "error", err)
		return err
	}

	e.log.Info("vault: whitelist upserted", "vault_id", vaultID, "wallet", wallet.String(), "entitlement", amount)
	e.record(ctx, Event{
		Kind:    EventWhitelistUpserted,
		VaultID: vaultID,
		Actor:   caller,
		Wallet:  wallet,
		Amount:  amount,
		Balance: balance,
	})
	return nil
}

// RemoveFromWhitelist deletes wallet's entry. Removing an absent wallet is
// not an error. Claim records are left untouched.
func (e *Engine) RemoveFromWhitelist(ctx context.Context, vaultID uuid.UUID, caller, wallet solana.PublicKey) error {
	var (
		balance uint64
		removed bool
	)
	err := e.cfg.Store.Update(ctx, vaultID, func(tx Tx) error {
		v := tx.Vault()
		if err := v.Authorize(caller); err != nil {
			return err
		}
		balance = v.Balance
		if removed = v.Whitelist.Remove(wallet); !removed {
			return nil
		}
		v.UpdatedAt = e.cfg.Clock.Now().UTC()
		return tx.SaveVault(ctx, v)
	})
	metrics.RecordWhitelistOperation("remove", err)
	if err != nil {
		e.log.Warn("vault: whitelist removal failed", "vault_id", vaultID, "caller", caller.String(), "wallet", wallet.String(), "error", err)
		return err
	}
	if !removed {
		e.log.Debug("vault: whitelist removal of absent wallet", "vault_id", vaultID, "wallet", wallet.String())
		return nil
	}

	e.log.Info("vault: whitelist removed", "vault_id", vaultID, "wallet", wallet.String())
	e.record(ctx, Event{
		Kind:    EventWhitelistRemoved,
		VaultID: vaultID,
		Actor:   caller,
		Wallet:  wallet,
		Balance: balance,
	})
	return nil
}

// ClaimResult describes a successful payout.
type ClaimResult struct {
	VaultID       uuid.UUID        `json:"vault_id"`
	Wallet        solana.PublicKey `json:"wallet"`
	Amount        uint64           `json:"amount"`
	Signature     string           `json:"signature"`
	Balance       uint64           `json:"balance"`
	ClaimedAmount uint64           `json:"claimed_amount"`
}

// Claim pays caller the remainder of its entitlement in full, or fails with
// one of the claim errors and changes nothing. A transfer failure is
// returned unchanged.
func (e *Engine) Claim(ctx context.Context, vaultID uuid.UUID, caller solana.PublicKey) (*ClaimResult, error) {
	if e.cfg.Transferer == nil {
		return nil, ErrTransfersDisabled
	}

	var (
		result      *ClaimResult
		transferErr error
		prevBalance uint64
		balance     uint64
	)
	err := e.cfg.Store.Update(ctx, vaultID, func(tx Tx) error {
		v := tx.Vault()
		balance = v.Balance

		rec, err := tx.Claim(ctx, caller)
		if err != nil {
			return err
		}
		owed, err := owedAmount(v, caller, rec.ClaimedAmount)
		if err != nil {
			return err
		}

		now := e.cfg.Clock.Now().UTC()
		prevBalance = v.Balance
		v.Balance -= owed
		v.UpdatedAt = now
		rec.VaultID = vaultID
		rec.Wallet = caller
		rec.ClaimedAmount += owed
		rec.UpdatedAt = now
		if err := tx.SaveClaim(ctx, rec); err != nil {
			return err
		}
		if err := tx.SaveVault(ctx, v); err != nil {
			return err
		}

		receipt, err := e.transfer(ctx, TransferRequest{
			VaultID:   vaultID,
			From:      v.HoldingAccount,
			To:        caller,
			Amount:    owed,
			Reference: uuid.New(),
		})
		if err != nil {
			transferErr = err
			return err
		}

		result = &ClaimResult{
			VaultID:       vaultID,
			Wallet:        caller,
			Amount:        owed,
			Signature:     receipt.Signature,
			Balance:       v.Balance,
			ClaimedAmount: rec.ClaimedAmount,
		}
		return nil
	})
	if err != nil {
		e.claimFailed(ctx, vaultID, caller, balance, err, transferErr, result)
		return nil, err
	}

	metrics.RecordClaimPaid(result.Amount)
	e.log.Info("vault: claim paid",
		"vault_id", vaultID,
		"wallet", caller.String(),
		"amount", result.Amount,
		"balance", result.Balance,
		"signature", result.Signature)
	e.record(ctx, Event{
		Kind:      EventClaimPaid,
		VaultID:   vaultID,
		Actor:     caller,
		Wallet:    caller,
		Amount:    result.Amount,
		Balance:   result.Balance,
		Signature: result.Signature,
	})
	e.maybeAlert(ctx, vaultID, prevBalance, result)
	return result, nil
}

// owedAmount applies the claim guards in order and returns the full
// remaining entitlement.
func owedAmount(v *Vault, wallet solana.PublicKey, claimed uint64) (uint64, error) {
	entitlement, ok := v.Whitelist.Entitlement(wallet)
	if !ok || entitlement == 0 {
		return 0, ErrUnauthorizedWallet
	}
	if v.Balance == 0 {
		return 0, ErrVaultEmpty
	}
	if claimed >= entitlement {
		return 0, ErrAlreadyClaimed
	}
	owed := entitlement - claimed
	if v.Balance < owed {
		return 0, ErrInsufficientAmount
	}
	return owed, nil
}

func (e *Engine) transfer(ctx context.Context, req TransferRequest) (TransferReceipt, error) {
	start := e.cfg.Clock.Now()
	receipt, err := e.cfg.Transferer.Transfer(ctx, req)
	metrics.RecordTransfer(e.cfg.Clock.Since(start).Seconds(), err)
	return receipt, err
}

func (e *Engine) claimFailed(ctx context.Context, vaultID uuid.UUID, caller solana.PublicKey, balance uint64, err, transferErr error, result *ClaimResult) {
	switch {
	case result != nil:
		// The transfer went through but the commit did not.
		metrics.RecordClaimFailed("error")
		e.log.Error("vault: claim transferred but not committed",
			"vault_id", vaultID,
			"wallet", caller.String(),
			"amount", result.Amount,
			"signature", result.Signature,
			"error", err)
	case transferErr != nil && errors.Is(err, transferErr):
		metrics.RecordClaimFailed("transfer_failed")
		e.log.Error("vault: claim transfer failed", "vault_id", vaultID, "wallet", caller.String(), "error", err)
	case IsClaimRejection(err):
		code := ErrorCode(err)
		metrics.RecordClaimFailed(code)
		e.log.Info("vault: claim rejected", "vault_id", vaultID, "wallet", caller.String(), "reason", code)
		e.record(ctx, Event{
			Kind:    EventClaimRejected,
			VaultID: vaultID,
			Actor:   caller,
			Wallet:  caller,
			Balance: balance,
			Reason:  code,
		})
	default:
		metrics.RecordClaimFailed("error")
		e.log.Warn("vault: claim failed", "vault_id", vaultID, "wallet", caller.String(), "error", err)
	}
}

func (e *Engine) maybeAlert(ctx context.Context, vaultID uuid.UUID, prevBalance uint64, result *ClaimResult) {
	threshold := e.cfg.LowBalanceThreshold
	if e.cfg.Alerter == nil || threshold == 0 {
		return
	}
	if prevBalance < threshold || result.Balance >= threshold {
		return
	}
	err := e.cfg.Alerter.LowBalance(ctx, LowBalanceAlert{
		VaultID:   vaultID,
		Balance:   result.Balance,
		Threshold: threshold,
		LastClaim: result.Amount,
	})
	metrics.RecordAlert(err)
	if err != nil {
		e.log.Warn("vault: low balance alert failed", "vault_id", vaultID, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, ev Event) {
	if e.cfg.Recorder == nil {
		return
	}
	ev.ID = uuid.New()
	ev.At = e.cfg.Clock.Now().UTC()
	err := e.cfg.Recorder.Record(ctx, ev)
	metrics.RecordAuditEvent(string(ev.Kind), err)
	if err != nil {
		e.log.Warn("vault: failed to record audit event", "kind", ev.Kind, "vault_id", ev.VaultID, "error", err)
	}
}

// GetVault returns the current state of a vault.
func (e *Engine) GetVault(ctx context.Context, id uuid.UUID) (*Vault, error) {
	return e.cfg.Store.GetVault(ctx, id)
}

// GetClaim returns wallet's claim record, zero if it was never paid.
func (e *Engine) GetClaim(ctx context.Context, id uuid.UUID, wallet solana.PublicKey) (ClaimRecord, error) {
	if _, err := e.cfg.Store.GetVault(ctx, id); err != nil {
		return ClaimRecord{}, err
	}
	return e.cfg.Store.GetClaim(ctx, id, wallet)
}

// Status returns wallet's entitlement, claimed amount and what it could
// claim right now. Non-whitelisted wallets report zero entitlement.
func (e *Engine) Status(ctx context.Context, id uuid.UUID, wallet solana.PublicKey) (WhitelistStatus, error) {
	v, err := e.cfg.Store.GetVault(ctx, id)
	if err != nil {
		return WhitelistStatus{}, err
	}
	rec, err := e.cfg.Store.GetClaim(ctx, id, wallet)
	if err != nil {
		return WhitelistStatus{}, err
	}
	entitlement, _ := v.Whitelist.Entitlement(wallet)
	return WhitelistStatus{
		Wallet:        wallet,
		Entitlement:   entitlement,
		ClaimedAmount: rec.ClaimedAmount,
		Claimable:     Claimable(entitlement, rec.ClaimedAmount),
	}, nil
}

// Claimable returns the amount wallet could claim right now, ignoring the
// vault balance.
func (e *Engine) Claimable(ctx context.Context, id uuid.UUID, wallet solana.PublicKey) (uint64, error) {
	st, err := e.Status(ctx, id, wallet)
	if err != nil {
		return 0, err
	}
	return st.Claimable, nil
}

// ListWhitelist returns every whitelist entry joined with its claim record,
// ordered by wallet address.
func (e *Engine) ListWhitelist(ctx context.Context, id uuid.UUID) ([]WhitelistStatus, error) {
	v, err := e.cfg.Store.GetVault(ctx, id)
	if err != nil {
		return nil, err
	}
	claims, err := e.cfg.Store.ListClaims(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	claimed := make(map[solana.PublicKey]uint64, len(claims))
	for _, c := range claims {
		claimed[c.Wallet] = c.ClaimedAmount
	}

	entries := v.Whitelist.Entries()
	out := make([]WhitelistStatus, 0, len(entries))
	for _, entry := range entries {
		c := claimed[entry.Wallet]
		out = append(out, WhitelistStatus{
			Wallet:        entry.Wallet,
			Entitlement:   entry.Entitlement,
			ClaimedAmount: c,
			Claimable:     Claimable(entry.Entitlement, c),
		})
	}
	return out, nil
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.cfg.Store.Ping(ctx)
}
