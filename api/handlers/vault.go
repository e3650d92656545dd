package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/malbeclabs/claimvault/api/handlers/dberror"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

const maxBodyBytes = 1 << 16

type VaultConfig struct {
	Logger *slog.Logger
	Engine *vault.Engine
	// RequestTimeout bounds each engine call. Claims include the transfer,
	// so this must cover the transferer's retries.
	RequestTimeout time.Duration
}

func (cfg *VaultConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return nil
}

// Vault serves the vault HTTP endpoints on top of a vault.Engine.
type Vault struct {
	log    *slog.Logger
	cfg    VaultConfig
	engine *vault.Engine
}

func NewVault(cfg VaultConfig) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Vault{log: cfg.Logger, cfg: cfg, engine: cfg.Engine}, nil
}

type CreateVaultRequest struct {
	Amount         *uint64 `json:"amount"`
	HoldingAccount string  `json:"holding_account,omitempty"`
}

type WhitelistRequest struct {
	Amount *uint64 `json:"amount"`
}

// CreateVault handles POST /api/vaults. The caller becomes the owner.
func (h *Vault) CreateVault(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req CreateVaultRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount is required")
		return
	}
	var holding solana.PublicKey
	if req.HoldingAccount != "" {
		var err error
		holding, err = solana.PublicKeyFromBase58(req.HoldingAccount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "holding_account is not a valid address")
			return
		}
	}

	ctx, cancel := h.context(r)
	defer cancel()

	v, err := h.engine.Initialize(ctx, caller, vault.InitializeParams{
		Amount:         *req.Amount,
		HoldingAccount: holding,
	})
	if err != nil {
		writeEngineError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v.Summary())
}

// GetVault handles GET /api/vaults/{vaultID}.
func (h *Vault) GetVault(w http.ResponseWriter, r *http.Request) {
	id, ok := vaultIDParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	v, err := dberror.Retry(ctx, dberror.DefaultRetryConfig(), func() (*vault.Vault, error) {
		return h.engine.GetVault(ctx, id)
	})
	if err != nil {
		writeEngineError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Summary())
}

// ListWhitelist handles GET /api/vaults/{vaultID}/whitelist.
func (h *Vault) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	id, ok := vaultIDParam(w, r)
	if !ok {
		return
	}
	page, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	entries, err := dberror.Retry(ctx, dberror.DefaultRetryConfig(), func() ([]vault.WhitelistStatus, error) {
		return h.engine.ListWhitelist(ctx, id)
	})
	if err != nil {
		writeEngineError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Paginate(entries, page))
}

// PutWhitelistEntry handles PUT /api/vaults/{vaultID}/whitelist/{wallet}.
// It inserts or overwrites the wallet's entitlement.
func (h *Vault) PutWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := vaultIDParam(w, r)
	if !ok {
		return
	}
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}
	var req WhitelistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount is required")
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	if err := h.engine.AddToWhitelist(ctx, id, caller, wallet, *req.Amount); err != nil {
		writeEngineError(h.log, w, r, err)
		return
	}
	st, err := h.engine.Status(ctx, id, wallet)
	if err != nil {
		writeEngineError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteWhitelistEntry handles DELETE /api/vaults/{vaultID}/whitelist/{wallet}.
func (h *Vault) DeleteWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := vaultIDParam(w, r)
	if !ok {
		return
	}
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	if err := h.engine.RemoveFromWhitelist(ctx, id, caller, wallet); err != nil {
		writeEngineError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostClaim handles POST /api/vaults/{vaultID}/claim for the caller.
func (h *Vault) PostClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := vaultIDParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	span := sentry.StartSpan(ctx, "vault.claim", sentry.WithDescription("claim "+id.String()))
	defer span.Finish()
	span.SetData("wallet", caller.String())

	result, err := h.engine.Claim(span.Context(), id, caller)
	if err != nil {
		if vault.IsClaimRejection(err) {
			span.Status = sentry.SpanStatusFailedPrecondition
		} else {
			span.Status = sentry.SpanStatusInternalError
		}
		writeEngineError(h.log, w, r, err)
		return
	}
	span.Status = sentry.SpanStatusOK
	writeJSON(w, http.StatusOK, result)
}

// GetClaim handles GET /api/vaults/{vaultID}/claims/{wallet}.
func (h *Vault) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := vaultIDParam(w, r)
	if !ok {
		return
	}
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	st, err := dberror.Retry(ctx, dberror.DefaultRetryConfig(), func() (vault.WhitelistStatus, error) {
		return h.engine.Status(ctx, id, wallet)
	})
	if err != nil {
		writeEngineError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Ready handles GET /readyz.
func (h *Vault) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.engine.Ping(ctx); err != nil {
		h.log.Debug("readyz: store not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("store not ready\n")); err != nil {
			h.log.Error("failed to write readyz response", "error", err)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		h.log.Error("failed to write readyz response", "error", err)
	}
}

func (h *Vault) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
}

func (h *Vault) caller(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Caller identity is required")
		return solana.PublicKey{}, false
	}
	return caller, true
}

func vaultIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "vaultID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_vault_id", "Invalid vault ID")
		return uuid.UUID{}, false
	}
	return id, true
}

func walletParam(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	wallet, err := solana.PublicKeyFromBase58(chi.URLParam(r, "wallet"))
	if err != nil || wallet.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_wallet", "Invalid wallet address")
		return solana.PublicKey{}, false
	}
	return wallet, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}
