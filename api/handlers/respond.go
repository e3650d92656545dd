package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/claimvault/api/handlers/dberror"
	"github.com/malbeclabs/claimvault/api/metrics"
	"github.com/malbeclabs/claimvault/ledger/pkg/transfer"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// StatusFor maps an engine error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	var verr *vault.Error
	switch {
	case errors.As(err, &verr):
		switch verr {
		case vault.ErrNotVaultOwner, vault.ErrUnauthorizedWallet:
			return http.StatusForbidden, verr.Code
		case vault.ErrVaultEmpty, vault.ErrAlreadyClaimed, vault.ErrInsufficientAmount:
			return http.StatusConflict, verr.Code
		case vault.ErrVaultNotFound:
			return http.StatusNotFound, verr.Code
		default:
			return http.StatusBadRequest, verr.Code
		}
	case errors.Is(err, vault.ErrTransfersDisabled):
		return http.StatusServiceUnavailable, "transfers_disabled"
	case transfer.IsError(err):
		return http.StatusBadGateway, "transfer_failed"
	case dberror.IsTransient(err):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeEngineError writes err as an ErrorResponse. Vault errors carry their
// own message; infrastructure failures get a generic one and are logged.
func writeEngineError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)

	var verr *vault.Error
	if errors.As(err, &verr) {
		writeError(w, status, code, verr.Message)
		return
	}

	switch code {
	case "transfer_failed":
		log.Warn("api: transfer failed", "path", r.URL.Path, "error", err)
		writeError(w, status, code, "Token transfer failed. Nothing was claimed; please try again.")
	case "transfers_disabled":
		writeError(w, status, code, "Claims are not enabled on this server.")
	case "storage_unavailable":
		metrics.RecordDBError(true)
		log.Warn("api: storage unavailable", "path", r.URL.Path, "error", err)
		writeError(w, status, code, dberror.UserMessage(err))
	default:
		metrics.RecordDBError(false)
		log.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		captureException(r, err)
		writeError(w, status, code, "An unexpected error occurred. Please try again.")
	}
}

func captureException(r *http.Request, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
