package vault

import "errors"

// Error is a user-visible vault failure with a stable machine-readable code.
// The predefined values below are compared by identity with errors.Is.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrNotVaultOwner = &Error{
		Code:    "not_vault_owner",
		Message: "Only the vault owner can modify the whitelist",
	}
	ErrUnauthorizedWallet = &Error{
		Code:    "unauthorized_wallet",
		Message: "Wallet is not authorized to claim",
	}
	ErrVaultEmpty = &Error{
		Code:    "vault_empty",
		Message: "Vault is empty",
	}
	ErrAlreadyClaimed = &Error{
		Code:    "already_claimed",
		Message: "Wallet has already claimed tokens",
	}
	ErrInsufficientAmount = &Error{
		Code:    "insufficient_amount",
		Message: "Insufficient claimable amount",
	}

	ErrVaultNotFound = &Error{
		Code:    "vault_not_found",
		Message: "Vault not found",
	}
	ErrInvalidIdentity = &Error{
		Code:    "invalid_identity",
		Message: "Caller identity is missing or invalid",
	}
)

// ErrTransfersDisabled is returned by Claim on an engine built without a
// Transferer (e.g. the admin CLI).
var ErrTransfersDisabled = errors.New("vault: transfers are not configured")

// ErrorCode returns the code of a vault error anywhere in err's chain, or
// the empty string.
func ErrorCode(err error) string {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ""
}

// IsClaimRejection reports whether err is one of the claim guard failures.
func IsClaimRejection(err error) bool {
	return errors.Is(err, ErrUnauthorizedWallet) ||
		errors.Is(err, ErrVaultEmpty) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrInsufficientAmount)
}
