package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/claimvault/api/metrics"
)

// AuthMode selects how the caller's wallet is established.
type AuthMode string

const (
	// AuthModeSignature requires every authenticated request to be signed by
	// the caller's wallet.
	AuthModeSignature AuthMode = "signature"
	// AuthModeTrustedHeader takes the caller from a header set by an
	// upstream gateway that has already authenticated the wallet.
	AuthModeTrustedHeader AuthMode = "trusted-header"
)

const (
	HeaderWalletPubkey    = "X-Wallet-Pubkey"
	HeaderWalletTimestamp = "X-Wallet-Timestamp"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderCallerPubkey    = "X-Caller-Pubkey"

	DefaultMaxClockSkew = 5 * time.Minute
)

func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case AuthModeSignature, AuthModeTrustedHeader:
		return AuthMode(s), nil
	default:
		return "", fmt.Errorf("unknown auth mode %q", s)
	}
}

type AuthConfig struct {
	Logger       *slog.Logger
	Mode         AuthMode
	Clock        clockwork.Clock
	MaxClockSkew time.Duration
}

func (cfg *AuthConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if _, err := ParseAuthMode(string(cfg.Mode)); err != nil {
		return err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	return nil
}

// Authenticator resolves the calling wallet of a request. In signature
// mode each signature is accepted once.
type Authenticator struct {
	log    *slog.Logger
	cfg    AuthConfig
	replay *replayCache
}

func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Authenticator{
		log:    cfg.Logger,
		cfg:    cfg,
		replay: newReplayCache(cfg.Clock, cfg.MaxClockSkew),
	}, nil
}

type callerKey struct{}

// ContextWithCaller returns a context carrying the authenticated wallet.
func ContextWithCaller(ctx context.Context, caller solana.PublicKey) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the wallet set by RequireCaller.
func CallerFromContext(ctx context.Context) (solana.PublicKey, bool) {
	caller, ok := ctx.Value(callerKey{}).(solana.PublicKey)
	return caller, ok && !caller.IsZero()
}

// authFailure is a rejected identity; reason feeds the auth failure metric.
// A zero status means 401.
type authFailure struct {
	reason  string
	message string
	status  int
	code    string
}

func (f *authFailure) Error() string {
	return f.message
}

// Authenticate returns the calling wallet of r.
func (a *Authenticator) Authenticate(r *http.Request) (solana.PublicKey, error) {
	switch a.cfg.Mode {
	case AuthModeTrustedHeader:
		return parseCaller(r.Header.Get(HeaderCallerPubkey))
	default:
		return a.verifySignature(r)
	}
}

func (a *Authenticator) verifySignature(r *http.Request) (solana.PublicKey, error) {
	pubkey := r.Header.Get(HeaderWalletPubkey)
	tsHeader := r.Header.Get(HeaderWalletTimestamp)
	sig := r.Header.Get(HeaderWalletSignature)
	if pubkey == "" || tsHeader == "" || sig == "" {
		return solana.PublicKey{}, &authFailure{reason: "missing", message: "Wallet signature headers are required"}
	}

	caller, err := parseCaller(pubkey)
	if err != nil {
		return solana.PublicKey{}, err
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return solana.PublicKey{}, &authFailure{reason: "bad_timestamp", message: "Invalid wallet timestamp"}
	}
	skew := a.cfg.Clock.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.cfg.MaxClockSkew {
		return solana.PublicKey{}, &authFailure{reason: "skew", message: "Wallet timestamp is outside the allowed window"}
	}

	body, err := readBody(r)
	if err != nil {
		return solana.PublicKey{}, err
	}

	matched, err := verifyEd25519Signature(pubkey, SignedMessage(r.Method, r.URL.Path, ts, body), sig)
	if err != nil {
		a.log.Debug("auth: malformed signature", "wallet", pubkey, "error", err)
		return solana.PublicKey{}, &authFailure{reason: "bad_signature", message: "Invalid wallet signature"}
	}
	if matched == nil {
		return solana.PublicKey{}, &authFailure{reason: "bad_signature", message: "Invalid wallet signature"}
	}
	if !a.replay.firstUse(caller.String()+"/"+string(matched), time.Unix(ts, 0)) {
		a.log.Warn("auth: replayed signature", "wallet", pubkey, "method", r.Method, "path", r.URL.Path)
		return solana.PublicKey{}, &authFailure{reason: "replay", message: "Wallet signature has already been used"}
	}
	return caller, nil
}

// readBody reads the request body for signing and puts it back for the
// handler.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, &authFailure{reason: "bad_body", message: "Request body could not be read"}
	}
	if len(body) > maxBodyBytes {
		return nil, &authFailure{
			reason:  "body_too_large",
			message: "Request body is too large",
			status:  http.StatusRequestEntityTooLarge,
			code:    "request_too_large",
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func parseCaller(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, &authFailure{reason: "missing", message: "Caller identity is required"}
	}
	caller, err := solana.PublicKeyFromBase58(s)
	if err != nil || caller.IsZero() {
		return solana.PublicKey{}, &authFailure{reason: "bad_pubkey", message: "Caller identity is not a valid wallet address"}
	}
	return caller, nil
}

// RequireCaller rejects requests without a valid caller identity with 401
// and stores the caller in the request context otherwise.
func (a *Authenticator) RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Authenticate(r)
		if err != nil {
			reason, status, code := "other", http.StatusUnauthorized, "unauthenticated"
			var failure *authFailure
			if errors.As(err, &failure) {
				reason = failure.reason
				if failure.status != 0 {
					status, code = failure.status, failure.code
				}
			}
			metrics.RecordAuthFailure(reason)
			writeError(w, status, code, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
	})
}
