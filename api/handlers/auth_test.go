package handlers_test

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/claimvault/api/handlers"
	vaulttesting "github.com/malbeclabs/claimvault/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var authNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newAuthenticator(t *testing.T, mode handlers.AuthMode) *handlers.Authenticator {
	t.Helper()
	a, err := handlers.NewAuthenticator(handlers.AuthConfig{
		Logger:       vaulttesting.NewLogger(),
		Mode:         mode,
		Clock:        clockwork.NewFakeClockAt(authNow),
		MaxClockSkew: time.Minute,
	})
	require.NoError(t, err)
	return a
}

func signRequest(t *testing.T, req *http.Request, key solana.PrivateKey, at time.Time) {
	t.Helper()
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(body))

	ts := at.Unix()
	sig, err := key.Sign([]byte(handlers.SignedMessage(req.Method, req.URL.Path, ts, body)))
	require.NoError(t, err)
	req.Header.Set(handlers.HeaderWalletPubkey, key.PublicKey().String())
	req.Header.Set(handlers.HeaderWalletTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(handlers.HeaderWalletSignature, base64.StdEncoding.EncodeToString(sig[:]))
}

func TestVault_API_AuthConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := handlers.AuthConfig{Mode: handlers.AuthModeSignature}
	require.EqualError(t, cfg.Validate(), "logger is required")

	cfg = handlers.AuthConfig{Logger: vaulttesting.NewLogger(), Mode: "oauth"}
	require.EqualError(t, cfg.Validate(), `unknown auth mode "oauth"`)

	cfg = handlers.AuthConfig{Logger: vaulttesting.NewLogger(), Mode: handlers.AuthModeTrustedHeader}
	require.NoError(t, cfg.Validate())
	require.Equal(t, handlers.DefaultMaxClockSkew, cfg.MaxClockSkew)
	require.NotNil(t, cfg.Clock)
}

func TestVault_API_SignedMessage(t *testing.T) {
	t.Parallel()
	require.Equal(t,
		"POST /api/vaults/abc/claim\n1777636800\n47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
		handlers.SignedMessage("POST", "/api/vaults/abc/claim", 1777636800, nil))
	require.Equal(t,
		"PUT /api/vaults/abc/whitelist/w\n1777636800\nLCa0a2j/xo/5m0U8HTBBNBNCLXBkg7+g+YpeiGJm564=",
		handlers.SignedMessage("PUT", "/api/vaults/abc/whitelist/w", 1777636800, []byte("foo")))
}

func TestVault_API_Authenticate_Signature(t *testing.T) {
	t.Parallel()

	a := newAuthenticator(t, handlers.AuthModeSignature)
	key := vaulttesting.NewKeypair(t)
	path := "/api/vaults/5f0c/claim"

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		signRequest(t, req, key, authNow.Add(-30*time.Second))
		caller, err := a.Authenticate(req)
		require.NoError(t, err)
		require.Equal(t, key.PublicKey(), caller)
	})

	t.Run("base58 signature", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		signRequest(t, req, key, authNow)
		raw, err := base64.StdEncoding.DecodeString(req.Header.Get(handlers.HeaderWalletSignature))
		require.NoError(t, err)
		req.Header.Set(handlers.HeaderWalletSignature, solana.SignatureFromBytes(raw).String())
		caller, err := a.Authenticate(req)
		require.NoError(t, err)
		require.Equal(t, key.PublicKey(), caller)
	})

	t.Run("missing headers", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		_, err := a.Authenticate(req)
		require.EqualError(t, err, "Wallet signature headers are required")
	})

	t.Run("timestamp outside window", func(t *testing.T) {
		t.Parallel()
		for _, at := range []time.Time{authNow.Add(-2 * time.Minute), authNow.Add(2 * time.Minute)} {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			signRequest(t, req, key, at)
			_, err := a.Authenticate(req)
			require.EqualError(t, err, "Wallet timestamp is outside the allowed window")
		}
	})

	t.Run("signature bound to method and path", func(t *testing.T) {
		t.Parallel()
		signed := httptest.NewRequest(http.MethodPost, path, nil)
		signRequest(t, signed, key, authNow)

		replay := httptest.NewRequest(http.MethodDelete, "/api/vaults/5f0c/whitelist/x", nil)
		replay.Header = signed.Header.Clone()
		_, err := a.Authenticate(replay)
		require.EqualError(t, err, "Invalid wallet signature")
	})

	t.Run("signature bound to body", func(t *testing.T) {
		t.Parallel()
		owner := vaulttesting.NewKeypair(t)
		put := "/api/vaults/5f0c/whitelist/" + vaulttesting.NewWallet(t).String()
		signed := httptest.NewRequest(http.MethodPut, put, strings.NewReader(`{"amount":10}`))
		signRequest(t, signed, owner, authNow)

		forged := httptest.NewRequest(http.MethodPut, put, strings.NewReader(`{"amount":999999}`))
		forged.Header = signed.Header.Clone()
		_, err := a.Authenticate(forged)
		require.EqualError(t, err, "Invalid wallet signature")

		caller, err := a.Authenticate(signed)
		require.NoError(t, err)
		require.Equal(t, owner.PublicKey(), caller)
		body, err := io.ReadAll(signed.Body)
		require.NoError(t, err)
		require.Equal(t, `{"amount":10}`, string(body))
	})

	t.Run("signature accepted once", func(t *testing.T) {
		t.Parallel()
		owner := vaulttesting.NewKeypair(t)
		first := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		signRequest(t, first, owner, authNow)
		_, err := a.Authenticate(first)
		require.NoError(t, err)

		again := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		again.Header = first.Header.Clone()
		_, err = a.Authenticate(again)
		require.EqualError(t, err, "Wallet signature has already been used")

		// The same signature re-encoded as base58 is still the same signature.
		raw, err := base64.StdEncoding.DecodeString(first.Header.Get(handlers.HeaderWalletSignature))
		require.NoError(t, err)
		again = httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		again.Header = first.Header.Clone()
		again.Header.Set(handlers.HeaderWalletSignature, solana.SignatureFromBytes(raw).String())
		_, err = a.Authenticate(again)
		require.EqualError(t, err, "Wallet signature has already been used")

		// A fresh signature for the same request is fine.
		next := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		signRequest(t, next, owner, authNow.Add(time.Second))
		_, err = a.Authenticate(next)
		require.NoError(t, err)
	})

	t.Run("signature by another key", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		signRequest(t, req, vaulttesting.NewKeypair(t), authNow)
		req.Header.Set(handlers.HeaderWalletPubkey, key.PublicKey().String())
		_, err := a.Authenticate(req)
		require.EqualError(t, err, "Invalid wallet signature")
	})

	t.Run("malformed values", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		signRequest(t, req, key, authNow)
		req.Header.Set(handlers.HeaderWalletTimestamp, "yesterday")
		_, err := a.Authenticate(req)
		require.EqualError(t, err, "Invalid wallet timestamp")

		req = httptest.NewRequest(http.MethodPost, path, nil)
		signRequest(t, req, key, authNow)
		req.Header.Set(handlers.HeaderWalletPubkey, "not-a-key")
		_, err = a.Authenticate(req)
		require.EqualError(t, err, "Caller identity is not a valid wallet address")

		req = httptest.NewRequest(http.MethodPost, path, nil)
		signRequest(t, req, key, authNow)
		req.Header.Set(handlers.HeaderWalletSignature, "c2hvcnQ=")
		_, err = a.Authenticate(req)
		require.EqualError(t, err, "Invalid wallet signature")
	})
}

func TestVault_API_Authenticate_TrustedHeader(t *testing.T) {
	t.Parallel()

	a := newAuthenticator(t, handlers.AuthModeTrustedHeader)
	wallet := vaulttesting.NewWallet(t)

	req := httptest.NewRequest(http.MethodPost, "/api/vaults", nil)
	req.Header.Set(handlers.HeaderCallerPubkey, wallet.String())
	caller, err := a.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, wallet, caller)

	req = httptest.NewRequest(http.MethodPost, "/api/vaults", nil)
	_, err = a.Authenticate(req)
	require.EqualError(t, err, "Caller identity is required")

	req.Header.Set(handlers.HeaderCallerPubkey, solana.PublicKey{}.String())
	_, err = a.Authenticate(req)
	require.EqualError(t, err, "Caller identity is not a valid wallet address")
}

func TestVault_API_RequireCaller(t *testing.T) {
	t.Parallel()

	a := newAuthenticator(t, handlers.AuthModeTrustedHeader)
	wallet := vaulttesting.NewWallet(t)

	var seen solana.PublicKey
	h := a.RequireCaller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := handlers.CallerFromContext(r.Context())
		require.True(t, ok)
		seen = caller
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/vaults", nil)
	req.Header.Set(handlers.HeaderCallerPubkey, wallet.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, wallet, seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/vaults", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"unauthenticated","message":"Caller identity is required"}`, rec.Body.String())
}
