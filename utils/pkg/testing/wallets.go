package vaulttesting

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

// NewWallet returns the public key of a freshly generated keypair.
func NewWallet(t *testing.T) solana.PublicKey {
	t.Helper()
	w := solana.NewWallet()
	require.False(t, w.PublicKey().IsZero())
	return w.PublicKey()
}

// NewKeypair returns a freshly generated keypair.
func NewKeypair(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}
