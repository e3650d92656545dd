package handlers

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/mr-tron/base58"
)

// SignedMessage is the text a wallet signs to authenticate one request:
//
//	<METHOD> <PATH>\n<unix seconds>\n<base64 sha256 of the body>
//
// An empty body hashes like any other, so requests without one still carry
// the third line.
func SignedMessage(method, path string, timestamp int64, body []byte) string {
	sum := sha256.Sum256(body)
	return method + " " + path + "\n" + strconv.FormatInt(timestamp, 10) + "\n" + base64.StdEncoding.EncodeToString(sum[:])
}

// verifyEd25519Signature verifies an Ed25519 signature made by a Solana
// wallet and returns the decoded signature that matched, or nil.
func verifyEd25519Signature(publicKeyBase58, message, signature string) ([]byte, error) {
	publicKeyBytes, err := base58.Decode(publicKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}

	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
	}

	candidates := decodeSignature(signature)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("failed to decode signature: expected %d bytes in base64 or base58", ed25519.SignatureSize)
	}

	for _, sig := range candidates {
		if ed25519.Verify(ed25519.PublicKey(publicKeyBytes), []byte(message), sig) {
			return sig, nil
		}
	}
	return nil, nil
}

// decodeSignature returns every signature-sized reading of s as standard,
// URL-safe or unpadded base64, or base58 as printed by Solana CLI tooling.
// Unpadded base64 and base58 overlap, so more than one may be returned.
func decodeSignature(s string) [][]byte {
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base58.Decode,
	}
	var out [][]byte
	for _, decode := range decoders {
		if b, err := decode(s); err == nil && len(b) == ed25519.SignatureSize {
			out = append(out, b)
		}
	}
	return out
}
