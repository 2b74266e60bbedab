// Package signing implements the detached request-signature protocol: the
// canonical message format and Ed25519 verification over it.
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Version tags the canonical message layout. Bump only with a wire change.
const Version = "v1"

// Separator joins canonical message fields. Nonces must never contain it.
const Separator = "|"

// Canonical builds the exact byte string a client signs for a request.
//
// Layout: v1|{METHOD}|{PATH}|{TIMESTAMP}|{NONCE}|{BODY_HASH}. The method is
// upper-cased, the path excludes any query string, and the body hash is the
// lowercase-hex SHA-256 of the raw body bytes, or "" when the body is empty.
func Canonical(method, path, timestamp, nonce string, body []byte) []byte {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	bodyHash := ""
	if len(body) > 0 {
		digest := sha256.Sum256(body)
		bodyHash = hex.EncodeToString(digest[:])
	}
	fields := []string{
		Version,
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		bodyHash,
	}
	return []byte(strings.Join(fields, Separator))
}

// ValidNonce reports whether a nonce is usable in a canonical message.
// A nonce containing the field separator would let a client shift field
// boundaries, so it is rejected outright.
func ValidNonce(nonce string) bool {
	return nonce != "" && !strings.Contains(nonce, Separator)
}

// Verify checks sigHex over message using the hex-encoded Ed25519 public key.
//
// Every failure mode collapses into a single false result: malformed hex,
// wrong key or signature length, and signature mismatch are indistinguishable
// to the caller so the endpoint cannot be used as a verification oracle.
func Verify(pubHex, sigHex string, message []byte) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// Identity normalizes a hex public key for use as a storage key.
// Returns the lowercase form and whether the input was a well-formed key.
func Identity(pubHex string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(pubHex))
	raw, err := hex.DecodeString(normalized)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return "", false
	}
	return normalized, true
}
