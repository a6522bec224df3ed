// Package identity validates node pubkeys. An identity is the base58 form
// of a 32-byte ed25519 public key; gossip also carries garbage in that
// field (hostnames, truncated keys), so syntactic validation gates whether
// a record may be keyed by identity at all.
package identity

import (
	"crypto/ed25519"

	"github.com/btcsuite/btcutil/base58"
)

const (
	minLen = 32
	maxLen = 44
)

// Valid reports whether s is a syntactically valid node identity:
// base58, plausible length, decoding to exactly one ed25519 key.
func Valid(s string) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	decoded := base58.Decode(s)
	return len(decoded) == ed25519.PublicKeySize
}

// Short returns a display form (first 8 chars) for logs.
func Short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
