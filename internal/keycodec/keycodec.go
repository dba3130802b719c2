// Package keycodec implements the license key format: cryptographically
// random generation, input normalization, SHA-256 digesting for storage
// lookup, and display helpers (grouping, suffix, masking).
//
// Keys are 16 symbols drawn from a 31-symbol alphabet (digits 2-9 and
// uppercase letters excluding I, L, and O, which read like 1 and 0 in
// most fonts), giving 16*log2(31) ~ 79 bits of entropy. Keys are shown
// to humans as XXXX-XXXX-XXXX-XXXX; normalization accepts any mix of
// case, dashes, spaces, and underscores, so the digest of a key is the
// same however the user typed it.
//
// The codec never stores or logs plaintext keys. Persisted lookups use
// Digest; log lines use Mask or AuditRef.
package keycodec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Alphabet is the key symbol set. Order matters: generation indexes
	// into it, so changing it invalidates nothing already issued (digests
	// are over the symbols themselves) but changes future key shapes.
	Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	// KeyLength is the symbol count of a normalized key.
	KeyLength = 16

	// GroupSize is the display grouping width (XXXX-XXXX-XXXX-XXXX).
	GroupSize = 4

	// SuffixLength is the number of trailing symbols kept for display
	// after issuance. Anyone holding only the suffix cannot activate.
	SuffixLength = 4

	// TrialPrefix marks client-local trial tokens (TRIAL-XXXX-XXXX).
	// Trial tokens are display identifiers, not secrets.
	TrialPrefix = "TRIAL"

	trialSymbols = 8
)

// Generate returns a new raw 16-symbol key drawn from Alphabet using
// crypto/rand. The result is already normalized.
func Generate() (string, error) {
	symbols, err := randomSymbols(KeyLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}
	return symbols, nil
}

// TrialToken returns a display token for a new trial, e.g. TRIAL-7KQ2-9XWM.
func TrialToken() (string, error) {
	symbols, err := randomSymbols(trialSymbols)
	if err != nil {
		return "", fmt.Errorf("failed to generate trial token: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", TrialPrefix, symbols[:GroupSize], symbols[GroupSize:]), nil
}

// randomSymbols draws n unbiased symbols from Alphabet. Bytes at or
// above the largest multiple of len(Alphabet) are rejected so every
// symbol is equally likely.
func randomSymbols(n int) (string, error) {
	limit := byte(256 - (256 % len(Alphabet))) // 248 for a 31-symbol alphabet

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// Normalize strips display formatting from user input: surrounding
// whitespace, dashes, inner spaces, and underscores are removed and the
// result is uppercased. Applied identically at issuance and activation
// so digests always match.
func Normalize(input string) string {
	cleaned := strings.TrimSpace(input)
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "_", "")
	return strings.ToUpper(cleaned)
}

// ValidNormalized reports whether a normalized key has exactly KeyLength
// symbols, all from Alphabet. Activation rejects invalid keys before any
// store lookup.
func ValidNormalized(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if !strings.ContainsRune(Alphabet, rune(key[i])) {
			return false
		}
	}
	return true
}

// Digest returns the deterministic SHA-256 hex digest (64 lowercase
// chars) of a normalized key. Unsalted on purpose: the digest is the
// lookup index, and the key space (~79 bits, uniformly random) resists
// brute force on its own.
func Digest(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Suffix returns the trailing SuffixLength symbols of a normalized key,
// the only fragment retained for support displays.
func Suffix(normalized string) string {
	if len(normalized) < SuffixLength {
		return normalized
	}
	return normalized[len(normalized)-SuffixLength:]
}

// Format renders a normalized key for display as XXXX-XXXX-XXXX-XXXX.
// Inputs of unexpected length are returned unchanged.
func Format(normalized string) string {
	if len(normalized) != KeyLength {
		return normalized
	}
	groups := make([]string, 0, KeyLength/GroupSize)
	for i := 0; i < KeyLength; i += GroupSize {
		groups = append(groups, normalized[i:i+GroupSize])
	}
	return strings.Join(groups, "-")
}

// Mask redacts a key for log output, keeping the first and last four
// symbols: ABCD****WXYZ. Inputs too short to mask meaningfully collapse
// to "****".
func Mask(key string) string {
	normalized := Normalize(key)
	if len(normalized) < 2*SuffixLength {
		return "****"
	}
	return normalized[:SuffixLength] + "****" + normalized[len(normalized)-SuffixLength:]
}

// AuditRef derives a short stable reference for audit lines from a key
// digest: the first 16 hex chars of SHA-256 over the digest text. Audit
// readers can correlate entries per license without learning the lookup
// digest itself.
func AuditRef(digest string) string {
	sum := sha256.Sum256([]byte(digest))
	return hex.EncodeToString(sum[:])[:16]
}
