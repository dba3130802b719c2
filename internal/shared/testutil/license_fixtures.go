package testutil

import (
	"time"

	"github.com/google/uuid"

	"keygate/internal/keycodec"
	"keygate/pkg/contracts/domain"
)

// Well-known raw keys drawn from the production alphabet. Tests that need a
// key whose digest is reproducible use these instead of generating fresh ones.
const (
	KeyAlpha   = "ABCD2345EFGH6789"
	KeyBravo   = "QRST6789UVWX2345"
	KeyCharlie = "JKMN4567PQRS8923"
)

// Stable device fingerprints for binding scenarios.
const (
	FingerprintAlpha = "fp-9c1e4a7d52b3f688"
	FingerprintBravo = "fp-27d8e05143ca9bb1"
	FingerprintGamma = "fp-b44f19a6c7e2d035"
)

// OwnerEmail is the default contact on fixture licenses.
const OwnerEmail = "owner@example.com"

// ActiveLicense builds an issued, never-activated license row for the given
// raw key. Callers adjust fields directly for scenario variations.
func ActiveLicense(rawKey string) *domain.License {
	normalized := keycodec.Normalize(rawKey)
	now := time.Now().UTC()
	return &domain.License{
		ID:         uuid.New().String(),
		KeyDigest:  keycodec.Digest(normalized),
		KeySuffix:  keycodec.Suffix(normalized),
		OwnerEmail: OwnerEmail,
		OwnerName:  "Fixture Owner",
		PlanType:   domain.PlanStandard,
		Status:     domain.LicenseStatusActive,
		Source:     domain.SourcePurchase,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// BoundLicense builds a license already claimed by the given fingerprint.
func BoundLicense(rawKey, fingerprint string) *domain.License {
	lic := ActiveLicense(rawKey)
	activated := time.Now().UTC().Add(-24 * time.Hour)
	lic.DeviceBinding = fingerprint
	lic.ActivatedAt = &activated
	return lic
}

// RevokedLicense builds a revoked license. The prior binding is kept on the
// row, matching how revocation leaves the audit trail intact.
func RevokedLicense(rawKey, fingerprint string) *domain.License {
	lic := BoundLicense(rawKey, fingerprint)
	lic.Status = domain.LicenseStatusRevoked
	return lic
}

// MalformedKeys enumerates activation inputs that must collapse into the
// generic invalid outcome before any store lookup.
func MalformedKeys() map[string]string {
	return map[string]string{
		"empty":             "",
		"whitespace":        "   ",
		"too_short":         "ABCD-2345",
		"too_long":          "ABCD-2345-EFGH-6789-KMNP",
		"ambiguous_symbols": "ABCD-1345-EFGH-O789",
		"punctuation":       "ABCD-23@5-EFGH-6789",
		"null_byte":         "ABCD-2345\x00EFGH-6789",
	}
}
