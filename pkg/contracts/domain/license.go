// Package domain contains the core domain models for the KeyGate license service.
// These types serve as the Single Source of Truth (SSOT) for all layers of the
// application: the authority server, the operator tooling, and the client toolkit.
package domain

import (
	"time"
)

// License represents one issued license row. The plaintext key is never part of
// this model; the digest is the sole lookup handle and the suffix is the only
// fragment retained for human display.
type License struct {
	ID            string     `json:"id" db:"id" validate:"required,uuid4"`
	KeyDigest     string     `json:"key_digest" db:"key_digest" validate:"required,len=64,hexadecimal"`
	KeySuffix     string     `json:"key_suffix" db:"key_suffix" validate:"required,len=4"`
	OwnerEmail    string     `json:"owner_email" db:"owner_email" validate:"required,email"`
	OwnerName     string     `json:"owner_name,omitempty" db:"owner_name"`
	PlanType      PlanType   `json:"plan_type" db:"plan_type" validate:"required"`
	Status        LicenseStatus `json:"status" db:"status" validate:"required"`
	DeviceBinding string     `json:"device_binding,omitempty" db:"device_binding"`
	Source        IssuanceSource `json:"source" db:"source"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// IsBound reports whether the license has been claimed by a device.
func (l *License) IsBound() bool {
	return l.DeviceBinding != ""
}

// BoundTo reports whether the license is bound to the given fingerprint.
func (l *License) BoundTo(fingerprint string) bool {
	return l.DeviceBinding != "" && l.DeviceBinding == fingerprint
}

// IsRevoked reports whether the license has been administratively terminated.
func (l *License) IsRevoked() bool {
	return l.Status == LicenseStatusRevoked
}

// DisplaySuffix returns the support-facing rendering of the stored suffix,
// e.g. "****-7XK2". The suffix is not secret-equivalent and must never be
// accepted as a credential.
func (l *License) DisplaySuffix() string {
	return "****-" + l.KeySuffix
}

// LicenseStatus represents the lifecycle state of a license. The only
// transition is active to revoked and it is never reversed automatically.
type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// PlanType represents the product tier a license grants.
type PlanType string

const (
	PlanStandard     PlanType = "standard"
	PlanProfessional PlanType = "professional"
	PlanEnterprise   PlanType = "enterprise"
)

// Valid reports whether the plan is one of the known tiers.
func (p PlanType) Valid() bool {
	switch p {
	case PlanStandard, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

// Label returns the human-readable plan name used in issuance notifications.
func (p PlanType) Label() string {
	switch p {
	case PlanStandard:
		return "Standard"
	case PlanProfessional:
		return "Professional"
	case PlanEnterprise:
		return "Enterprise"
	}
	return string(p)
}

// IssuanceSource records what triggered license creation.
type IssuanceSource string

const (
	SourcePurchase     IssuanceSource = "purchase"
	SourcePartnerGrant IssuanceSource = "partner"
)

// Valid reports whether the source tag is one of the known origins.
func (s IssuanceSource) Valid() bool {
	return s == SourcePurchase || s == SourcePartnerGrant
}

// ActivationOutcome is the closed result enumeration returned by the
// activation operations. Handlers and clients must never surface anything
// outside this set; internal failure detail stays in server-side logs.
type ActivationOutcome string

const (
	// OutcomeActivated covers both the first successful claim of an unbound
	// license and idempotent re-activation from the already-bound device.
	OutcomeActivated ActivationOutcome = "activated"
	// OutcomeTransferred is returned only by the transfer operation after an
	// unconditional rebind.
	OutcomeTransferred ActivationOutcome = "transferred"
	// OutcomeDeviceMismatch means the license is bound to a different device.
	// State is not mutated; the caller should offer a transfer.
	OutcomeDeviceMismatch ActivationOutcome = "device_mismatch"
	// OutcomeInvalid collapses malformed keys and unknown digests into one
	// result so responses cannot be used to enumerate issued keys.
	OutcomeInvalid ActivationOutcome = "invalid"
	// OutcomeRevoked is terminal; no retry or transfer can succeed.
	OutcomeRevoked ActivationOutcome = "revoked"
	// OutcomeError marks transient failures (store unreachable, timeout).
	// Always safe to retry and never cached as a negative result.
	OutcomeError ActivationOutcome = "error"
)

// Terminal reports whether the outcome is final for this key and device, as
// opposed to retryable or recoverable through transfer.
func (o ActivationOutcome) Terminal() bool {
	return o == OutcomeInvalid || o == OutcomeRevoked
}
