package domain

import (
	"time"
)

// TrialRecord is the client-local record of a device's offline trial
// window. It is mirrored to a single JSON file per device and rewritten
// only on state-defining events (start, conversion), never on countdown
// ticks. The trial key is a display token, not a credential.
type TrialRecord struct {
	TrialKey          string    `json:"trial_key"`
	StartedAt         time.Time `json:"started_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	DeviceFingerprint string    `json:"device_fingerprint"`
}

// ExpiredAt reports whether the trial window has closed as of now.
// Expiry is always derived from the persisted window, never stored.
func (r *TrialRecord) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// BelongsTo reports whether the record was started for the given
// device fingerprint.
func (r *TrialRecord) BelongsTo(fingerprint string) bool {
	return r.DeviceFingerprint == fingerprint
}
