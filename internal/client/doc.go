// Package client implements the desktop-side activation toolkit: an
// Activator that calls the public license API with enforced timeouts and
// maps replies onto the closed outcome set, and a Vault that mirrors the
// resulting license state encrypted at rest.
//
// The vault key is derived from the device fingerprint, so the state file
// only decrypts on the machine that activated. The plaintext license key is
// never part of the persisted state; only its digest and display suffix are.
//
// Network failures, timeouts, and 5xx replies always map to the retryable
// error outcome, never to invalid or revoked, and no negative outcome is
// ever cached locally.
package client
