// Package services contains the business logic of the license authority.
//
// Three services live here. ActivationService runs the activate / transfer /
// revoke state machine against the license store; its results form a closed
// outcome enumeration and never expose internal failure detail. Binding is
// decided by the store's guarded conditional update, so two concurrent first
// activations of the same license resolve to exactly one winner without any
// in-process locking. IssuanceService creates license rows, retrying key
// generation on digest collisions, and hands the plaintext key to the
// notification sink exactly once; the key is never persisted, logged, or
// returned. HealthService reports liveness and store reachability.
//
// Services depend on the LicenseStore interface rather than a concrete
// repository, which lets tests and dry runs substitute the in-memory store.
// State changes append to the JSONL audit log with a one-way key reference;
// plaintext keys never reach the audit trail.
package services
