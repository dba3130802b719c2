// Package trial implements the client-local offline trial window.
//
// A trial is a time-boxed, device-scoped grant with no server
// validation. The Tracker holds the single in-memory record for this
// device, mirrored to a JSON file through an injected Storage. All
// countdown math is absolute duration arithmetic on the persisted
// expiry instant; recomputation is pure in the injected Clock and safe
// to run once per second without touching disk.
package trial
