package trial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keygate/internal/config"
	licenseErrors "keygate/internal/errors"
	"keygate/internal/keycodec"
	"keygate/pkg/contracts/domain"
)

// Remaining is the derived countdown for the trial window. It is
// recomputed from the persisted expiry on every call and never written
// back, so polling it once per second costs nothing on disk.
type Remaining struct {
	Days    int  `json:"days"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Expired bool `json:"expired"`
}

// WarnSeverity classifies how urgently the countdown should be surfaced.
// The tracker always reports the current truthful state; suppressing
// repeat presentation is the caller's concern.
type WarnSeverity string

const (
	WarnSeverityNone WarnSeverity = "none"
	WarnSeverityDay  WarnSeverity = "day"
	WarnSeverityHour WarnSeverity = "hour"
)

// Tracker is the explicit per-process trial state holder: one record
// cached in memory, mirrored to Storage on state-defining events only.
type Tracker struct {
	storage Storage
	clock   Clock
	logger  *slog.Logger

	mu     sync.Mutex
	rec    *domain.TrialRecord
	loaded bool
}

// NewTracker creates a trial tracker over the given storage. A nil
// clock falls back to the system clock.
func NewTracker(storage Storage, clock Clock, logger *slog.Logger) *Tracker {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		storage: storage,
		clock:   clock,
		logger:  logger.With(slog.String("component", "trial")),
	}
}

// CanStartTrial reports whether the device may start a trial: true
// unless a stored record for this fingerprint has not yet expired.
func (t *Tracker) CanStartTrial(fingerprint string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.record()
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.BelongsTo(fingerprint) {
		return true, nil
	}
	return rec.ExpiredAt(t.clock.Now()), nil
}

// StartTrial opens a fresh 14-day window for the device and persists
// it. The window is absolute duration arithmetic from the start
// instant, not a calendar increment, so it is identical across time
// zones and DST shifts. Returns ErrTrialActive while a non-expired
// record for this fingerprint exists.
func (t *Tracker) StartTrial(fingerprint string) (*domain.TrialRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.record()
	if err != nil {
		return nil, err
	}
	now := t.clock.Now().UTC()
	if existing != nil && existing.BelongsTo(fingerprint) && !existing.ExpiredAt(now) {
		return nil, licenseErrors.ErrTrialActive
	}

	token, err := keycodec.TrialToken()
	if err != nil {
		return nil, fmt.Errorf("mint trial token: %w", err)
	}

	rec := &domain.TrialRecord{
		TrialKey:          token,
		StartedAt:         now,
		ExpiresAt:         now.Add(config.TrialDuration),
		DeviceFingerprint: fingerprint,
	}
	if err := t.storage.Save(rec); err != nil {
		return nil, err
	}
	t.rec = rec
	t.loaded = true

	t.logger.Info("trial started",
		slog.String("trial_key", rec.TrialKey),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	cp := *rec
	return &cp, nil
}

// RecomputeRemaining derives the current countdown from the persisted
// expiry. Returns nil when no trial record exists. Pure in the clock;
// never persists.
func (t *Tracker) RecomputeRemaining() (*Remaining, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.record()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return remainingIn(rec.ExpiresAt.Sub(t.clock.Now())), nil
}

// ShouldWarn reports the countdown urgency: day when exactly one full
// day remains, hour when the window is inside its final hours, none
// once expired or while plenty of time is left.
func (t *Tracker) ShouldWarn() (WarnSeverity, error) {
	rem, err := t.RecomputeRemaining()
	if err != nil {
		return WarnSeverityNone, err
	}
	return warnFor(rem), nil
}

// ConvertToLicense clears the trial record after a successful paid
// activation. Clearing also re-enables future trial eligibility for
// the device; the record is the only thing that blocks one.
func (t *Tracker) ConvertToLicense() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.storage.Clear(); err != nil {
		return err
	}
	t.rec = nil
	t.loaded = true
	t.logger.Info("trial converted to license, record cleared")
	return nil
}

// Current returns a copy of the stored record, or nil when the device
// has none.
func (t *Tracker) Current() (*domain.TrialRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.record()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Watch invokes fn with the current countdown at the given cadence
// until the trial expires, the record disappears, or ctx is cancelled.
// The expired state is reported to fn once before returning.
func (t *Tracker) Watch(ctx context.Context, period time.Duration, fn func(Remaining, WarnSeverity)) error {
	tick, err := t.observe(fn)
	if err != nil || !tick {
		return err
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tick, err := t.observe(fn)
			if err != nil || !tick {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// observe delivers one countdown sample and reports whether watching
// should continue.
func (t *Tracker) observe(fn func(Remaining, WarnSeverity)) (bool, error) {
	rem, err := t.RecomputeRemaining()
	if err != nil {
		return false, err
	}
	if rem == nil {
		return false, nil
	}
	fn(*rem, warnFor(rem))
	return !rem.Expired, nil
}

// record returns the cached trial record, loading it from storage on
// first use. Callers must hold t.mu.
func (t *Tracker) record() (*domain.TrialRecord, error) {
	if t.loaded {
		return t.rec, nil
	}
	rec, err := t.storage.Load()
	if err != nil {
		return nil, err
	}
	t.rec = rec
	t.loaded = true
	return t.rec, nil
}

// remainingIn splits a duration into whole days, hours, minutes and
// seconds left. Non-positive durations are expired.
func remainingIn(d time.Duration) *Remaining {
	if d <= 0 {
		return &Remaining{Expired: true}
	}
	return &Remaining{
		Days:    int(d / (24 * time.Hour)),
		Hours:   int(d % (24 * time.Hour) / time.Hour),
		Minutes: int(d % time.Hour / time.Minute),
		Seconds: int(d % time.Minute / time.Second),
	}
}

// warnFor maps a countdown to its warning severity: day on the last
// full day, hour inside the final hours of the last day.
func warnFor(rem *Remaining) WarnSeverity {
	switch {
	case rem == nil || rem.Expired:
		return WarnSeverityNone
	case rem.Days == 1:
		return WarnSeverityDay
	case rem.Days == 0 && rem.Hours <= config.TrialWarnHours:
		return WarnSeverityHour
	}
	return WarnSeverityNone
}
