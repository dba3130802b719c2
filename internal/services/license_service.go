package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/keycodec"
	"keygate/pkg/contracts/domain"
)

// ActivationService runs the activate / transfer / revoke state machine.
// Activate and Transfer return a terminal outcome from the closed enumeration
// with a nil error; a non-nil error marks a transient failure (store
// unreachable, deadline exceeded) that the caller must report as retryable,
// never as invalid or revoked.
type ActivationService interface {
	Activate(ctx context.Context, key, fingerprint string) (*ActivationResult, error)
	Transfer(ctx context.Context, key, fingerprint string) (*ActivationResult, error)
	Revoke(ctx context.Context, licenseID string) (*RevocationResult, error)
}

// ActivationResult is the terminal outcome of an activate or transfer call.
// PlanType is set only when the outcome grants access. Detail carries the
// user-facing explanation for refusals; device_mismatch is the only outcome
// whose detail names a remedial action.
type ActivationResult struct {
	Outcome  domain.ActivationOutcome
	PlanType domain.PlanType
	Detail   string
}

// RevocationResult reports an administrative revocation. Revocation is
// absorbing, so repeating it succeeds with a distinguishing message.
type RevocationResult struct {
	OK      bool
	Message string
}

type activationService struct {
	store   LicenseStore
	audit   *AuditLog
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
}

// NewActivationService wires the state machine to its store. The audit log
// and metrics may be nil; both degrade to no-ops.
func NewActivationService(store LicenseStore, audit *AuditLog, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) ActivationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &activationService{
		store:   store,
		audit:   audit,
		metrics: metrics,
		logger:  logger.With(slog.String("service", "activation")),
	}
}

// Activate claims the license for the fingerprint. The store's conditional
// update decides the claim: it succeeds for an unbound license or for the
// device already holding it, and a refusal is classified afterwards by one
// read. Malformed and unknown keys collapse into the same invalid outcome so
// responses cannot be used to probe for issued keys.
func (s *activationService) Activate(ctx context.Context, key, fingerprint string) (*ActivationResult, error) {
	start := time.Now()

	normalized := keycodec.Normalize(key)
	if !keycodec.ValidNormalized(normalized) {
		s.observe(ctx, "activate", domain.OutcomeInvalid, start)
		return resultFor(domain.OutcomeInvalid), nil
	}
	digest := keycodec.Digest(normalized)
	keyRef := keycodec.AuditRef(digest)

	s.logger.InfoContext(ctx, "activation attempt",
		slog.String("trace_id", traceIDFrom(ctx)),
		slog.String("key_masked", keycodec.Mask(key)),
		slog.String("key_ref", keyRef),
		slog.String("device_id", truncateDevice(fingerprint)),
	)

	claimed, err := s.store.BindDevice(ctx, digest, fingerprint)
	if err != nil {
		s.observe(ctx, "activate", domain.OutcomeError, start)
		s.logger.ErrorContext(ctx, "device bind failed",
			slog.String("key_ref", keyRef),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("bind device: %w", err)
	}

	if claimed {
		lic, err := s.store.GetByDigest(ctx, digest)
		if err != nil {
			// The claim is durable; only the plan annotation is missing.
			s.logger.WarnContext(ctx, "post-bind read failed",
				slog.String("key_ref", keyRef),
				slog.String("error", err.Error()),
			)
			s.observe(ctx, "activate", domain.OutcomeActivated, start)
			return &ActivationResult{Outcome: domain.OutcomeActivated}, nil
		}
		s.audit.Record(ctx, AuditEntry{
			Action:    auditActionActivated,
			LicenseID: lic.ID,
			KeyRef:    keyRef,
			KeySuffix: lic.KeySuffix,
			DeviceID:  fingerprint,
		})
		s.observe(ctx, "activate", domain.OutcomeActivated, start)
		return &ActivationResult{Outcome: domain.OutcomeActivated, PlanType: lic.PlanType}, nil
	}

	outcome, err := s.classifyRefusal(ctx, digest, fingerprint)
	if err != nil {
		s.observe(ctx, "activate", domain.OutcomeError, start)
		return nil, err
	}
	s.observe(ctx, "activate", outcome, start)
	return resultFor(outcome), nil
}

// Transfer rebinds the license to the fingerprint. Possession of the
// plaintext key authorizes the rebind; there is no secondary confirmation
// step. The rebind is unconditional for an active license, whatever device
// currently holds it.
func (s *activationService) Transfer(ctx context.Context, key, fingerprint string) (*ActivationResult, error) {
	start := time.Now()

	normalized := keycodec.Normalize(key)
	if !keycodec.ValidNormalized(normalized) {
		s.observe(ctx, "transfer", domain.OutcomeInvalid, start)
		return resultFor(domain.OutcomeInvalid), nil
	}
	digest := keycodec.Digest(normalized)
	keyRef := keycodec.AuditRef(digest)

	s.logger.InfoContext(ctx, "transfer attempt",
		slog.String("trace_id", traceIDFrom(ctx)),
		slog.String("key_masked", keycodec.Mask(key)),
		slog.String("key_ref", keyRef),
		slog.String("device_id", truncateDevice(fingerprint)),
	)

	rebound, err := s.store.RebindDevice(ctx, digest, fingerprint)
	if err != nil {
		s.observe(ctx, "transfer", domain.OutcomeError, start)
		s.logger.ErrorContext(ctx, "device rebind failed",
			slog.String("key_ref", keyRef),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("rebind device: %w", err)
	}

	if rebound {
		lic, err := s.store.GetByDigest(ctx, digest)
		if err != nil {
			s.logger.WarnContext(ctx, "post-rebind read failed",
				slog.String("key_ref", keyRef),
				slog.String("error", err.Error()),
			)
			s.observe(ctx, "transfer", domain.OutcomeTransferred, start)
			return &ActivationResult{Outcome: domain.OutcomeTransferred}, nil
		}
		s.audit.Record(ctx, AuditEntry{
			Action:    auditActionTransferred,
			LicenseID: lic.ID,
			KeyRef:    keyRef,
			KeySuffix: lic.KeySuffix,
			DeviceID:  fingerprint,
		})
		s.observe(ctx, "transfer", domain.OutcomeTransferred, start)
		return &ActivationResult{Outcome: domain.OutcomeTransferred, PlanType: lic.PlanType}, nil
	}

	outcome, err := s.classifyRefusal(ctx, digest, fingerprint)
	if err != nil {
		s.observe(ctx, "transfer", domain.OutcomeError, start)
		return nil, err
	}
	if outcome == domain.OutcomeDeviceMismatch {
		// An active row cannot refuse an unconditional rebind; the write
		// raced a concurrent state change. Report retryable, not terminal.
		s.observe(ctx, "transfer", domain.OutcomeError, start)
		return nil, fmt.Errorf("rebind lost to concurrent write: %w", licenseErrors.ErrStoreUnavailable)
	}
	s.observe(ctx, "transfer", outcome, start)
	return resultFor(outcome), nil
}

// Revoke terminates the license. Only the administrative surface reaches
// this; it targets the license id, never a key. Revocation is absorbing and
// there is no un-revoke path.
func (s *activationService) Revoke(ctx context.Context, licenseID string) (*RevocationResult, error) {
	start := time.Now()

	s.logger.InfoContext(ctx, "revocation requested",
		slog.String("trace_id", traceIDFrom(ctx)),
		slog.String("license_id", licenseID),
	)

	revoked, err := s.store.Revoke(ctx, licenseID)
	if err != nil {
		infrastructure.RecordLicenseOperation(ctx, s.metrics, "revoke", "error", time.Since(start))
		s.logger.ErrorContext(ctx, "revocation failed",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("revoke license: %w", err)
	}

	if revoked {
		entry := AuditEntry{Action: auditActionRevoked, LicenseID: licenseID}
		if lic, err := s.store.GetByID(ctx, licenseID); err == nil {
			entry.KeyRef = keycodec.AuditRef(lic.KeyDigest)
			entry.KeySuffix = lic.KeySuffix
			entry.DeviceID = lic.DeviceBinding
		}
		s.audit.Record(ctx, entry)
		infrastructure.RecordLicenseOperation(ctx, s.metrics, "revoke", "revoked", time.Since(start))
		return &RevocationResult{OK: true, Message: "license revoked"}, nil
	}

	lic, err := s.store.GetByID(ctx, licenseID)
	switch {
	case errors.Is(err, licenseErrors.ErrLicenseNotFound):
		infrastructure.RecordLicenseOperation(ctx, s.metrics, "revoke", "not_found", time.Since(start))
		return nil, fmt.Errorf("revoke license %s: %w", licenseID, licenseErrors.ErrLicenseNotFound)
	case err != nil:
		infrastructure.RecordLicenseOperation(ctx, s.metrics, "revoke", "error", time.Since(start))
		return nil, fmt.Errorf("classify refused revocation: %w", err)
	case lic.IsRevoked():
		infrastructure.RecordLicenseOperation(ctx, s.metrics, "revoke", "already_revoked", time.Since(start))
		return &RevocationResult{OK: true, Message: "license already revoked"}, nil
	default:
		infrastructure.RecordLicenseOperation(ctx, s.metrics, "revoke", "error", time.Since(start))
		return nil, fmt.Errorf("license %s not revoked: %w", licenseID, licenseErrors.ErrStoreUnavailable)
	}
}

// classifyRefusal explains a conditional update that matched no row. The
// guarded write has already decided this request lost; the read only names
// the reason and never mutates state.
func (s *activationService) classifyRefusal(ctx context.Context, digest, fingerprint string) (domain.ActivationOutcome, error) {
	lic, err := s.store.GetByDigest(ctx, digest)
	switch {
	case errors.Is(err, licenseErrors.ErrLicenseNotFound):
		// Unknown digests report exactly like malformed input.
		return domain.OutcomeInvalid, nil
	case err != nil:
		return "", fmt.Errorf("classify refused claim: %w", err)
	case lic.IsRevoked():
		return domain.OutcomeRevoked, nil
	case lic.IsBound() && !lic.BoundTo(fingerprint):
		return domain.OutcomeDeviceMismatch, nil
	default:
		// The row changed between the write and this read.
		return "", fmt.Errorf("license state changed during claim: %w", licenseErrors.ErrStoreUnavailable)
	}
}

// observe records the outcome on metrics and the active span.
func (s *activationService) observe(ctx context.Context, operation string, outcome domain.ActivationOutcome, start time.Time) {
	infrastructure.RecordLicenseOperation(ctx, s.metrics, operation, string(outcome), time.Since(start))
	infrastructure.SetSpanAttributes(ctx, map[string]interface{}{
		"license.operation": operation,
		"license.outcome":   string(outcome),
	})
}

// resultFor builds the user-facing result for a terminal outcome.
func resultFor(outcome domain.ActivationOutcome) *ActivationResult {
	switch outcome {
	case domain.OutcomeInvalid:
		return &ActivationResult{Outcome: outcome, Detail: "license key is not valid"}
	case domain.OutcomeRevoked:
		return &ActivationResult{Outcome: outcome, Detail: "license has been revoked"}
	case domain.OutcomeDeviceMismatch:
		return &ActivationResult{Outcome: outcome, Detail: "license is bound to another device; transfer it to use it here"}
	}
	return &ActivationResult{Outcome: outcome}
}
