package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"keygate/internal/config"
	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/keycodec"
	"keygate/internal/notify"
	"keygate/pkg/contracts/domain"
)

// IssuanceService creates license rows on purchase events and partner
// grants. The plaintext key exists only inside Issue and the notification
// payload; the result carries the display suffix and nothing else.
type IssuanceService interface {
	Issue(ctx context.Context, input IssuanceInput) (*IssuanceResult, error)
	// DrainNotifications blocks until in-flight notice deliveries settle.
	// Shutdown and the operator CLI call it so pending notices are not lost.
	DrainNotifications()
}

// IssuanceInput describes one license to create. Plan and Source default to
// standard / purchase when empty.
type IssuanceInput struct {
	OwnerEmail string
	OwnerName  string
	Plan       domain.PlanType
	Source     domain.IssuanceSource
}

// IssuanceResult is the redacted confirmation returned to the caller.
type IssuanceResult struct {
	LicenseID string
	KeySuffix string
}

type issuanceService struct {
	store    LicenseStore
	notifier notify.Notifier
	audit    *AuditLog
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger
	validate *validator.Validate

	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

// NewIssuanceService wires issuance to the store and the notification sink.
// A nil notifier disables notices; audit and metrics may also be nil.
func NewIssuanceService(store LicenseStore, notifier notify.Notifier, audit *AuditLog, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) IssuanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &issuanceService{
		store:         store,
		notifier:      notifier,
		audit:         audit,
		metrics:       metrics,
		logger:        logger.With(slog.String("service", "issuance")),
		validate:      validator.New(),
		notifyTimeout: config.NotifyTimeout,
	}
}

// Issue creates one license. Key generation retries on digest collisions up
// to a fixed bound; the row is inserted active and unbound. The notification
// is fire-and-forget: delivery failure is logged and the license stays valid,
// since support can resend through a side channel knowing only the suffix.
func (s *issuanceService) Issue(ctx context.Context, input IssuanceInput) (*IssuanceResult, error) {
	if err := s.checkInput(&input); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= config.MaxIssueAttempts; attempt++ {
		key, err := keycodec.Generate()
		if err != nil {
			infrastructure.RecordIssuance(ctx, s.metrics, string(input.Source), attempt-1, false)
			return nil, fmt.Errorf("generate key: %w", err)
		}
		digest := keycodec.Digest(key)

		now := time.Now().UTC()
		lic := &domain.License{
			ID:         uuid.New().String(),
			KeyDigest:  digest,
			KeySuffix:  keycodec.Suffix(key),
			OwnerEmail: input.OwnerEmail,
			OwnerName:  input.OwnerName,
			PlanType:   input.Plan,
			Status:     domain.LicenseStatusActive,
			Source:     input.Source,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = s.store.Insert(ctx, lic)
		if errors.Is(err, licenseErrors.ErrKeyCollision) {
			s.logger.WarnContext(ctx, "key digest collision, regenerating",
				slog.Int("attempt", attempt),
				slog.String("key_ref", keycodec.AuditRef(digest)),
			)
			continue
		}
		if err != nil {
			infrastructure.RecordIssuance(ctx, s.metrics, string(input.Source), attempt-1, false)
			s.logger.ErrorContext(ctx, "license insert failed",
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("insert license: %w", err)
		}

		s.logger.InfoContext(ctx, "license issued",
			slog.String("trace_id", traceIDFrom(ctx)),
			slog.String("license_id", lic.ID),
			slog.String("key_suffix", lic.KeySuffix),
			slog.String("plan", string(lic.PlanType)),
			slog.String("source", string(lic.Source)),
			slog.Int("attempts", attempt),
		)
		s.audit.Record(ctx, AuditEntry{
			Action:    auditActionIssued,
			LicenseID: lic.ID,
			KeyRef:    keycodec.AuditRef(digest),
			KeySuffix: lic.KeySuffix,
			Source:    string(lic.Source),
		})
		infrastructure.RecordIssuance(ctx, s.metrics, string(input.Source), attempt-1, true)

		s.dispatchNotice(lic, key)

		return &IssuanceResult{LicenseID: lic.ID, KeySuffix: lic.KeySuffix}, nil
	}

	infrastructure.RecordIssuance(ctx, s.metrics, string(input.Source), config.MaxIssueAttempts, false)
	s.logger.ErrorContext(ctx, "key generation retries exhausted",
		slog.Int("attempts", config.MaxIssueAttempts),
	)
	return nil, fmt.Errorf("issue license after %d attempts: %w", config.MaxIssueAttempts, licenseErrors.ErrCollisionExhausted)
}

// checkInput validates and defaults the issuance request before any write.
func (s *issuanceService) checkInput(input *IssuanceInput) error {
	if err := s.validate.Var(input.OwnerEmail, "required,email"); err != nil {
		return licenseErrors.NewAppValidationError("owner email must be a valid address")
	}
	if input.Plan == "" {
		input.Plan = domain.PlanStandard
	}
	if !input.Plan.Valid() {
		return licenseErrors.NewAppValidationError(fmt.Sprintf("unknown plan type %q", input.Plan))
	}
	if input.Source == "" {
		input.Source = domain.SourcePurchase
	}
	if !input.Source.Valid() {
		return licenseErrors.NewAppValidationError(fmt.Sprintf("unknown issuance source %q", input.Source))
	}
	return nil
}

// dispatchNotice delivers the one-time plaintext key notice on a detached
// context so request cancellation cannot lose a paid customer's key.
func (s *issuanceService) dispatchNotice(lic *domain.License, key string) {
	if s.notifier == nil {
		return
	}
	notice := notify.Notice{
		OwnerEmail: lic.OwnerEmail,
		OwnerName:  lic.OwnerName,
		LicenseKey: keycodec.Format(key),
		PlanLabel:  lic.PlanType.Label(),
		IssuedAt:   lic.CreatedAt,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		start := time.Now()
		err := s.notifier.Deliver(ctx, notice)
		infrastructure.RecordNotification(ctx, s.metrics, "webhook", time.Since(start), err)
		if err != nil {
			s.logger.Warn("license notification delivery failed, license remains valid",
				slog.String("license_id", lic.ID),
				slog.String("key_suffix", lic.KeySuffix),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// DrainNotifications blocks until queued notice deliveries finish.
func (s *issuanceService) DrainNotifications() {
	s.wg.Wait()
}
