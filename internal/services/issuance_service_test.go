package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/config"
	licenseErrors "keygate/internal/errors"
	"keygate/internal/keycodec"
	"keygate/internal/notify"
	"keygate/internal/shared/testutil"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

const keyDisplayPattern = `^[2-9A-HJ-KM-NP-Z]{4}(-[2-9A-HJ-KM-NP-Z]{4}){3}$`

// captureNotifier records delivered notices. It can fail deliveries or hold
// them until released, so tests control the fire-and-forget goroutine.
type captureNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
	err     error
	hold    chan struct{}
	done    chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, 16)}
}

func (n *captureNotifier) Deliver(ctx context.Context, notice notify.Notice) error {
	if n.hold != nil {
		select {
		case <-n.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
	select {
	case n.done <- struct{}{}:
	default:
	}
	return n.err
}

func (n *captureNotifier) waitForDelivery(t *testing.T) notify.Notice {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.notices)
	return n.notices[len(n.notices)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func TestIssueDeliversPlaintextOnceAndReturnsSuffix(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	sink := newCaptureNotifier()
	logger, handler := testutil.NewTestLogger(nil)
	svc := NewIssuanceService(st, sink, nil, nil, logger)

	res, err := svc.Issue(ctx, IssuanceInput{
		OwnerEmail: "dana@example.com",
		OwnerName:  "Dana",
		Plan:       domain.PlanProfessional,
		Source:     domain.SourcePartnerGrant,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.LicenseID)
	require.Len(t, res.KeySuffix, 4)

	notice := sink.waitForDelivery(t)
	svc.DrainNotifications()

	assert.Equal(t, "dana@example.com", notice.OwnerEmail)
	assert.Equal(t, "Dana", notice.OwnerName)
	assert.Equal(t, "Professional", notice.PlanLabel)
	assert.Regexp(t, keyDisplayPattern, notice.LicenseKey)

	// The suffix returned to the caller matches the delivered key, and the
	// stored row holds only its digest.
	normalized := keycodec.Normalize(notice.LicenseKey)
	assert.Equal(t, res.KeySuffix, keycodec.Suffix(normalized))

	lic, err := st.GetByDigest(ctx, keycodec.Digest(normalized))
	require.NoError(t, err)
	assert.Equal(t, res.LicenseID, lic.ID)
	assert.Equal(t, domain.LicenseStatusActive, lic.Status)
	assert.Equal(t, domain.SourcePartnerGrant, lic.Source)
	assert.Empty(t, lic.DeviceBinding)
	assert.Nil(t, lic.ActivatedAt)

	testutil.AssertNoSecretLeaked(t, handler, normalized)
	testutil.AssertNoSecretLeaked(t, handler, notice.LicenseKey)
}

func TestIssueValidation(t *testing.T) {
	ctx := context.Background()

	cases := map[string]IssuanceInput{
		"missing email":   {},
		"malformed email": {OwnerEmail: "not-an-address"},
		"unknown plan":    {OwnerEmail: "a@example.com", Plan: domain.PlanType("gold")},
		"unknown source":  {OwnerEmail: "a@example.com", Source: domain.IssuanceSource("giveaway")},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			// Validation failures must reject before any write.
			svc := NewIssuanceService(&stubStore{t: t}, nil, nil, nil, nil)

			res, err := svc.Issue(ctx, input)
			require.Error(t, err)
			assert.Nil(t, res)

			var appErr *licenseErrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, licenseErrors.ErrTypeValidation, appErr.Type)
		})
	}
}

func TestIssueDefaultsPlanAndSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	logger, _ := testutil.NewTestLogger(nil)
	svc := NewIssuanceService(st, nil, nil, nil, logger)

	res, err := svc.Issue(ctx, IssuanceInput{OwnerEmail: "plain@example.com"})
	require.NoError(t, err)

	lic, err := st.GetByID(ctx, res.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStandard, lic.PlanType)
	assert.Equal(t, domain.SourcePurchase, lic.Source)
	assert.Empty(t, lic.OwnerName)
}

func TestIssueRetriesOnDigestCollision(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemStore()
	attempts := 0
	st := &stubStore{t: t,
		insert: func(ctx context.Context, lic *domain.License) error {
			attempts++
			if attempts <= 2 {
				return fmt.Errorf("insert license: %w", licenseErrors.ErrKeyCollision)
			}
			return backing.Insert(ctx, lic)
		},
	}
	logger, handler := testutil.NewTestLogger(nil)
	svc := NewIssuanceService(st, nil, nil, nil, logger)

	res, err := svc.Issue(ctx, IssuanceInput{OwnerEmail: "retry@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, res.KeySuffix, 4)
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "collision")
}

func TestIssueCollisionExhaustion(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	st := &stubStore{t: t,
		insert: func(context.Context, *domain.License) error {
			attempts++
			return fmt.Errorf("insert license: %w", licenseErrors.ErrKeyCollision)
		},
	}
	logger, _ := testutil.NewTestLogger(nil)
	svc := NewIssuanceService(st, nil, nil, nil, logger)

	res, err := svc.Issue(ctx, IssuanceInput{OwnerEmail: "exhausted@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, licenseErrors.ErrCollisionExhausted)
	assert.Nil(t, res)
	assert.Equal(t, config.MaxIssueAttempts, attempts)
}

func TestIssueNotificationFailureLeavesLicenseValid(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	sink := newCaptureNotifier()
	sink.err = fmt.Errorf("delivery endpoint returned 502: %w", licenseErrors.ErrNotificationFailure)
	logger, handler := testutil.NewTestLogger(nil)
	svc := NewIssuanceService(st, sink, nil, nil, logger)

	res, err := svc.Issue(ctx, IssuanceInput{OwnerEmail: "bounce@example.com"})
	require.NoError(t, err, "a bounced notice must not fail issuance")

	sink.waitForDelivery(t)
	svc.DrainNotifications()

	lic, err := st.GetByID(ctx, res.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusActive, lic.Status, "the license stays valid; support resends via the suffix")
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "notification delivery failed")
}

func TestIssueDoesNotWaitForDelivery(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	sink := newCaptureNotifier()
	sink.hold = make(chan struct{})
	logger, _ := testutil.NewTestLogger(nil)
	svc := NewIssuanceService(st, sink, nil, nil, logger)

	res, err := svc.Issue(ctx, IssuanceInput{OwnerEmail: "async@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, res.LicenseID)
	assert.Zero(t, sink.count(), "issuance must return before the notice is delivered")

	close(sink.hold)
	sink.waitForDelivery(t)
	svc.DrainNotifications()
	assert.Equal(t, 1, sink.count())
}

func TestIssueAppendsAuditEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	sink := newCaptureNotifier()
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, _ := testutil.NewTestLogger(nil)
	svc := NewIssuanceService(st, sink, NewAuditLog(auditPath, logger), nil, logger)

	res, err := svc.Issue(ctx, IssuanceInput{OwnerEmail: "audit@example.com", Source: domain.SourcePartnerGrant})
	require.NoError(t, err)
	notice := sink.waitForDelivery(t)
	svc.DrainNotifications()

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, keycodec.Normalize(notice.LicenseKey))
	assert.NotContains(t, content, notice.LicenseKey)
	assert.Contains(t, content, `"action":"issued"`)
	assert.Contains(t, content, `"source":"partner"`)
	assert.Contains(t, content, fmt.Sprintf(`"key_suffix":%q`, res.KeySuffix))

	require.Len(t, strings.Split(strings.TrimSpace(content), "\n"), 1)
}
