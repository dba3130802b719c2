package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "keygate/internal/errors"
	"keygate/pkg/contracts/domain"
)

func seedLicense(t *testing.T, s *MemStore, digest string) *domain.License {
	t.Helper()
	lic := &domain.License{
		KeyDigest:  digest,
		KeySuffix:  "6789",
		OwnerEmail: "owner@example.com",
		PlanType:   domain.PlanStandard,
		Source:     domain.SourcePurchase,
	}
	require.NoError(t, s.Insert(context.Background(), lic))
	return lic
}

func TestMemStoreInsert(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	lic := seedLicense(t, s, "digest-a")

	assert.NotEmpty(t, lic.ID)
	assert.Equal(t, domain.LicenseStatusActive, lic.Status)
	assert.False(t, lic.CreatedAt.IsZero())
	assert.Nil(t, lic.ActivatedAt)

	t.Run("digest collision", func(t *testing.T) {
		err := s.Insert(ctx, &domain.License{KeyDigest: "digest-a", OwnerEmail: "other@example.com"})
		assert.ErrorIs(t, err, licenseErrors.ErrKeyCollision)
	})
}

func TestMemStoreGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	lic := seedLicense(t, s, "digest-a")

	t.Run("by digest", func(t *testing.T) {
		got, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		assert.Equal(t, lic.ID, got.ID)
	})

	t.Run("by id", func(t *testing.T) {
		got, err := s.GetByID(ctx, lic.ID)
		require.NoError(t, err)
		assert.Equal(t, "digest-a", got.KeyDigest)
	})

	t.Run("unknown digest", func(t *testing.T) {
		_, err := s.GetByDigest(ctx, "missing")
		assert.ErrorIs(t, err, licenseErrors.ErrLicenseNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, licenseErrors.ErrLicenseNotFound)
	})

	t.Run("returned row is a copy", func(t *testing.T) {
		got, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		got.DeviceBinding = "tampered"

		fresh, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		assert.Empty(t, fresh.DeviceBinding)
	})
}

func TestMemStoreBindDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim wins and sets activated_at", func(t *testing.T) {
		s := NewMemStore()
		seedLicense(t, s, "digest-a")

		bound, err := s.BindDevice(ctx, "digest-a", "device-1")
		require.NoError(t, err)
		assert.True(t, bound)

		lic, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		assert.Equal(t, "device-1", lic.DeviceBinding)
		require.NotNil(t, lic.ActivatedAt)
	})

	t.Run("idempotent for the same fingerprint", func(t *testing.T) {
		s := NewMemStore()
		seedLicense(t, s, "digest-a")

		_, err := s.BindDevice(ctx, "digest-a", "device-1")
		require.NoError(t, err)

		lic, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		firstActivation := *lic.ActivatedAt

		bound, err := s.BindDevice(ctx, "digest-a", "device-1")
		require.NoError(t, err)
		assert.True(t, bound)

		lic, err = s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		assert.Equal(t, firstActivation, *lic.ActivatedAt, "re-activation must not refresh activated_at")
	})

	t.Run("foreign fingerprint is rejected without mutation", func(t *testing.T) {
		s := NewMemStore()
		seedLicense(t, s, "digest-a")

		_, err := s.BindDevice(ctx, "digest-a", "device-1")
		require.NoError(t, err)

		bound, err := s.BindDevice(ctx, "digest-a", "device-2")
		require.NoError(t, err)
		assert.False(t, bound)

		lic, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		assert.Equal(t, "device-1", lic.DeviceBinding)
	})

	t.Run("revoked license cannot be bound", func(t *testing.T) {
		s := NewMemStore()
		lic := seedLicense(t, s, "digest-a")

		_, err := s.Revoke(ctx, lic.ID)
		require.NoError(t, err)

		bound, err := s.BindDevice(ctx, "digest-a", "device-1")
		require.NoError(t, err)
		assert.False(t, bound)
	})

	t.Run("unknown digest", func(t *testing.T) {
		s := NewMemStore()

		bound, err := s.BindDevice(ctx, "missing", "device-1")
		require.NoError(t, err)
		assert.False(t, bound)
	})
}

func TestMemStoreConcurrentFirstClaims(t *testing.T) {
	ctx := context.Background()

	// Many rounds to give interleavings a chance to surface
	for round := 0; round < 50; round++ {
		s := NewMemStore()
		seedLicense(t, s, "digest-a")

		const claimants = 8
		var (
			wg      sync.WaitGroup
			winners int32
			mu      sync.Mutex
			winner  string
		)

		start := make(chan struct{})
		for i := 0; i < claimants; i++ {
			wg.Add(1)
			fp := string(rune('a'+i)) + "-device"
			go func() {
				defer wg.Done()
				<-start
				bound, err := s.BindDevice(ctx, "digest-a", fp)
				assert.NoError(t, err)
				if bound {
					mu.Lock()
					winners++
					winner = fp
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()

		require.EqualValues(t, 1, winners, "exactly one concurrent claimant may win")

		lic, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		assert.Equal(t, winner, lic.DeviceBinding)
	}
}

func TestMemStoreRebindDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("moves binding and refreshes activated_at", func(t *testing.T) {
		s := NewMemStore()
		seedLicense(t, s, "digest-a")

		_, err := s.BindDevice(ctx, "digest-a", "device-1")
		require.NoError(t, err)
		before, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		moved, err := s.RebindDevice(ctx, "digest-a", "device-2")
		require.NoError(t, err)
		assert.True(t, moved)

		after, err := s.GetByDigest(ctx, "digest-a")
		require.NoError(t, err)
		assert.Equal(t, "device-2", after.DeviceBinding)
		assert.True(t, after.ActivatedAt.After(*before.ActivatedAt),
			"transfer must refresh activated_at")
	})

	t.Run("revoked license cannot be rebound", func(t *testing.T) {
		s := NewMemStore()
		lic := seedLicense(t, s, "digest-a")

		_, err := s.Revoke(ctx, lic.ID)
		require.NoError(t, err)

		moved, err := s.RebindDevice(ctx, "digest-a", "device-2")
		require.NoError(t, err)
		assert.False(t, moved)
	})

	t.Run("unknown digest", func(t *testing.T) {
		s := NewMemStore()

		moved, err := s.RebindDevice(ctx, "missing", "device-2")
		require.NoError(t, err)
		assert.False(t, moved)
	})
}

func TestMemStoreRevoke(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	lic := seedLicense(t, s, "digest-a")

	revoked, err := s.Revoke(ctx, lic.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	got, err := s.GetByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusRevoked, got.Status)

	t.Run("absorbing", func(t *testing.T) {
		again, err := s.Revoke(ctx, lic.ID)
		require.NoError(t, err)
		assert.False(t, again, "second revoke must report no transition")
	})

	t.Run("binding survives for audit", func(t *testing.T) {
		s := NewMemStore()
		lic := seedLicense(t, s, "digest-b")
		_, err := s.BindDevice(ctx, "digest-b", "device-1")
		require.NoError(t, err)

		_, err = s.Revoke(ctx, lic.ID)
		require.NoError(t, err)

		got, err := s.GetByID(ctx, lic.ID)
		require.NoError(t, err)
		assert.Equal(t, "device-1", got.DeviceBinding)
	})

	t.Run("unknown id", func(t *testing.T) {
		revoked, err := s.Revoke(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}

func TestMemStoreCountByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	seedLicense(t, s, "digest-a")
	seedLicense(t, s, "digest-b")
	lic := seedLicense(t, s, "digest-c")

	_, err := s.Revoke(ctx, lic.ID)
	require.NoError(t, err)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.LicenseStatusActive])
	assert.Equal(t, 1, counts[domain.LicenseStatusRevoked])
}

// BenchmarkMemStoreActivationPath measures the steady-state activation
// sequence: digest lookup plus the idempotent re-bind from the holder.
func BenchmarkMemStoreActivationPath(b *testing.B) {
	ctx := context.Background()
	s := NewMemStore()
	lic := &domain.License{
		KeyDigest:  "digest-bench",
		KeySuffix:  "6789",
		OwnerEmail: "owner@example.com",
		PlanType:   domain.PlanStandard,
		Source:     domain.SourcePurchase,
	}
	if err := s.Insert(ctx, lic); err != nil {
		b.Fatal(err)
	}
	if _, err := s.BindDevice(ctx, "digest-bench", "device-1"); err != nil {
		b.Fatal(err)
	}

	b.Run("GetByDigest", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := s.GetByDigest(ctx, "digest-bench"); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("BindDeviceIdempotent", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := s.BindDevice(ctx, "digest-bench", "device-1"); err != nil {
				b.Fatal(err)
			}
		}
	})
}
