package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/shared/testutil"
	"keygate/internal/store"
)

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy when store answers", func(t *testing.T) {
		logger, _ := testutil.NewTestLogger(nil)
		svc := NewHealthService(store.NewMemStore(), "1.0.0", logger)

		res := svc.Check(ctx)
		require.NotNil(t, res)
		assert.Equal(t, "healthy", res.Status)
		assert.Equal(t, "ok", res.Checks["store"])
		assert.Equal(t, "1.0.0", res.Version)
		assert.NotEmpty(t, res.Uptime)
		assert.False(t, res.Timestamp.IsZero())
	})

	t.Run("degraded when store is down", func(t *testing.T) {
		st := &stubStore{t: t,
			ping: func(context.Context) error { return licenseErrors.ErrStoreUnavailable },
		}
		logger, handler := testutil.NewTestLogger(nil)
		svc := NewHealthService(st, "1.0.0", logger)

		res := svc.Check(ctx)
		assert.Equal(t, "degraded", res.Status)
		assert.Equal(t, "unreachable", res.Checks["store"])
		assert.True(t, handler.ContainsMessage("store ping failed"))
	})
}
