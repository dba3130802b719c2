package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/services"
	"keygate/internal/shared/testutil"
	"keygate/internal/store"
	"keygate/pkg/contracts"
)

func getJSON(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthHandlerHealthz(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	svc := services.NewHealthService(store.NewMemStore(), "1.0.0-test", logger)
	h := NewHealthHandler(svc, logger)

	rec := getJSON(t, h.Routes(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0-test", body["version"])

	checks, ok := body["checks"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", checks["store"])
}

func TestHealthHandlerHealthzDegradedStore(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	svc := services.NewHealthService(failingPingStore{}, "1.0.0-test", logger)
	h := NewHealthHandler(svc, logger)

	rec := getJSON(t, h.Routes(), "/healthz")
	// Liveness stays 200; the body carries the degradation.
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])

	checks, ok := body["checks"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "unreachable", checks["store"])
}

func TestHealthHandlerVersion(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	svc := services.NewHealthService(store.NewMemStore(), "1.0.0-test", logger)
	h := NewHealthHandler(svc, logger)

	rec := getJSON(t, h.Routes(), "/version")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["version"])
	assert.Equal(t, runtime.Version(), body["go_version"])
	// Link-time metadata defaults to unknown in test builds
	assert.Equal(t, contracts.BuildTime, body["built_at"])
	assert.Equal(t, contracts.GitCommit, body["commit"])
}

// failingPingStore reports an unreachable backend for every call.
type failingPingStore struct {
	services.LicenseStore
}

func (failingPingStore) Ping(ctx context.Context) error {
	return context.DeadlineExceeded
}
