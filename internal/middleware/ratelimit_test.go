package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/shared/testutil"
)

func throttledRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/activate", nil)
	req.RemoteAddr = remoteAddr
	h.ServeHTTP(rec, req)
	return rec
}

func TestPerIPRateLimiterIsolatesClients(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)

	rl := NewPerIPRateLimiter(1, 2, logger)
	defer rl.Stop()
	h := rl.Handler(okHandler())

	// Client A drains its burst of two, the third request is refused.
	assert.Equal(t, http.StatusOK, throttledRequest(h, "10.0.0.1:41000").Code)
	assert.Equal(t, http.StatusOK, throttledRequest(h, "10.0.0.1:41002").Code)

	rec := throttledRequest(h, "10.0.0.1:41004")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "/errors/rate-limit")
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "rate limit exceeded")

	// Client B has its own bucket and is unaffected.
	assert.Equal(t, http.StatusOK, throttledRequest(h, "10.0.0.2:41000").Code)
}

func TestPerIPRateLimiterKeysByHostNotPort(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	rl := NewPerIPRateLimiter(1, 1, logger)
	defer rl.Stop()
	h := rl.Handler(okHandler())

	assert.Equal(t, http.StatusOK, throttledRequest(h, "192.0.2.7:1001").Code)
	// New source port, same host: still the same bucket.
	assert.Equal(t, http.StatusTooManyRequests, throttledRequest(h, "192.0.2.7:1002").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.9:55555"
	assert.Equal(t, "198.51.100.9", clientIP(req))

	// RealIP already rewrote RemoteAddr to a bare host.
	req.RemoteAddr = "198.51.100.9"
	assert.Equal(t, "198.51.100.9", clientIP(req))
}
