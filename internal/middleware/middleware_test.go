package middleware

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/shared/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func TestRequestIDGeneratesAndPropagates(t *testing.T) {
	var fromChi, fromOwn string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromChi = chimiddleware.GetReqID(r.Context())
		fromOwn = GetReqID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/license/activate", nil)
	RequestID(inner).ServeHTTP(rec, req)

	require.NotEmpty(t, fromOwn)
	_, err := uuid.Parse(fromOwn)
	require.NoError(t, err, "generated request IDs are UUIDs")
	assert.Equal(t, fromOwn, fromChi, "chi's GetReqID must see the same ID")
	assert.Equal(t, fromOwn, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsInbound(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetReqID(r.Context())
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-42")
	RequestID(inner).ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-42", got)
	assert.Equal(t, "client-supplied-42", rec.Header().Get("X-Request-ID"))
}

func TestStructuredLoggerRecordsLifecycle(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/licenses", nil)
	StructuredLogger(logger)(inner).ServeHTTP(rec, req)

	testutil.AssertLogContains(t, handler, slog.LevelInfo, "request started")
	testutil.AssertLogContains(t, handler, slog.LevelInfo, "request completed")
	assert.True(t, handler.ContainsAttr("status", int64(http.StatusCreated)))
	assert.True(t, handler.ContainsAttr("path", "/internal/v1/licenses"))
}

func TestRecovererConvertsPanicToProblem(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	Recoverer(logger)(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "/errors/internal")
	testutil.AssertLogContains(t, handler, slog.LevelError, "panic recovered")
}

func TestTimeoutRepliesGatewayTimeout(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		// Give the outer select time to observe the deadline first.
		time.Sleep(50 * time.Millisecond)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/activate", nil)
	Timeout(10*time.Millisecond, logger)(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "/errors/timeout")
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	SecurityHeaders(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "no HSTS without TLS")

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	SecurityHeaders(okHandler()).ServeHTTP(rec, req)
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestCORS(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"https://ops.example.com"}}

	t.Run("allowed origin is echoed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		CORS(cfg)(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		CORS(cfg)(okHandler()).ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		called := false
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		CORS(cfg)(inner).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, called)
	})
}

func TestGetRoutePatternFallsBackToPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/version", nil)
	assert.Equal(t, "/api/v1/version", getRoutePattern(req))
}
