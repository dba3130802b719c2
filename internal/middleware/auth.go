package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
)

// Header names for the operator surfaces. Revocation and issuance use
// distinct credentials, so a leaked partner secret cannot revoke.
const (
	HeaderAdminSecret   = "X-Admin-Secret"
	HeaderPartnerSecret = "X-Partner-Secret"
)

// SharedSecret gates a route group behind an out-of-band secret carried
// in the given header. Values are hashed before the constant-time
// comparison; neither the configured secret nor the presented value is
// ever logged or echoed. An empty configured secret disables the
// surface entirely rather than leaving it open.
func SharedSecret(header, secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	expected := sha256.Sum256([]byte(secret))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if secret == "" {
				logger.WarnContext(ctx, "operator surface disabled, secret not configured",
					"method", r.Method,
					"path", r.URL.Path,
					"header", header,
				)
				writeProblem(w, licenseErrors.NewProblemDetails(
					http.StatusServiceUnavailable,
					licenseErrors.TypeServiceDown,
					"Service Unavailable",
					"This operation is not enabled on this server.",
					r.URL.Path,
				).WithExtension("trace_id", infrastructure.GetTraceID(ctx)))
				return
			}

			presented := sha256.Sum256([]byte(r.Header.Get(header)))
			if subtle.ConstantTimeCompare(expected[:], presented[:]) != 1 {
				logger.WarnContext(ctx, "shared secret rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"header", header,
					"remote_addr", clientIP(r),
				)
				writeProblem(w, licenseErrors.NewUnauthorizedProblem(
					r.URL.Path,
					infrastructure.GetTraceID(ctx),
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
