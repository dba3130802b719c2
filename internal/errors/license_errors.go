package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel errors shared across the store, services and transport layers.
// Public activation responses never carry these directly; they collapse into
// the closed outcome enumeration. The sentinels exist for errors.Is plumbing
// on the authenticated and internal surfaces.
var (
	ErrLicenseNotFound     = errors.New("license not found")
	ErrKeyCollision        = errors.New("key digest collision")
	ErrCollisionExhausted  = errors.New("key generation retries exhausted")
	ErrStoreUnavailable    = errors.New("license store unavailable")
	ErrNotificationFailure = errors.New("notification delivery failed")
	ErrTrialActive         = errors.New("trial already active for this device")
)

// RFC 7807 problem type URIs. Public license endpoints return the closed
// envelope instead; these cover transport-level failures and the
// authenticated surfaces.
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeUnauthorized = "/errors/unauthorized"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// NewValidationProblem reports a malformed request on an authenticated
// surface. Public activation input never reaches this path; key-shaped
// problems collapse into the generic invalid outcome instead.
func NewValidationProblem(detail, instance, traceID string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusBadRequest,
		TypeValidation,
		"Request Validation Failed",
		detail,
		instance,
	).WithExtension("trace_id", traceID)
}

// NewUnauthorizedProblem reports a missing or wrong shared secret. The detail
// is deliberately constant; it never echoes what was presented.
func NewUnauthorizedProblem(instance, traceID string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusUnauthorized,
		TypeUnauthorized,
		"Unauthorized",
		"A valid shared secret is required for this operation.",
		instance,
	).WithExtension("trace_id", traceID)
}

// NewRateLimitProblem reports request throttling with a retry hint.
func NewRateLimitProblem(instance, traceID string, retryAfterSeconds int) *ProblemDetails {
	return NewProblemDetails(
		http.StatusTooManyRequests,
		TypeRateLimit,
		"Too Many Requests",
		"Too many requests from this address. Please try again later.",
		instance,
	).WithExtension("trace_id", traceID).
		WithExtension("retry_after", retryAfterSeconds)
}

// MapServiceError maps internal errors to HTTP problem details for the
// authenticated and operational surfaces. Nothing here leaks storage detail;
// the cause stays in server-side logs.
func MapServiceError(err error, traceID, instance string) render.Renderer {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The operation did not complete in time. It is safe to retry.",
			instance,
		).WithExtension("trace_id", traceID)

	case errors.Is(err, context.Canceled):
		return NewProblemDetails(
			http.StatusRequestTimeout,
			TypeTimeout,
			"Request Cancelled",
			"The request was cancelled before completion.",
			instance,
		).WithExtension("trace_id", traceID)

	case errors.Is(err, ErrLicenseNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"License Not Found",
			"No license exists with the given identifier.",
			instance,
		).WithExtension("trace_id", traceID)

	case errors.Is(err, ErrCollisionExhausted):
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Issuance Failed",
			"Could not allocate a unique license key. Please retry.",
			instance,
		).WithExtension("trace_id", traceID)

	case errors.Is(err, ErrStoreUnavailable):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeServiceDown,
			"Service Unavailable",
			"The license store is temporarily unreachable. It is safe to retry.",
			instance,
		).WithExtension("trace_id", traceID)

	default:
		var appErr *AppError
		if errors.As(err, &appErr) && appErr.Type == ErrTypeValidation {
			return NewValidationProblem(appErr.Message, instance, traceID)
		}
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID)
	}
}

// Instance builds the RFC 7807 instance path for an endpoint and trace id.
func Instance(endpoint, traceID string) string {
	return fmt.Sprintf("%s#trace-%s", endpoint, traceID)
}
