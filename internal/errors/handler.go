package errors

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// ErrorHandler provides centralized error handling for the authenticated and
// operational surfaces. Public activation endpoints bypass it; they answer
// with the closed outcome envelope.
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "request failed",
		slog.String("error", err.Error()),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("stack", string(debug.Stack()))
	}

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	switch {
	case errors.Is(err, ErrLicenseNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"License Not Found",
			"No license exists with the given identifier.",
			r.URL.Path,
		)

	case errors.Is(err, ErrStoreUnavailable):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeServiceDown,
			"Service Unavailable",
			"The license store is temporarily unreachable. It is safe to retry.",
			r.URL.Path,
		)

	default:
		var appErr *AppError
		if errors.As(err, &appErr) {
			switch appErr.Type {
			case ErrTypeValidation:
				return NewProblemDetails(
					http.StatusBadRequest,
					TypeValidation,
					"Validation Failed",
					appErr.Message,
					r.URL.Path,
				)
			case ErrTypeNotFound:
				return NewProblemDetails(
					http.StatusNotFound,
					TypeNotFound,
					"Resource Not Found",
					appErr.Message,
					r.URL.Path,
				)
			case ErrTypePermission:
				return NewProblemDetails(
					http.StatusForbidden,
					TypeUnauthorized,
					"Forbidden",
					appErr.Message,
					r.URL.Path,
				)
			case ErrTypeStorage, ErrTypeNetwork:
				return NewProblemDetails(
					http.StatusServiceUnavailable,
					TypeServiceDown,
					"Service Unavailable",
					"A dependency is temporarily unreachable. It is safe to retry.",
					r.URL.Path,
				)
			}
		}
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			r.URL.Path,
		)
	}
}
