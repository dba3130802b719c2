package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/services"
	api "keygate/pkg/contracts/api/v1"
)

// AdminHandler serves the administrative surface. The shared-secret
// middleware runs before any of these handlers, so precise problem details
// are acceptable here. Revocation targets the license id; the admin never
// handles a plaintext key.
type AdminHandler struct {
	service services.ActivationService
	logger  *slog.Logger
	errors  *licenseErrors.ErrorHandler
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(service services.ActivationService, logger *slog.Logger, errorHandler *licenseErrors.ErrorHandler) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = licenseErrors.NewErrorHandler(logger, false)
	}
	return &AdminHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "admin")),
		errors:  errorHandler,
	}
}

// Routes returns the router for /api/v1/admin.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/licenses/revoke", h.Revoke)
	return r
}

// Revoke handles POST /api/v1/admin/licenses/revoke. Revocation is absorbing:
// repeating it on an already revoked license succeeds with a distinguishing
// message rather than an error.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("admin-handler")

	ctx, span := tracer.Start(ctx, "admin_handler.revoke",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/v1/admin/licenses/revoke"),
		),
	)
	defer span.End()

	data := &api.RevokeRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		h.logger.DebugContext(ctx, "rejected malformed revocation request",
			slog.String("error", err.Error()),
		)
		h.errors.HandleError(w, r, licenseErrors.NewAppValidationError(err.Error()))
		return
	}

	span.SetAttributes(attribute.String("license.id", data.LicenseID))

	result, err := h.service.Revoke(ctx, data.LicenseID)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.revoked", result.OK))
	render.JSON(w, r, &api.RevokeResponse{
		OK:      result.OK,
		Message: result.Message,
	})
}
