package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/keycodec"
	"keygate/internal/services"
	api "keygate/pkg/contracts/api/v1"
)

// LicenseHandler serves the public activation surface. Terminal outcomes are
// always 200 with the closed status envelope; only transient failures become
// RFC 7807 problems, so the response shape never reveals whether a given key
// exists.
type LicenseHandler struct {
	service services.ActivationService
	logger  *slog.Logger
}

// NewLicenseHandler creates the public license handler.
func NewLicenseHandler(service services.ActivationService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the router for /api/v1/license.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/transfer", h.Transfer)
	return r
}

// Activate handles POST /api/v1/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/v1/license/activate"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &api.ActivateRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		h.renderBindError(w, r, "activate", err)
		return
	}

	h.logger.InfoContext(ctx, "activation request",
		slog.String("request_id", reqID),
		slog.String("key_masked", keycodec.Mask(data.LicenseKey)),
	)
	span.SetAttributes(attribute.String("license.key_masked", keycodec.Mask(data.LicenseKey)))

	result, err := h.service.Activate(ctx, data.LicenseKey, data.DeviceID)
	if err != nil {
		span.RecordError(err)
		h.handleError(w, r, "activate", err)
		return
	}

	span.SetAttributes(attribute.String("license.outcome", string(result.Outcome)))
	render.JSON(w, r, activationEnvelope(result))
}

// Transfer handles POST /api/v1/license/transfer. Possession of the plaintext
// key authorizes the rebind; the envelope mirrors activation.
func (h *LicenseHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.transfer",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/v1/license/transfer"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &api.TransferRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		h.renderBindError(w, r, "transfer", err)
		return
	}

	h.logger.InfoContext(ctx, "transfer request",
		slog.String("request_id", reqID),
		slog.String("key_masked", keycodec.Mask(data.LicenseKey)),
	)
	span.SetAttributes(attribute.String("license.key_masked", keycodec.Mask(data.LicenseKey)))

	result, err := h.service.Transfer(ctx, data.LicenseKey, data.NewDeviceID)
	if err != nil {
		span.RecordError(err)
		h.handleError(w, r, "transfer", err)
		return
	}

	span.SetAttributes(attribute.String("license.outcome", string(result.Outcome)))
	render.JSON(w, r, &api.TransferResponse{
		Status: result.Outcome,
		Error:  result.Detail,
	})
}

// activationEnvelope converts a service result into the wire envelope.
func activationEnvelope(result *services.ActivationResult) *api.ActivationResponse {
	return &api.ActivationResponse{
		Status:   result.Outcome,
		PlanType: string(result.PlanType),
		Error:    result.Detail,
	}
}

// renderBindError reports a payload that failed structural validation. The
// license key itself is never validated here, so a 400 only ever means a
// broken client, not a probed key.
func (h *LicenseHandler) renderBindError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	h.logger.WarnContext(ctx, "malformed request payload",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)

	problem := licenseErrors.NewValidationProblem(
		err.Error(),
		licenseErrors.Instance(r.URL.Path, traceID),
		traceID,
	)
	_ = render.Render(w, r, problem)
}

// handleError reports a transient failure. Terminal outcomes never arrive
// here; the service returns those with a nil error.
func (h *LicenseHandler) handleError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	h.logger.ErrorContext(ctx, "license operation failed",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
	)

	problem := licenseErrors.MapServiceError(err, traceID, licenseErrors.Instance(r.URL.Path, traceID))
	_ = render.Render(w, r, problem)
}
