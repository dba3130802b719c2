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
	"keygate/internal/infrastructure"
	"keygate/internal/services"
	api "keygate/pkg/contracts/api/v1"
)

// IssuanceHandler serves the internal surface used by payment-completion
// webhooks and partner grant tooling. The response never carries the key;
// only the display suffix comes back, the key itself travels through the
// owner notification.
type IssuanceHandler struct {
	service services.IssuanceService
	logger  *slog.Logger
}

// NewIssuanceHandler creates the internal issuance handler.
func NewIssuanceHandler(service services.IssuanceService, logger *slog.Logger) *IssuanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IssuanceHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "issuance")),
	}
}

// Routes returns the router for /api/v1/internal.
func (h *IssuanceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/licenses", h.Issue)
	return r
}

// Issue handles POST /api/v1/internal/licenses.
func (h *IssuanceHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("issuance-handler")

	ctx, span := tracer.Start(ctx, "issuance_handler.issue",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/v1/internal/licenses"),
		),
	)
	defer span.End()

	data := &api.IssueRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		traceID := infrastructure.GetTraceID(ctx)
		problem := licenseErrors.NewValidationProblem(
			err.Error(),
			licenseErrors.Instance(r.URL.Path, traceID),
			traceID,
		)
		_ = render.Render(w, r, problem)
		return
	}

	span.SetAttributes(
		attribute.String("license.plan", string(data.Plan())),
		attribute.String("license.source", string(data.Origin())),
	)

	result, err := h.service.Issue(ctx, services.IssuanceInput{
		OwnerEmail: data.OwnerEmail,
		OwnerName:  data.OwnerName,
		Plan:       data.Plan(),
		Source:     data.Origin(),
	})
	if err != nil {
		span.RecordError(err)
		traceID := infrastructure.GetTraceID(ctx)
		h.logger.ErrorContext(ctx, "issuance failed",
			slog.String("error", err.Error()),
			slog.String("trace_id", traceID),
		)
		problem := licenseErrors.MapServiceError(err, traceID, licenseErrors.Instance(r.URL.Path, traceID))
		_ = render.Render(w, r, problem)
		return
	}

	span.SetAttributes(attribute.String("license.suffix", result.KeySuffix))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, &api.IssueResponse{
		Success:  true,
		KeyLast4: result.KeySuffix,
	})
}
