package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/config"
	"keygate/internal/services"
	"keygate/pkg/contracts"
	api "keygate/pkg/contracts/api/v1"
)

// HealthHandler answers liveness and build identity probes.
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Routes returns the router for the operational endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	r.Get("/version", h.Version)
	return r
}

// Healthz handles GET /api/v1/healthz. It always replies 200; a degraded
// store shows up in the body so probes distinguish liveness from readiness.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Check(r.Context()))
}

// Version handles GET /api/v1/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	build := contracts.CurrentBuild(config.AppVersion)
	render.JSON(w, r, &api.VersionResponse{
		Version:   build.Version,
		GoVersion: build.GoVersion,
		BuiltAt:   build.BuildTime,
		Commit:    build.GitCommit,
	})
}
