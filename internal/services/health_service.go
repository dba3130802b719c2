package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"keygate/internal/config"
	api "keygate/pkg/contracts/api/v1"
)

// HealthService answers liveness probes. The store check runs under its own
// short deadline so a hung database turns the report degraded instead of
// stalling the probe.
type HealthService struct {
	store     LicenseStore
	version   string
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates a health service for the given store.
func NewHealthService(store LicenseStore, version string, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:     store,
		version:   version,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// Check reports overall health. The process is "healthy" when every
// dependency answers, "degraded" otherwise; the HTTP layer still returns 200
// for degraded so orchestrators distinguish liveness from readiness by body.
func (s *HealthService) Check(ctx context.Context) *api.HealthResponse {
	pingCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
	defer cancel()

	status := "healthy"
	checks := map[string]string{
		"go": runtime.Version(),
	}
	if err := s.store.Ping(pingCtx); err != nil {
		status = "degraded"
		checks["store"] = "unreachable"
		s.logger.WarnContext(ctx, "store ping failed",
			slog.String("error", err.Error()),
		)
	} else {
		checks["store"] = "ok"
	}

	return &api.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    checks,
	}
}
