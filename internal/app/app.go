package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/config"
	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	customMiddleware "keygate/internal/middleware"
	"keygate/internal/notify"
	"keygate/internal/services"
	"keygate/internal/store"
	handlers "keygate/internal/transport/http"
)

// Application represents the assembled license server.
type Application struct {
	Config            *config.Config
	Router            *chi.Mux
	Server            *http.Server
	Store             services.LicenseStore
	ActivationService services.ActivationService
	IssuanceService   services.IssuanceService
	HealthService     *services.HealthService
	Logger            *slog.Logger
	OTelProviders     *infrastructure.OTelProviders
	Metrics           *infrastructure.BusinessMetrics

	db               *store.DB // nil when running on the in-memory store
	audit            *services.AuditLog
	rateLimiter      *customMiddleware.PerIPRateLimiter
	runtimeCollector *infrastructure.RuntimeCollector
}

// NewApplication creates a new application instance with dependency injection
func NewApplication() (*Application, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize the single infrastructure logger
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))

	// Ensure data and log directories exist before anything writes
	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution()

	// Initialize OpenTelemetry
	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	// Create application
	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}

	// Initialize services in order
	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Setup router
	app.setupRouter()

	// Create HTTP server
	app.createServer()

	return app, nil
}

// initializeServices opens the store and wires the service layer
func (a *Application) initializeServices() error {
	licenseStore, err := a.openStore()
	if err != nil {
		return err
	}
	a.Store = licenseStore

	a.audit = services.NewAuditLog(a.Config.GetAuditLogFile(), a.Logger)

	var notifier notify.Notifier = notify.Noop{}
	if a.Config.Notifier.Enabled {
		notifier = notify.NewWebhookNotifier(
			a.Config.Notifier.WebhookURL,
			a.Config.Notifier.Timeout,
			a.Logger,
		)
	}

	a.ActivationService = services.NewActivationService(licenseStore, a.audit, a.Metrics, a.Logger)
	a.IssuanceService = services.NewIssuanceService(licenseStore, notifier, a.audit, a.Metrics, a.Logger)
	a.HealthService = services.NewHealthService(licenseStore, config.AppVersion, a.Logger)

	if a.Config.Security.RateLimit.Enabled {
		a.rateLimiter = customMiddleware.NewPerIPRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		)
	}

	runtimeCollector, err := infrastructure.NewRuntimeCollector(a.OTelProviders.Meter, 0)
	if err != nil {
		return fmt.Errorf("failed to create runtime metrics collector: %w", err)
	}
	a.runtimeCollector = runtimeCollector

	return nil
}

// openStore connects to PostgreSQL when a DSN is configured and falls
// back to the in-memory store otherwise. The fallback keeps local
// development and tests working without a database; issued licenses do
// not survive a restart there, so production deployments set a DSN.
func (a *Application) openStore() (services.LicenseStore, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn("no database DSN configured, using in-memory license store")
		return store.NewMemStore(), nil
	}

	db, err := store.Open(store.Config{
		DSN:             a.Config.Database.DSN,
		MaxOpenConns:    a.Config.Database.MaxOpenConns,
		MaxIdleConns:    a.Config.Database.MaxIdleConns,
		ConnMaxLifetime: a.Config.Database.ConnMaxLifetime,
		ConnectTimeout:  a.Config.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open license store: %w", err)
	}
	a.db = db

	if a.Config.Database.MigrateOnStart {
		migrator, err := store.NewMigrator(db, a.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		if err := migrator.Up(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return store.NewLicenseRepository(db), nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// RequestID and RealIP run ahead of the group so correlation ids and
	// limiter keys are correct even for requests the chain rejects
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Group(func(r chi.Router) {
		otelMiddleware := customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics)
		r.Use(otelMiddleware.Handler)

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.corsConfig()))
		}

		a.setupAPIRoutes(r)
	})

	// Prometheus endpoint stays outside the middleware group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))

		// Operational endpoints
		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/healthz", healthHandler.Healthz)
		r.Get("/version", healthHandler.Version)

		// Public activation surface, rate limited per client address
		r.Group(func(r chi.Router) {
			if a.rateLimiter != nil {
				r.Use(a.rateLimiter.Handler)
			}
			licenseHandler := handlers.NewLicenseHandler(a.ActivationService, a.Logger)
			r.Mount("/license", licenseHandler.Routes())
		})

		// Revocation surface, behind the admin secret
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.SharedSecret(
				customMiddleware.HeaderAdminSecret,
				a.Config.Security.AdminSecret,
				a.Logger,
			))
			errorHandler := licenseErrors.NewErrorHandler(a.Logger, false)
			adminHandler := handlers.NewAdminHandler(a.ActivationService, a.Logger, errorHandler)
			r.Mount("/admin", adminHandler.Routes())
		})

		// Issuance surface, behind the partner secret
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.SharedSecret(
				customMiddleware.HeaderPartnerSecret,
				a.Config.Security.PartnerSecret,
				a.Logger,
			))
			issuanceHandler := handlers.NewIssuanceHandler(a.IssuanceService, a.Logger)
			r.Mount("/internal", issuanceHandler.Routes())
		})
	})
}

// corsConfig builds the cross-origin policy for operator dashboards. The
// secret headers must be allowed or a dashboard on another origin cannot
// reach the gated surfaces.
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
			customMiddleware.HeaderAdminSecret,
			customMiddleware.HeaderPartnerSecret,
		},
		MaxAge: 300,
		Logger: a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the application
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	// Start server
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			// Signal shutdown through context instead of os.Exit
			cancel()
		}
	}()

	// Sample runtime health alongside the business metrics
	go a.runtimeCollector.Start(ctx)

	// Verify the store responds; advisory only, a slow database should
	// not keep the server from coming up and reporting degraded health
	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	return nil
}

// performStartupHealthCheck pings the license store with a short bound.
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
	defer cancel()

	if err := a.Store.Ping(pingCtx); err != nil {
		return fmt.Errorf("license store unreachable: %w", err)
	}
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	// Stop server
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Pending issuance notices carry the only copy of each plaintext
	// key, so they drain before anything closes underneath them
	a.IssuanceService.DrainNotifications()

	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}

	if a.runtimeCollector != nil {
		a.runtimeCollector.Stop()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing license store", slog.String("error", err.Error()))
		}
	}

	// Shutdown OpenTelemetry providers
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")

	// Last so the shutdown itself stays logged when output goes to a file
	return infrastructure.CloseLogFile()
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	// Wait for interrupt, or for the server goroutine to cancel on error
	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "Server stopped, shutting down")
	}

	// Graceful shutdown
	return a.Stop(context.Background())
}
