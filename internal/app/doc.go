// Package app wires the license server together and owns its lifecycle:
// configuration, logging, OpenTelemetry, the license store, the service
// layer, and the HTTP router.
//
// # Initialization Flow
//
// The startup sequence in NewApplication:
//
//	1. Load configuration from defaults, config file, and environment
//	2. Initialize structured logging and OpenTelemetry
//	3. Open the license store (PostgreSQL, or in-memory when no DSN is set)
//	4. Wire services: activation, issuance, health, audit trail
//	5. Mount handlers behind the middleware chain
//	6. Create the HTTP server
//
// # Surfaces
//
// The router splits the API into three surfaces with distinct guards.
// The public activation endpoints under /api/v1/license are rate limited
// per client address and speak the closed activation envelope. The
// revocation endpoints under /api/v1/admin require the admin shared
// secret, and the issuance endpoints under /api/v1/internal require the
// partner secret. Health, version, and Prometheus metrics are open.
//
// # Graceful Shutdown
//
// Stop drains in-flight requests through http.Server.Shutdown, waits for
// pending issuance notifications to settle, stops the rate limiter
// sweeper and the runtime metrics sampler, closes the database pool, and
// flushes the OpenTelemetry providers. The package never calls os.Exit;
// main owns process exit.
package app
