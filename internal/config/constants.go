package config

import "time"

// Application constants for the KeyGate license service
const (
	// Application Info
	AppName    = "KeyGate"
	AppVersion = "1.0.0"

	// Issuance
	MaxIssueAttempts = 10 // digest collision retries before failing the request

	// Trial Window
	TrialDuration   = 14 * 24 * time.Hour
	TrialWarnHours  = 2 // final-hours warning threshold
	TrialTickPeriod = time.Second

	// Network Timeouts
	DefaultHTTPTimeout = 30 * time.Second
	ActivationTimeout  = 10 * time.Second // client-side deadline per activation call
	NotifyTimeout      = 5 * time.Second
	StorePingTimeout   = 2 * time.Second

	// Rate Limiting
	DefaultRateLimitRPS   = 100
	DefaultRateLimitBurst = 50

	// File Paths (relative to executable)
	DefaultDataDir       = "data"
	DefaultLogsDir       = "logs"
	LicenseStateFileName = "license.dat"
	TrialFileName        = "trial.json"
	AuditLogFileName     = "audit.jsonl"
	DefaultLogFileName   = "keygate.log"

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// HTTP surface constants shared by the server and the client activator
const (
	APIBasePath = "/api/v1"

	ActivateEndpoint = "/api/v1/license/activate"
	TransferEndpoint = "/api/v1/license/transfer"
	RevokeEndpoint   = "/api/v1/admin/licenses/revoke"
	IssueEndpoint    = "/api/v1/internal/licenses"
	HealthEndpoint   = "/api/v1/healthz"
	VersionEndpoint  = "/api/v1/version"
	MetricsEndpoint  = "/metrics"
)

// User-facing messages surfaced by the client activator
const (
	MsgActivated      = "License activated. This device is now authorized."
	MsgTransferred    = "License transferred. This device is now authorized."
	MsgDeviceMismatch = "This license is registered to a different device. You can transfer it to this one."
	MsgInvalidKey     = "License key not recognized. Check the key and try again."
	MsgRevoked        = "This license has been revoked. Contact support for assistance."
	MsgTransient      = "Could not reach the license server. Check your connection and try again."
)
