package api

import (
	"time"

	"keygate/pkg/contracts/domain"
)

// ActivationResponse is the closed activation envelope. Status is always one
// of the domain.ActivationOutcome values; no internal error detail crosses
// this boundary.
type ActivationResponse struct {
	Status   domain.ActivationOutcome `json:"status"`
	PlanType string                   `json:"plan_type,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// TransferResponse is the closed transfer envelope.
type TransferResponse struct {
	Status domain.ActivationOutcome `json:"status"`
	Error  string                   `json:"error,omitempty"`
}

// RevokeResponse reports the result of an administrative revocation.
type RevokeResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// IssueResponse is the redacted issuance confirmation. Only the suffix leaves
// the service; the plaintext key travels exclusively through the notification
// side channel.
type IssueResponse struct {
	Success  bool   `json:"success"`
	KeyLast4 string `json:"key_last4"`
}

// HealthResponse reports liveness plus dependency checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// VersionResponse identifies the running build.
type VersionResponse struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at,omitempty"`
	Commit    string `json:"commit,omitempty"`
}
