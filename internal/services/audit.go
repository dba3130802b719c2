package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"keygate/internal/infrastructure"
)

// Audit actions recorded for license state changes.
const (
	auditActionIssued      = "issued"
	auditActionActivated   = "activated"
	auditActionTransferred = "transferred"
	auditActionRevoked     = "revoked"
)

// AuditEntry is one line of the append-only license audit log. Plaintext keys
// never appear here: KeyRef is a one-way reference derived from the stored
// digest and KeySuffix is the support-facing fragment.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	LicenseID string    `json:"license_id"`
	KeyRef    string    `json:"key_ref"`
	KeySuffix string    `json:"key_suffix,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// AuditLog appends license state changes to a JSONL file. Writes are
// best-effort: a failed append is logged and never fails the operation that
// produced it. A nil AuditLog discards entries, which keeps tests and dry
// runs free of filesystem setup.
type AuditLog struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewAuditLog creates an audit log writing to the given path. The directory
// is created on first append.
func NewAuditLog(path string, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{
		path:   path,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record appends the entry, stamping time and trace correlation. Device ids
// are truncated; the full fingerprint is not needed for the trail.
func (a *AuditLog) Record(ctx context.Context, entry AuditEntry) {
	if a == nil {
		return
	}
	entry.Timestamp = time.Now().UTC()
	if entry.TraceID == "" {
		entry.TraceID = traceIDFrom(ctx)
	}
	entry.DeviceID = truncateDevice(entry.DeviceID)

	if err := a.append(entry); err != nil {
		a.logger.ErrorContext(ctx, "audit append failed",
			slog.String("action", entry.Action),
			slog.String("license_id", entry.LicenseID),
			slog.String("error", err.Error()),
		)
	}
}

func (a *AuditLog) append(entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func truncateDevice(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}

// traceIDFrom pulls request correlation from chi's request id, falling back
// to the active OTel span.
func traceIDFrom(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return infrastructure.TraceIDFromContext(ctx)
}
