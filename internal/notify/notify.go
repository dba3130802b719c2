// Package notify delivers one-time issuance notices to an out-of-band
// channel. The notice is the only place the plaintext license key exists
// after issuance; the sink forwards it to the delivery endpoint (mail
// bridge, CRM hook) and the server keeps no copy. Delivery is
// fire-and-forget: the issuance result never depends on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/keycodec"
)

// Notice is the issuance payload handed to the sink. LicenseKey is the
// formatted plaintext key; it must never be logged or persisted by any
// Notifier implementation.
type Notice struct {
	OwnerEmail string    `json:"owner_email"`
	OwnerName  string    `json:"owner_name,omitempty"`
	LicenseKey string    `json:"license_key"`
	PlanLabel  string    `json:"plan_label"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Notifier delivers an issuance notice
type Notifier interface {
	Deliver(ctx context.Context, notice Notice) error
}

// WebhookNotifier posts notices as JSON to a configured endpoint
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookNotifier creates a webhook sink with its own bounded client
func NewWebhookNotifier(endpoint string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookNotifier{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: logger,
	}
}

// Deliver posts the notice to the webhook endpoint. Any non-2xx
// response or transport failure reports ErrNotificationFailure.
func (n *WebhookNotifier) Deliver(ctx context.Context, notice Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("%w: marshal notice: %v", licenseErrors.ErrNotificationFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", licenseErrors.ErrNotificationFailure, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "keygate/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", licenseErrors.ErrNotificationFailure, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: endpoint returned status %d", licenseErrors.ErrNotificationFailure, resp.StatusCode)
	}

	n.logger.DebugContext(ctx, "Issuance notice delivered",
		slog.String("key_masked", keycodec.Mask(notice.LicenseKey)),
		slog.String("plan", notice.PlanLabel))

	return nil
}

// Noop is the sink used when notification delivery is disabled
type Noop struct{}

// Deliver discards the notice
func (Noop) Deliver(context.Context, Notice) error {
	return nil
}
