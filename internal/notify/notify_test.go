package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "keygate/internal/errors"
)

func testNotice() Notice {
	return Notice{
		OwnerEmail: "owner@example.com",
		OwnerName:  "Owner Name",
		LicenseKey: "ABCD-2345-EFGH-6789",
		PlanLabel:  "Professional",
		IssuedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierDeliver(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := n.Deliver(context.Background(), testNotice())
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	// The sink is the one place the plaintext key transits
	assert.Equal(t, "ABCD-2345-EFGH-6789", payload["license_key"])
	assert.Equal(t, "owner@example.com", payload["owner_email"])
	assert.Equal(t, "Professional", payload["plan_label"])
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := n.Deliver(context.Background(), testNotice())
	assert.ErrorIs(t, err, licenseErrors.ErrNotificationFailure)
}

func TestWebhookNotifierEndpointDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // shut down before calling

	n := NewWebhookNotifier(server.URL, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := n.Deliver(context.Background(), testNotice())
	assert.ErrorIs(t, err, licenseErrors.ErrNotificationFailure)
}

func TestWebhookNotifierTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	n := NewWebhookNotifier(server.URL, 50*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := time.Now()
	err := n.Deliver(context.Background(), testNotice())
	assert.ErrorIs(t, err, licenseErrors.ErrNotificationFailure)
	assert.Less(t, time.Since(start), 2*time.Second, "client timeout must bound delivery")
}

func TestNoopDeliver(t *testing.T) {
	assert.NoError(t, Noop{}.Deliver(context.Background(), testNotice()))
}
