package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"keygate/internal/config"
	"keygate/internal/fingerprint"
	"keygate/internal/keycodec"
	"keygate/internal/trial"
	api "keygate/pkg/contracts/api/v1"
	"keygate/pkg/contracts/domain"
)

// Result is what the UI renders after an activation or transfer call.
// Outcome is always one of the closed domain values; Message is the
// user-facing text for it.
type Result struct {
	Outcome  domain.ActivationOutcome
	PlanType string
	Message  string
}

// ActivatorConfig wires an Activator. Timeout defaults to the activation
// deadline; Vault and Trial may be nil, which disables local state mirroring
// and trial conversion respectively.
type ActivatorConfig struct {
	BaseURL  string
	Provider fingerprint.Provider
	Vault    *Vault
	Trial    *trial.Tracker
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Activator calls the public activation API on behalf of the desktop UI.
// Every call runs under a hard deadline; a reply that does not arrive in
// time is an error outcome and the user may simply retry.
type Activator struct {
	baseURL    string
	httpClient *http.Client
	provider   fingerprint.Provider
	vault      *Vault
	trial      *trial.Tracker
	logger     *slog.Logger
}

// NewActivator creates an Activator from the config.
func NewActivator(cfg ActivatorConfig) *Activator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.ActivationTimeout
	}
	return &Activator{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		provider:   cfg.Provider,
		vault:      cfg.Vault,
		trial:      cfg.Trial,
		logger:     logger.With(slog.String("component", "activator")),
	}
}

// Activate submits the key for this device. On an activated reply the local
// vault is updated and a running trial is converted; every other reply
// leaves local state untouched.
func (a *Activator) Activate(ctx context.Context, key string) (*Result, error) {
	fp, err := a.provider.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("device fingerprint: %w", err)
	}

	payload := api.ActivateRequest{LicenseKey: key, DeviceID: fp}
	envelope, ok := a.post(ctx, config.ActivateEndpoint, payload)
	if !ok {
		return transientResult(), nil
	}
	return a.settle(ctx, "activate", key, fp, envelope), nil
}

// Transfer rebinds the key to this device.
func (a *Activator) Transfer(ctx context.Context, key string) (*Result, error) {
	fp, err := a.provider.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("device fingerprint: %w", err)
	}

	payload := api.TransferRequest{LicenseKey: key, NewDeviceID: fp}
	envelope, ok := a.post(ctx, config.TransferEndpoint, payload)
	if !ok {
		return transientResult(), nil
	}
	return a.settle(ctx, "transfer", key, fp, envelope), nil
}

// LocalStatus summarizes this device's standing without any network call.
type LocalStatus struct {
	State          string // licensed, trial, unlicensed
	PlanType       string
	KeySuffix      string
	TrialRemaining *trial.Remaining
}

// Status inspects the vault and the trial record. A vault that fails to
// decrypt reads as unlicensed; the file is kept so reactivation can
// overwrite it.
func (a *Activator) Status() (*LocalStatus, error) {
	if a.vault != nil {
		state, err := a.vault.Load()
		if err != nil {
			a.logger.Warn("license state unreadable, treating as unlicensed",
				slog.String("error", err.Error()),
			)
		} else if state != nil {
			return &LocalStatus{
				State:     "licensed",
				PlanType:  state.PlanType,
				KeySuffix: state.KeySuffix,
			}, nil
		}
	}

	if a.trial != nil {
		rem, err := a.trial.RecomputeRemaining()
		if err != nil {
			return nil, fmt.Errorf("trial remaining: %w", err)
		}
		if rem != nil && !rem.Expired {
			return &LocalStatus{State: "trial", TrialRemaining: rem}, nil
		}
	}

	return &LocalStatus{State: "unlicensed"}, nil
}

// Deactivate clears local state only. The server-side binding stays until
// the key is activated elsewhere via transfer.
func (a *Activator) Deactivate() error {
	if a.vault == nil {
		return nil
	}
	if err := a.vault.Clear(); err != nil {
		return err
	}
	a.logger.Info("local license state cleared")
	return nil
}

// post sends the payload and decodes the closed envelope. A false return
// means the attempt failed in transit or on the server; the caller reports
// it retryable. Non-200 replies are never interpreted as key verdicts.
func (a *Activator) post(ctx context.Context, endpoint string, payload any) (*api.ActivationResponse, bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.ErrorContext(ctx, "marshal request", slog.String("error", err.Error()))
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		a.logger.ErrorContext(ctx, "create request", slog.String("error", err.Error()))
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.AppName+"-Client/"+config.AppVersion)

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.WarnContext(ctx, "license server unreachable",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, false
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		a.logger.WarnContext(ctx, "read response", slog.String("error", err.Error()))
		return nil, false
	}

	if resp.StatusCode != http.StatusOK {
		a.logger.WarnContext(ctx, "license server error reply",
			slog.String("endpoint", endpoint),
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, false
	}

	var envelope api.ActivationResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		a.logger.WarnContext(ctx, "malformed envelope", slog.String("error", err.Error()))
		return nil, false
	}
	return &envelope, true
}

// settle maps the envelope onto a Result and runs the local side effects of
// a granting outcome.
func (a *Activator) settle(ctx context.Context, operation, key, fp string, envelope *api.ActivationResponse) *Result {
	a.logger.InfoContext(ctx, "license operation settled",
		slog.String("operation", operation),
		slog.String("key_masked", keycodec.Mask(key)),
		slog.String("outcome", string(envelope.Status)),
	)

	switch envelope.Status {
	case domain.OutcomeActivated:
		a.persistGrant(key, fp, envelope.PlanType)
		return &Result{Outcome: envelope.Status, PlanType: envelope.PlanType, Message: config.MsgActivated}
	case domain.OutcomeTransferred:
		a.persistGrant(key, fp, envelope.PlanType)
		return &Result{Outcome: envelope.Status, PlanType: envelope.PlanType, Message: config.MsgTransferred}
	case domain.OutcomeInvalid:
		return &Result{Outcome: envelope.Status, Message: config.MsgInvalidKey}
	case domain.OutcomeRevoked:
		return &Result{Outcome: envelope.Status, Message: config.MsgRevoked}
	case domain.OutcomeDeviceMismatch:
		return &Result{Outcome: envelope.Status, Message: config.MsgDeviceMismatch}
	default:
		// A status outside the known set means server drift; retryable.
		a.logger.WarnContext(ctx, "unknown outcome in envelope", slog.String("status", string(envelope.Status)))
		return transientResult()
	}
}

// persistGrant mirrors a granting outcome into the vault and converts any
// running trial. The server has already bound this device, so failures here
// are logged and the grant stands.
func (a *Activator) persistGrant(key, fp, planType string) {
	if a.vault != nil {
		normalized := keycodec.Normalize(key)
		state := &LicenseState{
			KeyDigest:   keycodec.Digest(normalized),
			KeySuffix:   keycodec.Suffix(normalized),
			PlanType:    planType,
			Fingerprint: fp,
			ActivatedAt: time.Now().UTC(),
		}
		if err := a.vault.Save(state); err != nil {
			a.logger.Error("persist license state", slog.String("error", err.Error()))
		}
	}

	if a.trial != nil {
		if err := a.trial.ConvertToLicense(); err != nil {
			a.logger.Error("convert trial", slog.String("error", err.Error()))
		}
	}
}

func transientResult() *Result {
	return &Result{Outcome: domain.OutcomeError, Message: config.MsgTransient}
}
