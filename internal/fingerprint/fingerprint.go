// Package fingerprint derives a best-effort stable identifier for the
// device the client runs on. The identifier is not cryptographically
// strong; the server never verifies it beyond equality, it stores what
// the client reports.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Identity carries the raw factors behind a device fingerprint, kept
// for support diagnostics. Only the Fingerprint field leaves the device.
type Identity struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUClass    string    `json:"cpu_class"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Provider yields the identifier the client reports on activation and
// transfer calls. An interface so tests can pin a fixed device.
type Provider interface {
	Fingerprint() (string, error)
}

// Manager derives and caches the device identity. Hardware factors are
// stable within a session; the cache avoids rescanning interfaces on
// every activation attempt.
type Manager struct {
	logger *slog.Logger
	ttl    time.Duration

	mu     sync.RWMutex
	cached *Identity
	expiry time.Time
}

const cacheTTL = time.Hour

// NewManager creates a fingerprint manager with a one-hour cache.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With(slog.String("component", "fingerprint")),
		ttl:    cacheTTL,
	}
}

// Fingerprint implements Provider.
func (m *Manager) Fingerprint() (string, error) {
	id, err := m.Identity()
	if err != nil {
		return "", err
	}
	return id.Fingerprint, nil
}

// Identity returns the cached device identity, regenerating it once
// the cache window lapses.
func (m *Manager) Identity() (*Identity, error) {
	m.mu.RLock()
	if m.cached != nil && time.Now().Before(m.expiry) {
		cp := *m.cached
		m.mu.RUnlock()
		return &cp, nil
	}
	m.mu.RUnlock()

	id := m.generate()

	m.mu.Lock()
	m.cached = id
	m.expiry = time.Now().Add(m.ttl)
	m.mu.Unlock()

	cp := *id
	return &cp, nil
}

// Matches reports whether the stored fingerprint still describes this
// device. Used to detect hardware changes under saved license state.
func (m *Manager) Matches(stored string) (bool, error) {
	id, err := m.Identity()
	if err != nil {
		return false, err
	}
	return id.Fingerprint == stored, nil
}

// Components returns the individual factors for diagnostics output.
func (m *Manager) Components() (map[string]string, error) {
	id, err := m.Identity()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"hostname":    id.Hostname,
		"mac_address": id.MACAddress,
		"cpu_class":   id.CPUClass,
		"os":          id.OS,
		"arch":        id.Arch,
	}, nil
}

// ClearCache drops the cached identity so the next call rescans.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.expiry = time.Time{}
}

// generate combines the hardware factors into one short identifier.
// Every factor has a fallback; a partially identifiable device still
// gets a stable fingerprint.
func (m *Manager) generate() *Identity {
	host, err := hostname()
	if err != nil {
		host = "unknown-host"
		m.logger.Warn("hostname unavailable, using fallback",
			slog.String("error", err.Error()),
		)
	}

	mac, err := primaryMAC()
	if err != nil {
		mac = "unknown-mac"
		m.logger.Warn("hardware address unavailable, using fallback",
			slog.String("error", err.Error()),
		)
	}

	cpu := cpuClass()

	combined := strings.Join([]string{host, mac, cpu, runtime.GOOS, runtime.GOARCH}, "|")
	id := &Identity{
		Fingerprint: "fp-" + shortHash(combined),
		Hostname:    host,
		MACAddress:  mac,
		CPUClass:    cpu,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	m.logger.Debug("device fingerprint generated",
		slog.String("fingerprint", id.Fingerprint),
		slog.String("hostname", host),
		slog.String("cpu_class", cpu),
	)
	return id
}

func hostname() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return h, nil
}

// primaryMAC picks the first up, non-loopback interface with a real
// hardware address, falling back to any addressed interface.
func primaryMAC() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	if mac := pickMAC(ifaces, true); mac != "" {
		return mac, nil
	}
	if mac := pickMAC(ifaces, false); mac != "" {
		return mac, nil
	}
	return "", fmt.Errorf("no usable hardware address")
}

const nullMAC = "00:00:00:00:00:00"

func pickMAC(ifaces []net.Interface, requireUp bool) string {
	for _, iface := range ifaces {
		if requireUp && (iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0) {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac != "" && mac != nullMAC {
			return mac
		}
	}
	return ""
}

// cpuClass derives a short stable tag for the processor family. Exact
// identification is not required; the tag only has to survive reboots.
func cpuClass() string {
	switch runtime.GOOS {
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					return shortHash(line)
				}
			}
		}
	case "windows":
		if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			return shortHash(id)
		}
	}
	return shortHash(runtime.GOOS + "-" + runtime.GOARCH)
}

// shortHash normalizes arbitrary hardware strings to 16 hex characters.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
