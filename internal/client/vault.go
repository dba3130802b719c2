package client

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters sized for a one-off derivation at save and load time.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256

	vaultSaltLen = 32
	vaultVersion = 1
)

// LicenseState is the local mirror of a successful activation. It never
// contains the plaintext key; the digest is enough to recheck a key the user
// re-enters and the suffix is enough for display.
type LicenseState struct {
	KeyDigest   string    `json:"key_digest"`
	KeySuffix   string    `json:"key_suffix"`
	PlanType    string    `json:"plan_type"`
	Fingerprint string    `json:"device_fingerprint"`
	ActivatedAt time.Time `json:"activated_at"`
}

// encryptedPayload is the on-disk envelope. The GCM tag stays embedded in
// Ciphertext; Salt feeds key derivation per file so reused fingerprints
// never reuse keys.
type encryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Vault persists LicenseState encrypted with an scrypt-derived AES-256-GCM
// key. The derivation secret is the device fingerprint, which binds the file
// to this machine: copied to another device it fails authentication and
// reads as absent state.
type Vault struct {
	path   string
	secret []byte
	logger *slog.Logger
}

// NewVault creates a vault at path keyed to the machine secret, normally the
// device fingerprint.
func NewVault(path, machineSecret string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		path:   path,
		secret: []byte(machineSecret),
		logger: logger.With(slog.String("component", "license-vault")),
	}
}

// Save encrypts and writes the state, replacing any previous file.
func (v *Vault) Save(state *LicenseState) error {
	plaintext, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal license state: %w", err)
	}

	salt := make([]byte, vaultSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	payload := encryptedPayload{
		Version:    vaultVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal vault payload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("write license state: %w", err)
	}

	v.logger.Debug("license state saved",
		slog.String("path", v.path),
		slog.String("key_suffix", state.KeySuffix),
	)
	return nil
}

// Load reads and decrypts the state. A missing file returns (nil, nil). A
// file that fails authentication returns an error; callers treat that as
// unlicensed but must not delete the file, since the cause may be hardware
// drift the user can resolve by reactivating.
func (v *Vault) Load() (*LicenseState, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license state: %w", err)
	}

	var payload encryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse vault payload: %w", err)
	}
	if payload.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported vault version %d", payload.Version)
	}

	gcm, err := v.cipherFor(payload.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt license state: %w", err)
	}

	var state LicenseState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, fmt.Errorf("parse license state: %w", err)
	}
	return &state, nil
}

// Clear removes the state file. Removing an absent file is a no-op.
func (v *Vault) Clear() error {
	if err := os.Remove(v.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove license state: %w", err)
	}
	return nil
}

// cipherFor derives the AES-GCM AEAD for the given salt.
func (v *Vault) cipherFor(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.secret, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
