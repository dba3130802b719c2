package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	licenseErrors "keygate/internal/errors"
	"keygate/pkg/contracts/domain"
)

// MemStore is an in-memory license store with the same guarded-update
// semantics as LicenseRepository. It backs service and handler tests and
// keygen's dry-run mode; nothing ever persists.
type MemStore struct {
	mu       sync.Mutex
	rows     map[string]*domain.License // by id
	byDigest map[string]string          // key_digest -> id
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		rows:     make(map[string]*domain.License),
		byDigest: make(map[string]string),
	}
}

// Insert stores a new license row, reporting ErrKeyCollision when the
// digest is already present.
func (s *MemStore) Insert(_ context.Context, lic *domain.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDigest[lic.KeyDigest]; exists {
		return licenseErrors.ErrKeyCollision
	}

	if lic.ID == "" {
		lic.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	lic.CreatedAt = now
	lic.UpdatedAt = now
	if lic.Status == "" {
		lic.Status = domain.LicenseStatusActive
	}

	stored := *lic
	s.rows[stored.ID] = &stored
	s.byDigest[stored.KeyDigest] = stored.ID

	return nil
}

// GetByDigest retrieves a copy of the license with the given digest
func (s *MemStore) GetByDigest(_ context.Context, digest string) (*domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return nil, licenseErrors.ErrLicenseNotFound
	}

	out := *s.rows[id]
	return &out, nil
}

// GetByID retrieves a copy of the license with the given id
func (s *MemStore) GetByID(_ context.Context, id string) (*domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.rows[id]
	if !ok {
		return nil, licenseErrors.ErrLicenseNotFound
	}

	out := *lic
	return &out, nil
}

// BindDevice claims the license for a fingerprint under the store lock,
// mirroring the repository's conditional UPDATE: the row changes only
// when active and unbound or already bound to the same fingerprint.
func (s *MemStore) BindDevice(_ context.Context, digest, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return false, nil
	}

	lic := s.rows[id]
	if lic.Status != domain.LicenseStatusActive {
		return false, nil
	}
	if lic.DeviceBinding != "" && lic.DeviceBinding != fingerprint {
		return false, nil
	}

	now := time.Now().UTC()
	lic.DeviceBinding = fingerprint
	if lic.ActivatedAt == nil {
		lic.ActivatedAt = &now
	}
	lic.UpdatedAt = now

	return true, nil
}

// RebindDevice moves an active license to a new fingerprint and
// refreshes the activation time.
func (s *MemStore) RebindDevice(_ context.Context, digest, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return false, nil
	}

	lic := s.rows[id]
	if lic.Status != domain.LicenseStatusActive {
		return false, nil
	}

	now := time.Now().UTC()
	lic.DeviceBinding = fingerprint
	lic.ActivatedAt = &now
	lic.UpdatedAt = now

	return true, nil
}

// Revoke terminates an active license, reporting whether the row
// transitioned.
func (s *MemStore) Revoke(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	if lic.Status != domain.LicenseStatusActive {
		return false, nil
	}

	lic.Status = domain.LicenseStatusRevoked
	lic.UpdatedAt = time.Now().UTC()

	return true, nil
}

// CountByStatus returns license counts keyed by status
func (s *MemStore) CountByStatus(_ context.Context) (map[domain.LicenseStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.LicenseStatus]int)
	for _, lic := range s.rows {
		counts[lic.Status]++
	}
	return counts, nil
}

// Ping always succeeds
func (s *MemStore) Ping(_ context.Context) error {
	return nil
}
