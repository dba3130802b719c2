package services

import (
	"context"

	"keygate/pkg/contracts/domain"
)

// LicenseStore is the persistence contract the services depend on. The
// Postgres repository satisfies it in production; the in-memory store stands
// in for tests and dry runs.
//
// The conditional writes (BindDevice, RebindDevice, Revoke) return false with
// a nil error when their guard matched no row. The write itself decides who
// wins a race; callers re-read only to name the reason for a refusal.
type LicenseStore interface {
	Insert(ctx context.Context, lic *domain.License) error
	GetByDigest(ctx context.Context, digest string) (*domain.License, error)
	GetByID(ctx context.Context, id string) (*domain.License, error)
	BindDevice(ctx context.Context, digest, fingerprint string) (bool, error)
	RebindDevice(ctx context.Context, digest, fingerprint string) (bool, error)
	Revoke(ctx context.Context, id string) (bool, error)
	CountByStatus(ctx context.Context) (map[domain.LicenseStatus]int, error)
	Ping(ctx context.Context) error
}
