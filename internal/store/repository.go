package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	licenseErrors "keygate/internal/errors"
	"keygate/pkg/contracts/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations; issuance retries on it when two keys digest-collide.
const uniqueViolation = pq.ErrorCode("23505")

// LicenseRepository handles license row operations
type LicenseRepository struct {
	db *DB
}

// NewLicenseRepository creates a new license repository
func NewLicenseRepository(db *DB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

// Insert creates a new license row. A duplicate key_digest reports
// ErrKeyCollision so the issuance loop can retry with a fresh key.
func (r *LicenseRepository) Insert(ctx context.Context, lic *domain.License) error {
	query := `
		INSERT INTO licenses (id, key_digest, key_suffix, owner_email, owner_name,
			plan_type, status, device_binding, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if lic.ID == "" {
		lic.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	lic.CreatedAt = now
	lic.UpdatedAt = now
	if lic.Status == "" {
		lic.Status = domain.LicenseStatusActive
	}

	_, err := r.db.ExecContext(ctx, query,
		lic.ID,
		lic.KeyDigest,
		lic.KeySuffix,
		lic.OwnerEmail,
		lic.OwnerName,
		lic.PlanType,
		lic.Status,
		lic.DeviceBinding,
		lic.Source,
		lic.CreatedAt,
		lic.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert license: %w", licenseErrors.ErrKeyCollision)
		}
		return fmt.Errorf("failed to insert license: %w", err)
	}

	return nil
}

// GetByDigest retrieves a license by its key digest
func (r *LicenseRepository) GetByDigest(ctx context.Context, digest string) (*domain.License, error) {
	query := `
		SELECT id, key_digest, key_suffix, owner_email, owner_name,
			plan_type, status, device_binding, source, activated_at, created_at, updated_at
		FROM licenses
		WHERE key_digest = $1
	`

	var lic domain.License
	err := r.db.GetContext(ctx, &lic, query, digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, licenseErrors.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to get license by digest: %w", err)
	}

	trimCharColumns(&lic)
	return &lic, nil
}

// GetByID retrieves a license by its id
func (r *LicenseRepository) GetByID(ctx context.Context, id string) (*domain.License, error) {
	query := `
		SELECT id, key_digest, key_suffix, owner_email, owner_name,
			plan_type, status, device_binding, source, activated_at, created_at, updated_at
		FROM licenses
		WHERE id = $1
	`

	var lic domain.License
	err := r.db.GetContext(ctx, &lic, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, licenseErrors.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to get license by id: %w", err)
	}

	trimCharColumns(&lic)
	return &lic, nil
}

// BindDevice claims the license for a fingerprint with a single guarded
// UPDATE. The row changes only when it is active and either unbound or
// already bound to the same fingerprint, so exactly one of two
// concurrent first claims can win. Returns whether the claim succeeded;
// a false result carries no reason, the caller re-reads to classify.
func (r *LicenseRepository) BindDevice(ctx context.Context, digest, fingerprint string) (bool, error) {
	query := `
		UPDATE licenses
		SET device_binding = $2,
			activated_at = COALESCE(activated_at, NOW()),
			updated_at = NOW()
		WHERE key_digest = $1
			AND status = 'active'
			AND (device_binding = '' OR device_binding = $2)
	`

	result, err := r.db.ExecContext(ctx, query, digest, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to bind device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// RebindDevice moves an active license to a new fingerprint
// unconditionally and refreshes activated_at. Returns whether a row
// changed; false means the license is missing or revoked.
func (r *LicenseRepository) RebindDevice(ctx context.Context, digest, fingerprint string) (bool, error) {
	query := `
		UPDATE licenses
		SET device_binding = $2,
			activated_at = NOW(),
			updated_at = NOW()
		WHERE key_digest = $1
			AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, digest, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to rebind device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// Revoke terminates a license. The binding column is left as-is for
// audit. Returns whether the row transitioned; false means the license
// was already revoked or does not exist.
func (r *LicenseRepository) Revoke(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE licenses
		SET status = 'revoked',
			updated_at = NOW()
		WHERE id = $1
			AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke license: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// CountByStatus returns license counts keyed by status, for health and
// operator reporting.
func (r *LicenseRepository) CountByStatus(ctx context.Context) (map[domain.LicenseStatus]int, error) {
	query := `SELECT status, COUNT(*) AS n FROM licenses GROUP BY status`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.LicenseStatus]int)
	for rows.Next() {
		var (
			status domain.LicenseStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan license count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate license counts: %w", err)
	}

	return counts, nil
}

// Ping verifies store connectivity for health checks
func (r *LicenseRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// isUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// trimCharColumns removes the blank padding CHAR(n) columns carry back
// from the driver.
func trimCharColumns(lic *domain.License) {
	lic.KeyDigest = strings.TrimSpace(lic.KeyDigest)
	lic.KeySuffix = strings.TrimSpace(lic.KeySuffix)
}
