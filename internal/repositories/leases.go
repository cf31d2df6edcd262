package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rohits-web03/clientvault/internal/apperr"
)

// LeaseRepository stores per-owner build leases. A lease row can only be
// taken over once it has expired.
type LeaseRepository struct {
	db *gorm.DB
}

func NewLeaseRepository(db *gorm.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

const acquireLeaseSQL = `
INSERT INTO build_leases (owner_id, holder, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (owner_id) DO UPDATE
SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
WHERE build_leases.expires_at <= ?`

// TryAcquire takes the lease for ownerID if it is free or expired.
func (r *LeaseRepository) TryAcquire(ctx context.Context, ownerID uuid.UUID, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Exec(acquireLeaseSQL, ownerID, holder, now.Add(ttl), now)
	if res.Error != nil {
		return false, apperr.Wrap(apperr.KindInternal, "leases.acquire", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release drops the lease if holder still owns it.
func (r *LeaseRepository) Release(ctx context.Context, ownerID uuid.UUID, holder string) error {
	err := r.db.WithContext(ctx).
		Exec(`DELETE FROM build_leases WHERE owner_id = ? AND holder = ?`, ownerID, holder).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "leases.release", err)
	}
	return nil
}

// Extend pushes the lease expiry to until. It reports false when holder no
// longer owns the lease.
func (r *LeaseRepository) Extend(ctx context.Context, ownerID uuid.UUID, holder string, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Exec(`UPDATE build_leases SET expires_at = ? WHERE owner_id = ? AND holder = ?`, until, ownerID, holder)
	if res.Error != nil {
		return false, apperr.Wrap(apperr.KindInternal, "leases.extend", res.Error)
	}
	return res.RowsAffected == 1, nil
}
