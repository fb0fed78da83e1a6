package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/factoryops/core/internal/domain"
)

type DeviceRepo struct {
	db *sqlx.DB
}

func NewDeviceRepo(db *sqlx.DB) *DeviceRepo { return &DeviceRepo{db: db} }

// GetByKey scopes the lookup to factory_id explicitly, enforcing the
// tenant-isolation invariant at the data-access boundary rather than relying
// on any implicit/session-level scoping.
func (r *DeviceRepo) GetByKey(ctx context.Context, factoryID int64, deviceKey string) (domain.Device, error) {
	var d domain.Device
	err := r.db.GetContext(ctx, &d, `SELECT id, factory_id, device_key, name, manufacturer, model, region,
		is_active, last_seen, created_at, updated_at
		FROM devices WHERE factory_id = $1 AND device_key = $2`, factoryID, deviceKey)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Device{}, ErrNotFound
	}
	if err != nil {
		return domain.Device{}, fmt.Errorf("repository: get device by key: %w", err)
	}
	return d, nil
}

// EnsureExists idempotently auto-registers a device the first time its key
// is seen on the wire (spec.md §4.1 "Parameter/Device Discovery"). Concurrent
// ingestion workers racing on the same (factory_id, device_key) both succeed;
// ON CONFLICT DO NOTHING makes the insert a no-op on the loser.
func (r *DeviceRepo) EnsureExists(ctx context.Context, factoryID int64, deviceKey string) (domain.Device, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO devices (factory_id, device_key, is_active)
		VALUES ($1, $2, true)
		ON CONFLICT (factory_id, device_key) DO NOTHING`, factoryID, deviceKey)
	if err != nil {
		return domain.Device{}, fmt.Errorf("repository: ensure device exists: %w", err)
	}
	return r.GetByKey(ctx, factoryID, deviceKey)
}

// TouchLastSeen advances last_seen to the max of its current value and at;
// debouncing the write frequency is the ingestion coordinator's job, not
// this repository's, but out-of-order delivery is this query's to guard
// (spec.md §4.4 step 7, §5's last_seen monotonicity invariant).
func (r *DeviceRepo) TouchLastSeen(ctx context.Context, factoryID, deviceID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET last_seen = GREATEST(devices.last_seen, $3), updated_at = now()
		WHERE factory_id = $1 AND id = $2`, factoryID, deviceID, at)
	return err
}

func (r *DeviceRepo) ListByFactory(ctx context.Context, factoryID int64) ([]domain.Device, error) {
	var out []domain.Device
	err := r.db.SelectContext(ctx, &out, `SELECT id, factory_id, device_key, name, manufacturer, model, region,
		is_active, last_seen, created_at, updated_at
		FROM devices WHERE factory_id = $1 ORDER BY id`, factoryID)
	return out, err
}
