package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/factoryops/core/internal/domain"
)

type ParameterRepo struct {
	db *sqlx.DB
}

func NewParameterRepo(db *sqlx.DB) *ParameterRepo { return &ParameterRepo{db: db} }

// Upsert registers a parameter the first time its key is seen on a device,
// or is a no-op if already known. display_name/data_type are only set on
// first insert; an operator's later edits in the UI are not clobbered by
// rediscovery (spec.md §4.2).
func (r *ParameterRepo) Upsert(ctx context.Context, p domain.DeviceParameter) (domain.DeviceParameter, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO device_parameters
		(factory_id, device_id, parameter_key, display_name, unit, data_type, is_kpi_selected)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, parameter_key) DO NOTHING`,
		p.FactoryID, p.DeviceID, p.ParameterKey, p.DisplayName, p.Unit, p.DataType, p.IsKPISelected)
	if err != nil {
		return domain.DeviceParameter{}, fmt.Errorf("repository: upsert parameter: %w", err)
	}
	return r.Get(ctx, p.FactoryID, p.DeviceID, p.ParameterKey)
}

func (r *ParameterRepo) Get(ctx context.Context, factoryID, deviceID int64, key string) (domain.DeviceParameter, error) {
	var out domain.DeviceParameter
	err := r.db.GetContext(ctx, &out, `SELECT id, factory_id, device_id, parameter_key, display_name, unit,
		data_type, is_kpi_selected, discovered_at, updated_at
		FROM device_parameters WHERE factory_id = $1 AND device_id = $2 AND parameter_key = $3`,
		factoryID, deviceID, key)
	return out, err
}

// ListKeys returns the known parameter set for a device, used by the C2
// cache layer to short-circuit rediscovery for keys already seen.
func (r *ParameterRepo) ListKeys(ctx context.Context, factoryID, deviceID int64) ([]string, error) {
	var keys []string
	err := r.db.SelectContext(ctx, &keys, `SELECT parameter_key FROM device_parameters
		WHERE factory_id = $1 AND device_id = $2`, factoryID, deviceID)
	return keys, err
}

func (r *ParameterRepo) ListByDevice(ctx context.Context, factoryID, deviceID int64) ([]domain.DeviceParameter, error) {
	var out []domain.DeviceParameter
	err := r.db.SelectContext(ctx, &out, `SELECT id, factory_id, device_id, parameter_key, display_name, unit,
		data_type, is_kpi_selected, discovered_at, updated_at
		FROM device_parameters WHERE factory_id = $1 AND device_id = $2 ORDER BY id`, factoryID, deviceID)
	return out, err
}

func (r *ParameterRepo) ListKPIs(ctx context.Context, factoryID, deviceID int64) ([]domain.DeviceParameter, error) {
	var out []domain.DeviceParameter
	err := r.db.SelectContext(ctx, &out, `SELECT id, factory_id, device_id, parameter_key, display_name, unit,
		data_type, is_kpi_selected, discovered_at, updated_at
		FROM device_parameters WHERE factory_id = $1 AND device_id = $2 AND is_kpi_selected = true ORDER BY id`,
		factoryID, deviceID)
	return out, err
}
