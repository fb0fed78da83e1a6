package domain

import "time"

// Device is a piece of equipment publishing telemetry under one device_key,
// unique within its factory. Devices are never deleted, only deactivated.
type Device struct {
	ID           int64      `db:"id" json:"id"`
	FactoryID    int64      `db:"factory_id" json:"factory_id"`
	DeviceKey    string     `db:"device_key" json:"device_key"`
	Name         *string    `db:"name" json:"name,omitempty"`
	Manufacturer *string    `db:"manufacturer" json:"manufacturer,omitempty"`
	Model        *string    `db:"model" json:"model,omitempty"`
	Region       *string    `db:"region" json:"region,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastSeen     *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DataType is the closed-schema type a DeviceParameter's values take.
type DataType string

const (
	DataTypeFloat  DataType = "float"
	DataTypeInt    DataType = "int"
	DataTypeString DataType = "string"
)

// DeviceParameter is one metric channel on one device, discovered the first
// time its key appears in a telemetry message.
type DeviceParameter struct {
	ID            int64     `db:"id" json:"id"`
	FactoryID     int64     `db:"factory_id" json:"factory_id"`
	DeviceID      int64     `db:"device_id" json:"device_id"`
	ParameterKey  string    `db:"parameter_key" json:"parameter_key"`
	DisplayName   string    `db:"display_name" json:"display_name"`
	Unit          *string   `db:"unit" json:"unit,omitempty"`
	DataType      DataType  `db:"data_type" json:"data_type"`
	IsKPISelected bool      `db:"is_kpi_selected" json:"is_kpi_selected"`
	DiscoveredAt  time.Time `db:"discovered_at" json:"discovered_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
