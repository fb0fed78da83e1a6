package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TelemetrySnapshot is the set of metric values that satisfied a rule at
// the moment it fired, frozen onto the Alert row for later display.
type TelemetrySnapshot map[string]float64

func (t TelemetrySnapshot) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *TelemetrySnapshot) Scan(src any) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain: cannot scan %T into TelemetrySnapshot", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, t)
}

// Alert is a triggered incident. Invariant: FactoryID == rule(RuleID).FactoryID
// == device(DeviceID).FactoryID (spec.md §8).
type Alert struct {
	ID                 int64              `db:"id" json:"id"`
	FactoryID          int64              `db:"factory_id" json:"factory_id"`
	RuleID             int64              `db:"rule_id" json:"rule_id"`
	DeviceID           int64              `db:"device_id" json:"device_id"`
	TriggeredAt        time.Time          `db:"triggered_at" json:"triggered_at"`
	ResolvedAt         *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
	Severity           Severity           `db:"severity" json:"severity"`
	Message            string             `db:"message" json:"message"`
	TelemetrySnapshot  TelemetrySnapshot  `db:"telemetry_snapshot" json:"telemetry_snapshot"`
	NotificationSent   bool               `db:"notification_sent" json:"notification_sent"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
}

// IsActive reports whether the alert still counts against health scoring
// (spec.md §4.8 / §6 "Alert resolve").
func (a Alert) IsActive() bool { return a.ResolvedAt == nil }

// RuleCooldown tracks the last firing of one (rule, device) pair. It also
// serves as the commit marker for alert creation (spec.md §4.6, §9).
type RuleCooldown struct {
	RuleID        int64     `db:"rule_id" json:"rule_id"`
	DeviceID      int64     `db:"device_id" json:"device_id"`
	LastTriggered time.Time `db:"last_triggered" json:"last_triggered"`
}
