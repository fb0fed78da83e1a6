// Package health implements Health & Staleness (C8): pure derivations over
// device last_seen timestamps and active alert counts. Nothing here is
// stored state; callers may cache the results briefly (spec.md §4.8).
package health

import (
	"time"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/domain"
)

// IsOnline reports whether a device has reported within the online
// threshold (default 10 minutes).
func IsOnline(lastSeen *time.Time, now time.Time) bool {
	if lastSeen == nil {
		return false
	}
	return now.Sub(*lastSeen) <= config.DeviceOnlineThreshold()
}

// IsStale reports whether a live KPI reading has gone past the staleness
// threshold (default 60s), a tighter bound than the online threshold since
// a device can be "online" yet its most recent sample still too old to
// trust for a live dashboard tile.
func IsStale(lastSeen *time.Time, now time.Time) bool {
	if lastSeen == nil {
		return true
	}
	return now.Sub(*lastSeen) > config.KPIStalenessThreshold()
}

// Score computes the factory health score: 100, minus 5 per active
// critical alert, 2 per active high alert, 1 per offline device, clamped
// to [0, 100].
func Score(activeAlerts []domain.Alert, devices []domain.Device, now time.Time) int {
	score := 100

	for _, a := range activeAlerts {
		if !a.IsActive() {
			continue
		}
		switch a.Severity {
		case domain.SeverityCritical:
			score -= config.HealthWeightCritical()
		case domain.SeverityHigh:
			score -= config.HealthWeightHigh()
		}
	}

	for _, d := range devices {
		if !IsOnline(d.LastSeen, now) {
			score -= config.HealthWeightOffline()
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// DeviceStatus is one device's derived health view, the shape the
// dashboard's internal HTTP surface serves.
type DeviceStatus struct {
	DeviceID int64 `json:"device_id"`
	Online   bool  `json:"online"`
}

// DeviceStatuses derives online/offline for every device in a factory.
func DeviceStatuses(devices []domain.Device, now time.Time) []DeviceStatus {
	out := make([]DeviceStatus, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceStatus{DeviceID: d.ID, Online: IsOnline(d.LastSeen, now)})
	}
	return out
}

// FactorySummary is the dashboard-facing health rollup for one factory.
type FactorySummary struct {
	FactoryID     int64 `json:"factory_id"`
	Score         int   `json:"score"`
	OnlineDevices int   `json:"online_devices"`
	TotalDevices  int   `json:"total_devices"`
	ActiveAlerts  int   `json:"active_alerts"`
}

// Summarize combines Score and DeviceStatuses into one response shape.
func Summarize(factoryID int64, activeAlerts []domain.Alert, devices []domain.Device, now time.Time) FactorySummary {
	online := 0
	for _, d := range devices {
		if IsOnline(d.LastSeen, now) {
			online++
		}
	}
	active := 0
	for _, a := range activeAlerts {
		if a.IsActive() {
			active++
		}
	}
	return FactorySummary{
		FactoryID:     factoryID,
		Score:         Score(activeAlerts, devices, now),
		OnlineDevices: online,
		TotalDevices:  len(devices),
		ActiveAlerts:  active,
	}
}
