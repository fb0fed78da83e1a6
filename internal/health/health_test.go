package health

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/domain"
)

func setup(t *testing.T) time.Time {
	t.Helper()
	require.NoError(t, config.Load())
	viper.Set("DEVICE_ONLINE_THRESHOLD_S", 600)
	viper.Set("KPI_STALENESS_THRESHOLD_S", 60)
	viper.Set("HEALTH_WEIGHT_CRITICAL", 5)
	viper.Set("HEALTH_WEIGHT_HIGH", 2)
	viper.Set("HEALTH_WEIGHT_OFFLINE", 1)
	return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

func ts(at time.Time) *time.Time { return &at }

func TestIsOnline_WithinThreshold(t *testing.T) {
	now := setup(t)
	require.True(t, IsOnline(ts(now.Add(-9*time.Minute)), now))
	require.False(t, IsOnline(ts(now.Add(-11*time.Minute)), now))
	require.False(t, IsOnline(nil, now))
}

func TestIsStale_TighterThanOnlineThreshold(t *testing.T) {
	now := setup(t)
	require.False(t, IsStale(ts(now.Add(-30*time.Second)), now))
	require.True(t, IsStale(ts(now.Add(-90*time.Second)), now))
	require.True(t, IsStale(nil, now))
}

func TestScore_SubtractsWeightsAndClamps(t *testing.T) {
	now := setup(t)
	alerts := []domain.Alert{
		{Severity: domain.SeverityCritical},
		{Severity: domain.SeverityCritical},
		{Severity: domain.SeverityHigh},
	}
	devices := []domain.Device{
		{LastSeen: ts(now.Add(-1 * time.Minute))},
		{LastSeen: ts(now.Add(-20 * time.Minute))},
	}
	// 100 - 5*2 - 2*1 - 1*1 = 100 - 10 - 2 - 1 = 87
	require.Equal(t, 87, Score(alerts, devices, now))
}

func TestScore_ClampsAtZero(t *testing.T) {
	now := setup(t)
	alerts := make([]domain.Alert, 30)
	for i := range alerts {
		alerts[i] = domain.Alert{Severity: domain.SeverityCritical}
	}
	require.Equal(t, 0, Score(alerts, nil, now))
}

func TestScore_IgnoresResolvedAlerts(t *testing.T) {
	now := setup(t)
	resolvedAt := now
	alerts := []domain.Alert{
		{Severity: domain.SeverityCritical, ResolvedAt: &resolvedAt},
	}
	require.Equal(t, 100, Score(alerts, nil, now))
}

func TestSummarize(t *testing.T) {
	now := setup(t)
	devices := []domain.Device{
		{ID: 1, LastSeen: ts(now.Add(-1 * time.Minute))},
		{ID: 2, LastSeen: ts(now.Add(-20 * time.Minute))},
	}
	alerts := []domain.Alert{{Severity: domain.SeverityHigh}}

	summary := Summarize(10, alerts, devices, now)
	require.Equal(t, int64(10), summary.FactoryID)
	require.Equal(t, 1, summary.OnlineDevices)
	require.Equal(t, 2, summary.TotalDevices)
	require.Equal(t, 1, summary.ActiveAlerts)
	require.Equal(t, 97, summary.Score) // 100 - 2 (high) - 1 (offline)
}
