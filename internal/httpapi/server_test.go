package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/identity"
	"github.com/factoryops/core/internal/repository"
	"github.com/factoryops/core/internal/rulecache"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestDeps(t *testing.T) (Deps, sqlmock.Sqlmock) {
	t.Helper()
	require.NoError(t, config.Load())

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "pgx")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	factories := repository.NewFactoryRepo(sqlxDB)
	devices := repository.NewDeviceRepo(sqlxDB)
	params := repository.NewParameterRepo(sqlxDB)
	alerts := repository.NewAlertRepo(sqlxDB)
	rules := repository.NewRuleRepo(sqlxDB)

	return Deps{
		Identity:  identity.New(client, factories, devices, params),
		RuleCache: rulecache.New(client, rules),
		Factories: factories,
		Devices:   devices,
		Alerts:    alerts,
	}, mock
}

func TestHealth_ReturnsOK(t *testing.T) {
	deps, _ := newTestDeps(t)
	app := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvalidateFactory_AcceptsSlugAndReturnsNoContent(t *testing.T) {
	deps, _ := newTestDeps(t)
	app := New(deps)

	req := httptest.NewRequest(http.MethodPost, "/internal/cache/invalidate/factory",
		bytes.NewBufferString(`{"slug":"acme"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestInvalidateDevice_ReturnsNoContent(t *testing.T) {
	deps, _ := newTestDeps(t)
	app := New(deps)

	req := httptest.NewRequest(http.MethodPost, "/internal/cache/invalidate/device",
		bytes.NewBufferString(`{"factory_id":1,"device_id":2,"device_key":"press-1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestFactoryHealth_ReturnsSummary(t *testing.T) {
	deps, mock := newTestDeps(t)
	app := New(deps)

	mock.ExpectQuery("SELECT id, factory_id, device_key").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "factory_id", "device_key", "name", "manufacturer",
			"model", "region", "is_active", "last_seen", "created_at", "updated_at"}).
			AddRow(1, 10, "press-1", nil, nil, nil, nil, true, fixedTime, fixedTime, fixedTime))

	mock.ExpectQuery("SELECT id, factory_id, rule_id").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "factory_id", "rule_id", "device_id", "triggered_at",
			"resolved_at", "severity", "message", "telemetry_snapshot", "notification_sent", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/factories/10/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactoryDevices_RejectsNonNumericID(t *testing.T) {
	deps, _ := newTestDeps(t)
	app := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/factories/not-a-number/devices", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
