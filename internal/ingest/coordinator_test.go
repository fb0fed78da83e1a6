package ingest

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/identity"
	"github.com/factoryops/core/internal/repository"
)

func TestPartitionOf_DeterministicAndBounded(t *testing.T) {
	const n = 8
	p1 := partitionOf("acme", "cnc-04", n)
	p2 := partitionOf("acme", "cnc-04", n)
	require.Equal(t, p1, p2)
	require.GreaterOrEqual(t, p1, 0)
	require.Less(t, p1, n)

	// Different devices are not required to land on different partitions,
	// but a different slug/device pair changing the partition at all tells
	// us the hash input includes both fields rather than collapsing them.
	p3 := partitionOf("acme", "cnc-05", n)
	p4 := partitionOf("other", "cnc-04", n)
	require.True(t, p3 != p1 || p4 != p1)
}

func newTestCoordinator(t *testing.T, retryCap int) *Coordinator {
	t.Helper()
	require.NoError(t, config.Load())
	return &Coordinator{
		retryCounts: make(map[string]int),
		retryCap:    retryCap,
		deadLetter:  newDeadLetterFile(filepath.Join(t.TempDir(), "dead-letter.jsonl")),
	}
}

func TestRetryOrDeadLetter_NacksUntilCapThenDeadLetters(t *testing.T) {
	c := newTestCoordinator(t, 2)

	var nacked, acked int
	var mu sync.Mutex
	msg := Message{
		Topic:   "factories/acme/devices/cnc-04/telemetry",
		Payload: []byte(`{"metrics":{"v":1}}`),
		Ack:     func() { mu.Lock(); acked++; mu.Unlock() },
		Nack:    func() { mu.Lock(); nacked++; mu.Unlock() },
	}

	cause := errors.New("relational store unavailable")
	c.retryOrDeadLetter(msg, "device_resolve", cause)
	c.retryOrDeadLetter(msg, "device_resolve", cause)
	require.Equal(t, 2, nacked)
	require.Equal(t, 0, acked)

	c.retryOrDeadLetter(msg, "device_resolve", cause)
	require.Equal(t, 2, nacked)
	require.Equal(t, 1, acked)

	b, err := os.ReadFile(c.deadLetter.path)
	require.NoError(t, err)
	require.Contains(t, string(b), "device_resolve")
}

func TestTouchLastSeen_DebouncesWithinWindow(t *testing.T) {
	require.NoError(t, config.Load())

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE devices SET last_seen").
		WithArgs(int64(10), int64(100), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &Coordinator{
		devices:       repository.NewDeviceRepo(sqlx.NewDb(db, "pgx")),
		lastSeenSeen:  make(map[int64]time.Time),
		lastSeenWrite: make(map[int64]time.Time),
	}

	now := time.Now().UTC()
	c.touchLastSeen(10, 100, now)
	c.touchLastSeen(10, 100, now.Add(time.Millisecond))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveDevice_AutoCreateDisabledSurfacesUnknownDevice(t *testing.T) {
	require.NoError(t, config.Load())
	viper.Set("INGEST_AUTO_CREATE_DEVICE", false)
	defer viper.Set("INGEST_AUTO_CREATE_DEVICE", true)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "pgx")

	factories := repository.NewFactoryRepo(sqlxDB)
	devices := repository.NewDeviceRepo(sqlxDB)
	params := repository.NewParameterRepo(sqlxDB)
	cache := identity.New(nil, factories, devices, params)

	mock.ExpectQuery("SELECT id, factory_id, device_key").
		WithArgs(int64(1), "unregistered-press").
		WillReturnError(sql.ErrNoRows)

	c := &Coordinator{identity: cache}
	_, err = c.resolveDevice(context.Background(), 1, "unregistered-press")
	require.ErrorIs(t, err, identity.ErrUnknownDevice)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveDevice_AutoCreateEnabledCreatesDevice(t *testing.T) {
	require.NoError(t, config.Load())

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "pgx")

	factories := repository.NewFactoryRepo(sqlxDB)
	devices := repository.NewDeviceRepo(sqlxDB)
	params := repository.NewParameterRepo(sqlxDB)
	cache := identity.New(nil, factories, devices, params)

	mock.ExpectQuery("SELECT id, factory_id, device_key").
		WithArgs(int64(1), "press-09").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO devices").
		WithArgs(int64(1), "press-09").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, factory_id, device_key").
		WithArgs(int64(1), "press-09").
		WillReturnRows(sqlmock.NewRows([]string{"id", "factory_id", "device_key", "name", "manufacturer",
			"model", "region", "is_active", "last_seen", "created_at", "updated_at"}).
			AddRow(42, 1, "press-09", nil, nil, nil, nil, true, nil, fixedTestTime, fixedTestTime))

	c := &Coordinator{identity: cache}
	deviceID, err := c.resolveDevice(context.Background(), 1, "press-09")
	require.NoError(t, err)
	require.Equal(t, int64(42), deviceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

var fixedTestTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
