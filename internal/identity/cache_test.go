package identity

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/factoryops/core/internal/repository"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*Cache, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "pgx")

	c := New(nil,
		repository.NewFactoryRepo(sqlxDB),
		repository.NewDeviceRepo(sqlxDB),
		repository.NewParameterRepo(sqlxDB))
	return c, mock
}

func TestResolveFactory_CacheHitAvoidsSecondQuery(t *testing.T) {
	c, mock := newTestCache(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "slug", "name", "timezone", "created_at", "updated_at"}).
		AddRow(1, "vpc", "Vapi Plant", "Asia/Kolkata", nowRow(), nowRow())
	mock.ExpectQuery("SELECT id, slug, name, timezone, created_at, updated_at").WillReturnRows(rows)

	id, err := c.ResolveFactory(ctx, "vpc")
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	// Second call must be served from L1 without hitting the mock again.
	id2, err := c.ResolveFactory(ctx, "vpc")
	require.NoError(t, err)
	require.EqualValues(t, 1, id2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveFactory_UnknownSlugNegativeCaches(t *testing.T) {
	c, mock := newTestCache(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, slug, name, timezone, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "timezone", "created_at", "updated_at"}))

	_, err := c.ResolveFactory(ctx, "ghost")
	require.ErrorIs(t, err, ErrUnknownFactory)

	// Negative-cached: no second query issued.
	_, err = c.ResolveFactory(ctx, "ghost")
	require.ErrorIs(t, err, ErrUnknownFactory)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnownParameterKeys_MarkAddsWithoutReload(t *testing.T) {
	c, mock := newTestCache(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT parameter_key FROM device_parameters").
		WillReturnRows(sqlmock.NewRows([]string{"parameter_key"}).AddRow("voltage"))

	keys, err := c.KnownParameterKeys(ctx, 1, 10)
	require.NoError(t, err)
	_, ok := keys["voltage"]
	require.True(t, ok)

	c.MarkParameterKeyKnown(10, "current")
	keys, err = c.KnownParameterKeys(ctx, 1, 10)
	require.NoError(t, err)
	require.Contains(t, keys, "current")

	require.NoError(t, mock.ExpectationsWereMet())
}

func nowRow() any { return fixedTime }

// newTestCacheWithRedis wires a real (miniredis-backed) L2 tier so
// InvalidateFactory/InvalidateDevice's Publish path, and Subscribe's
// receiving side, can be exercised end to end.
func newTestCacheWithRedis(t *testing.T) (*Cache, sqlmock.Sqlmock, *redis.Client) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "pgx")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := New(client,
		repository.NewFactoryRepo(sqlxDB),
		repository.NewDeviceRepo(sqlxDB),
		repository.NewParameterRepo(sqlxDB))
	return c, mock, client
}

func TestInvalidateFactory_SubscriberInOtherProcessDropsL1(t *testing.T) {
	publisher, _, client := newTestCacheWithRedis(t)
	subscriber := New(client, publisher.factories, publisher.devices, publisher.params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscriber.Subscribe(ctx)

	// Warm the subscriber's L1 with the entry that's about to be invalidated,
	// simulating a separate process that cached this slug earlier.
	subscriber.l1.Set(slugKey("vpc"), int64(1), slugTTL)

	require.Eventually(t, func() bool {
		publisher.InvalidateFactory(context.Background(), "vpc")
		_, ok := subscriber.l1.Get(slugKey("vpc"))
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestHandleInvalidationMessage_DeviceDropsDeviceAndParamSetEntries(t *testing.T) {
	c, _ := newTestCache(t)
	c.l1.Set(deviceKey(1, "press-09"), int64(42), deviceTTL)
	c.l1.Set(paramSetKey(42), map[string]struct{}{"voltage": {}}, paramSetTTL)

	c.handleInvalidationMessage("device|1|press-09|42")

	_, ok := c.l1.Get(deviceKey(1, "press-09"))
	require.False(t, ok)
	_, ok = c.l1.Get(paramSetKey(42))
	require.False(t, ok)
}

func TestHandleInvalidationMessage_FactoryDropsSlugEntry(t *testing.T) {
	c, _ := newTestCache(t)
	c.l1.Set(slugKey("vpc"), int64(1), slugTTL)

	c.handleInvalidationMessage("factory|vpc")

	_, ok := c.l1.Get(slugKey("vpc"))
	require.False(t, ok)
}
