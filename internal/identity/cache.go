// Package identity implements the Identity Cache (C1): the multi-tier
// slug -> factory_id, (factory_id, device_key) -> device_id, and
// device_id -> known-parameter-keys lookups the ingestion path leans on for
// every message. Grounded on the teacher pack's two cache idioms:
// patrickmn/go-cache as the L1 tier (PA733-Laundry-Status-Monitor's
// internal/mw/cache.go) and go-redis as the L2 tier
// (sady37-owlBack/owl-common/redis/client.go), with golang.org/x/sync's
// singleflight coalescing concurrent misses into one backend call.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/factoryops/core/internal/domain"
	"github.com/factoryops/core/internal/repository"
)

var ErrUnknownFactory = errors.New("identity: unknown factory slug")
var ErrUnknownDevice = errors.New("identity: unknown device")

const (
	slugTTL     = time.Hour
	deviceTTL   = time.Hour
	paramSetTTL = 10 * time.Minute
	negativeTTL = 30 * time.Second

	invalidationChannel = "identity:invalidate"
	factoryInvalidation = "factory"
	deviceInvalidation  = "device"
)

type negativeMarker struct{}

// Cache is the Identity Cache. All lookups take factory_id explicitly where
// applicable so tenant isolation stays grep-able at the call site rather
// than implicit.
type Cache struct {
	l1        *gocache.Cache
	l2        *redis.Client
	factories *repository.FactoryRepo
	devices   *repository.DeviceRepo
	params    *repository.ParameterRepo
	sf        singleflight.Group
}

func New(l2 *redis.Client, factories *repository.FactoryRepo, devices *repository.DeviceRepo, params *repository.ParameterRepo) *Cache {
	return &Cache{
		l1:        gocache.New(slugTTL, 2*slugTTL),
		l2:        l2,
		factories: factories,
		devices:   devices,
		params:    params,
	}
}

func slugKey(slug string) string          { return "slug:" + slug }
func deviceKey(factoryID int64, key string) string {
	return fmt.Sprintf("dev:%d:%s", factoryID, key)
}
func paramSetKey(deviceID int64) string { return fmt.Sprintf("params:%d", deviceID) }

// ResolveFactory maps a topic slug to a factory_id, coalescing concurrent
// misses for the same slug into a single relational lookup.
func (c *Cache) ResolveFactory(ctx context.Context, slug string) (int64, error) {
	key := slugKey(slug)

	if v, ok := c.l1.Get(key); ok {
		if _, neg := v.(negativeMarker); neg {
			return 0, ErrUnknownFactory
		}
		return v.(int64), nil
	}

	if id, found, err := c.getL2Int(ctx, key); err == nil && found {
		if id < 0 {
			return 0, ErrUnknownFactory
		}
		c.l1.Set(key, id, slugTTL)
		return id, nil
	}

	v, err, _ := c.sf.Do("factory:"+slug, func() (any, error) {
		f, err := c.factories.GetBySlug(ctx, slug)
		if errors.Is(err, repository.ErrNotFound) {
			c.l1.Set(key, negativeMarker{}, negativeTTL)
			c.setL2Int(ctx, key, -1, negativeTTL)
			return nil, ErrUnknownFactory
		}
		if err != nil {
			return nil, err
		}
		c.l1.Set(key, f.ID, slugTTL)
		c.setL2Int(ctx, key, f.ID, slugTTL)
		return f.ID, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// ResolveDevice maps (factory_id, device_key) to a device_id. It does not
// auto-create; callers that want resolve-or-create should use
// ResolveOrCreateDevice.
func (c *Cache) ResolveDevice(ctx context.Context, factoryID int64, key string) (int64, error) {
	ck := deviceKey(factoryID, key)

	if v, ok := c.l1.Get(ck); ok {
		if _, neg := v.(negativeMarker); neg {
			return 0, ErrUnknownDevice
		}
		return v.(int64), nil
	}
	if id, found, err := c.getL2Int(ctx, ck); err == nil && found {
		if id < 0 {
			return 0, ErrUnknownDevice
		}
		c.l1.Set(ck, id, deviceTTL)
		return id, nil
	}

	v, err, _ := c.sf.Do("device:"+ck, func() (any, error) {
		d, err := c.devices.GetByKey(ctx, factoryID, key)
		if errors.Is(err, repository.ErrNotFound) {
			c.l1.Set(ck, negativeMarker{}, negativeTTL)
			c.setL2Int(ctx, ck, -1, negativeTTL)
			return nil, ErrUnknownDevice
		}
		if err != nil {
			return nil, err
		}
		c.l1.Set(ck, d.ID, deviceTTL)
		c.setL2Int(ctx, ck, d.ID, deviceTTL)
		return d.ID, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// ResolveOrCreateDevice implements spec step 4.4#4: read-or-insert, and on a
// unique-constraint race with another worker, re-read to obtain the
// winner's id. Either way the result is cached.
func (c *Cache) ResolveOrCreateDevice(ctx context.Context, factoryID int64, key string) (domain.Device, error) {
	v, err, _ := c.sf.Do("create-device:"+deviceKey(factoryID, key), func() (any, error) {
		d, err := c.devices.GetByKey(ctx, factoryID, key)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.Device{}, err
		}
		d, err = c.devices.EnsureExists(ctx, factoryID, key)
		if err != nil {
			return domain.Device{}, err
		}
		return d, nil
	})
	if err != nil {
		return domain.Device{}, err
	}
	d := v.(domain.Device)
	ck := deviceKey(factoryID, key)
	c.l1.Set(ck, d.ID, deviceTTL)
	c.setL2Int(ctx, ck, d.ID, deviceTTL)
	return d, nil
}

// KnownParameterKeys returns the cached parameter-key set for a device,
// loading it from the relational store on first use so C2 can compute
// new_keys = incoming - cached without a query per message.
func (c *Cache) KnownParameterKeys(ctx context.Context, factoryID, deviceID int64) (map[string]struct{}, error) {
	ck := paramSetKey(deviceID)
	if v, ok := c.l1.Get(ck); ok {
		return v.(map[string]struct{}), nil
	}

	v, err, _ := c.sf.Do("params:"+ck, func() (any, error) {
		keys, err := c.params.ListKeys(ctx, factoryID, deviceID)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			set[k] = struct{}{}
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	set := v.(map[string]struct{})
	c.l1.Set(ck, set, paramSetTTL)
	return set, nil
}

// MarkParameterKeyKnown updates the in-process parameter-set cache after C2
// successfully upserts a new DeviceParameter row.
func (c *Cache) MarkParameterKeyKnown(deviceID int64, key string) {
	ck := paramSetKey(deviceID)
	if v, ok := c.l1.Get(ck); ok {
		set := v.(map[string]struct{})
		set[key] = struct{}{}
		c.l1.Set(ck, set, paramSetTTL)
	}
}

// InvalidateFactory drops the cached slug->id mapping; called when the API
// layer CRUDs a Factory. The drop is also broadcast over the shared Redis
// channel so every other process's L1 tier (e.g. the ingestor's, which
// never shares this process's gocache instance) drops it within seconds
// instead of waiting out slugTTL (spec.md §5).
func (c *Cache) InvalidateFactory(ctx context.Context, slug string) {
	c.l1.Delete(slugKey(slug))
	if c.l2 == nil {
		return
	}
	c.l2.Del(ctx, slugKey(slug))
	c.publish(ctx, factoryInvalidation+"|"+slug)
}

// InvalidateDevice drops the cached device_key->id mapping and its
// parameter set; called on Device CRUD, and broadcast the same way as
// InvalidateFactory.
func (c *Cache) InvalidateDevice(ctx context.Context, factoryID, deviceID int64, key string) {
	c.l1.Delete(deviceKey(factoryID, key))
	c.l1.Delete(paramSetKey(deviceID))
	if c.l2 == nil {
		return
	}
	c.l2.Del(ctx, deviceKey(factoryID, key))
	c.publish(ctx, fmt.Sprintf("%s|%d|%s|%d", deviceInvalidation, factoryID, key, deviceID))
}

func (c *Cache) publish(ctx context.Context, payload string) {
	if err := c.l2.Publish(ctx, invalidationChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Msg("identity.invalidation_publish_failed")
	}
}

// Subscribe listens for invalidation broadcasts from other processes and
// drops the matching local L1 entries. It blocks until ctx is canceled, so
// callers run it in its own goroutine (mirrors rulecache.Cache.Subscribe).
func (c *Cache) Subscribe(ctx context.Context) {
	if c.l2 == nil {
		return
	}
	sub := c.l2.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.handleInvalidationMessage(msg.Payload)
		}
	}
}

func (c *Cache) handleInvalidationMessage(payload string) {
	parts := strings.Split(payload, "|")
	if len(parts) == 0 {
		return
	}
	switch parts[0] {
	case factoryInvalidation:
		if len(parts) != 2 {
			return
		}
		c.l1.Delete(slugKey(parts[1]))
	case deviceInvalidation:
		if len(parts) != 4 {
			return
		}
		factoryID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return
		}
		deviceID, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return
		}
		c.l1.Delete(deviceKey(factoryID, parts[2]))
		c.l1.Delete(paramSetKey(deviceID))
	}
}

func (c *Cache) getL2Int(ctx context.Context, key string) (int64, bool, error) {
	if c.l2 == nil {
		return 0, false, nil
	}
	s, err := c.l2.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (c *Cache) setL2Int(ctx context.Context, key string, id int64, ttl time.Duration) {
	if c.l2 == nil {
		return
	}
	c.l2.Set(ctx, key, strconv.FormatInt(id, 10), ttl)
}
