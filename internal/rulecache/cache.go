// Package rulecache implements C6's candidate-rule-set cache: the
// alerting worker looks up the rules that could fire for a device once per
// task instead of once per rule, keyed by (factory_id, device_id).
// Grounded on identity.Cache's L1 go-cache pattern, generalized here to a
// slice value and invalidated eagerly on rule CRUD through go-redis's
// Pub/Sub (the same client already wired in for the L2 identity tier, per
// sady37-owlBack/owl-common/redis/client.go) rather than relying on TTL
// alone.
package rulecache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/domain"
	"github.com/factoryops/core/internal/repository"
)

const invalidationChannel = "rulecache:invalidate"

// Cache holds candidate rule sets per device, refreshed from Postgres on
// miss and dropped eagerly when a rule for that device is created, edited,
// or (de)activated.
type Cache struct {
	l1    *gocache.Cache
	l2    *redis.Client
	rules *repository.RuleRepo
	sf    singleflight.Group
	ttl   time.Duration
}

func New(l2 *redis.Client, rules *repository.RuleRepo) *Cache {
	ttl := config.RuleCacheTTL()
	return &Cache{
		l1:    gocache.New(ttl, 2*ttl),
		l2:    l2,
		rules: rules,
		ttl:   ttl,
	}
}

func key(factoryID, deviceID int64) string { return fmt.Sprintf("%d:%d", factoryID, deviceID) }

// CandidatesForDevice returns the active rules that could fire for a
// device, coalescing concurrent misses for the same (factory_id,
// device_id) into a single query.
func (c *Cache) CandidatesForDevice(ctx context.Context, factoryID, deviceID int64) ([]domain.Rule, error) {
	ck := key(factoryID, deviceID)
	if v, ok := c.l1.Get(ck); ok {
		return v.([]domain.Rule), nil
	}

	v, err, _ := c.sf.Do(ck, func() (any, error) {
		rules, err := c.rules.CandidatesForDevice(ctx, factoryID, deviceID)
		if err != nil {
			return nil, err
		}
		c.l1.Set(ck, rules, c.ttl)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Rule), nil
}

// Invalidate drops the local entry for one device and, when a shared
// subscriber loop is running (see Subscribe), broadcasts the drop to every
// other process sharing this cache.
func (c *Cache) Invalidate(ctx context.Context, factoryID, deviceID int64) {
	ck := key(factoryID, deviceID)
	c.l1.Delete(ck)
	if c.l2 == nil {
		return
	}
	if err := c.l2.Publish(ctx, invalidationChannel, ck).Err(); err != nil {
		log.Warn().Err(err).Msg("rulecache.invalidation_publish_failed")
	}
}

// InvalidateFactory drops every cached entry for a factory, used when a
// global rule (one with no device scope) changes and every device's
// candidate set is potentially affected.
func (c *Cache) InvalidateFactory(ctx context.Context, factoryID int64) {
	for k := range c.l1.Items() {
		var fid, did int64
		if _, err := fmt.Sscanf(k, "%d:%d", &fid, &did); err == nil && fid == factoryID {
			c.l1.Delete(k)
		}
	}
	if c.l2 == nil {
		return
	}
	if err := c.l2.Publish(ctx, invalidationChannel, fmt.Sprintf("%d:*", factoryID)).Err(); err != nil {
		log.Warn().Err(err).Msg("rulecache.invalidation_publish_failed")
	}
}

// Subscribe listens for invalidation broadcasts from other processes and
// drops the matching local entries. It blocks until ctx is canceled, so
// callers run it in its own goroutine.
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
	var fid, did int64
	if n, err := fmt.Sscanf(payload, "%d:%d", &fid, &did); err == nil && n == 2 {
		c.l1.Delete(payload)
		return
	}
	var fid2 int64
	if n, err := fmt.Sscanf(payload, "%d:*", &fid2); err == nil && n == 1 {
		for k := range c.l1.Items() {
			var f, d int64
			if _, err := fmt.Sscanf(k, "%d:%d", &f, &d); err == nil && f == fid2 {
				c.l1.Delete(k)
			}
		}
	}
}
