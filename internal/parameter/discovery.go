// Package parameter implements Parameter Discovery (C2): reconciling the
// metric keys seen on an incoming telemetry message against persisted
// DeviceParameter rows, creating the missing ones idempotently.
package parameter

import (
	"context"
	"fmt"
	"strings"

	"github.com/factoryops/core/internal/domain"
	"github.com/factoryops/core/internal/identity"
	"github.com/factoryops/core/internal/repository"
)

type Discoverer struct {
	cache  *identity.Cache
	params *repository.ParameterRepo
}

func NewDiscoverer(cache *identity.Cache, params *repository.ParameterRepo) *Discoverer {
	return &Discoverer{cache: cache, params: params}
}

// Reconcile ensures every key in metrics has a persisted DeviceParameter,
// consulting the identity cache's known-key set first so a message that
// carries no new keys costs nothing beyond the cache read.
func (d *Discoverer) Reconcile(ctx context.Context, factoryID, deviceID int64, metrics domain.Metrics) error {
	known, err := d.cache.KnownParameterKeys(ctx, factoryID, deviceID)
	if err != nil {
		return fmt.Errorf("parameter: load known keys: %w", err)
	}

	for key, value := range metrics {
		if _, ok := known[key]; ok {
			continue
		}
		dataType := domain.DataTypeFloat
		if value.IsInt() {
			dataType = domain.DataTypeInt
		}
		_, err := d.params.Upsert(ctx, domain.DeviceParameter{
			FactoryID:     factoryID,
			DeviceID:      deviceID,
			ParameterKey:  key,
			DisplayName:   displayName(key),
			DataType:      dataType,
			IsKPISelected: true,
		})
		if err != nil {
			return fmt.Errorf("parameter: upsert %q: %w", key, err)
		}
		d.cache.MarkParameterKeyKnown(deviceID, key)
	}
	return nil
}

// displayName reproduces the original Python handler's
// key.replace("_", " ").title() rule: split on "_"/" " and title-case each
// token (first letter up, remainder down).
func displayName(key string) string {
	fields := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == ' ' })
	for i, f := range fields {
		if f == "" {
			continue
		}
		fields[i] = strings.ToUpper(f[:1]) + strings.ToLower(f[1:])
	}
	return strings.Join(fields, " ")
}
