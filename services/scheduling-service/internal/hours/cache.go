package hours

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// Store is the durable source behind the cache.
type Store interface {
	Get(ctx context.Context, organizationID string, weekday time.Weekday) (*model.BusinessHours, error)
	List(ctx context.Context, organizationID string) ([]model.BusinessHours, error)
	Upsert(ctx context.Context, h model.BusinessHours) error
}

const tombstone = "none"

type cachedHours struct {
	Start   int  `json:"start"`
	End     int  `json:"end"`
	Enabled bool `json:"enabled"`
}

// CachedRegistry is a Redis read-through cache over Store. Business hours are read-mostly,
// so reads tolerate Redis outages by going straight to the store.
//
// Entries live under a per-organization generation. Invalidation bumps the generation, so a
// fill that raced an Upsert lands under a generation no reader will consult again.
type CachedRegistry struct {
	store   Store
	rdb     redis.Cmdable
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.SchedulingMetrics
}

func NewCachedRegistry(store Store, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger, m *metrics.SchedulingMetrics) *CachedRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRegistry{store: store, rdb: rdb, ttl: ttl, logger: logger, metrics: m}
}

func generationKey(organizationID string) string {
	return "hours:" + organizationID + ":gen"
}

func cacheKey(organizationID string, generation int64, weekday time.Weekday) string {
	return fmt.Sprintf("hours:%s:g%d:%d", organizationID, generation, int(weekday))
}

// generation returns the organization's current cache generation; a missing counter is zero.
func (c *CachedRegistry) generation(ctx context.Context, organizationID string) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey(organizationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *CachedRegistry) Get(ctx context.Context, organizationID string, weekday time.Weekday) (*model.BusinessHours, error) {
	if c.rdb == nil {
		return c.store.Get(ctx, organizationID, weekday)
	}
	gen, err := c.generation(ctx, organizationID)
	if err != nil {
		c.logger.Warn("hours cache generation read failed", "organization_id", organizationID, "err", err)
		return c.store.Get(ctx, organizationID, weekday)
	}
	key := cacheKey(organizationID, gen, weekday)

	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		c.metrics.ObserveHoursCache(true)
		if raw == tombstone {
			return nil, nil
		}
		var ch cachedHours
		if err := json.Unmarshal([]byte(raw), &ch); err == nil {
			return &model.BusinessHours{
				OrganizationID: organizationID,
				Weekday:        weekday,
				Start:          model.Clock(ch.Start),
				End:            model.Clock(ch.End),
				Enabled:        ch.Enabled,
			}, nil
		}
		c.logger.Warn("discarding corrupt hours cache entry", "key", key)
	case errors.Is(err, redis.Nil):
		c.metrics.ObserveHoursCache(false)
	default:
		c.logger.Warn("hours cache read failed", "key", key, "err", err)
	}

	h, err := c.store.Get(ctx, organizationID, weekday)
	if err != nil {
		return nil, err
	}
	value := tombstone
	if h != nil {
		b, _ := json.Marshal(cachedHours{Start: int(h.Start), End: int(h.End), Enabled: h.Enabled})
		value = string(b)
	}
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("hours cache write failed", "key", key, "err", err)
	}
	return h, nil
}

func (c *CachedRegistry) List(ctx context.Context, organizationID string) ([]model.BusinessHours, error) {
	return c.store.List(ctx, organizationID)
}

// Upsert writes through to the store and drops the organization's cached week. A failed
// eviction is logged only; the entry still expires after the TTL.
func (c *CachedRegistry) Upsert(ctx context.Context, h model.BusinessHours) error {
	if err := c.store.Upsert(ctx, h); err != nil {
		return err
	}
	_ = c.Invalidate(ctx, h.OrganizationID)
	return nil
}

// Invalidate retires every cached weekday of the organization by moving it to a new generation.
func (c *CachedRegistry) Invalidate(ctx context.Context, organizationID string) error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Incr(ctx, generationKey(organizationID)).Err(); err != nil {
		c.logger.Warn("hours cache invalidation failed", "organization_id", organizationID, "err", err)
		return err
	}
	return nil
}
