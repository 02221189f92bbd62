package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

const (
	facilitiesKey   = "admission:facilities"
	rulesKey        = "admission:rules"
	lastKnownSuffix = ":last"
	defaultCacheTTL = 5 * time.Minute
)

// Cached puts a redis read-through cache in front of the facility and rule
// tables. A fresh copy expires after the TTL; a last-known copy without
// expiry is served when postgres fails. Writes go straight through.
type Cached struct {
	Repository
	redis  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCached(repo Repository, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{
		Repository: repo,
		redis:      rdb,
		ttl:        ttl,
		logger:     log.WithFields(map[string]interface{}{"component": "repository-cache"}),
	}
}

func (c *Cached) LoadFacilities(ctx context.Context) ([]models.FacilityRecord, error) {
	var out []models.FacilityRecord
	err := c.readThrough(ctx, facilitiesKey, &out, func(ctx context.Context) (interface{}, error) {
		return c.Repository.LoadFacilities(ctx)
	})
	return out, err
}

func (c *Cached) LoadRules(ctx context.Context) (models.RuleSet, error) {
	var out models.RuleSet
	err := c.readThrough(ctx, rulesKey, &out, func(ctx context.Context) (interface{}, error) {
		return c.Repository.LoadRules(ctx)
	})
	return out, err
}

// Invalidate drops the fresh copies so the next load reaches postgres.
func (c *Cached) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, facilitiesKey, rulesKey).Err()
}

func (c *Cached) readThrough(ctx context.Context, key string, dest interface{}, load func(context.Context) (interface{}, error)) error {
	if raw, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		if err := json.Unmarshal(raw, dest); err == nil {
			return nil
		}
		c.logger.Warn("discarding undecodable cache entry", map[string]interface{}{"key": key})
	} else if err != redis.Nil {
		c.logger.Warn("cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	value, loadErr := load(ctx)
	if loadErr != nil {
		raw, err := c.redis.Get(ctx, key+lastKnownSuffix).Bytes()
		if err != nil {
			return loadErr
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return loadErr
		}
		c.logger.Warn("postgres unavailable, serving last known copy", map[string]interface{}{
			"key":   key,
			"error": loadErr.Error(),
		})
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, key, raw, c.ttl)
	pipe.Set(ctx, key+lastKnownSuffix, raw, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return nil
}
